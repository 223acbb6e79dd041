package writeopts

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBasicProfile(t *testing.T) {
	o := Basic()
	assert.Equal(t, 1, o.IsoLevel)
	assert.False(t, o.RockRidge)
	assert.False(t, o.Joliet)
}

func TestBackupProfile(t *testing.T) {
	o := Backup()
	assert.Equal(t, 3, o.IsoLevel)
	assert.True(t, o.RockRidge)
	assert.True(t, o.HardLinks)
}

func TestDistributionProfile(t *testing.T) {
	o := Distribution()
	assert.Equal(t, 2, o.IsoLevel)
	assert.True(t, o.RockRidge)
	assert.True(t, o.Joliet)
	assert.True(t, o.AlwaysGMT)
	assert.Equal(t, AttrDefault, o.ReplaceUID)
	assert.Equal(t, AttrDefault, o.ReplaceDirMode)
	assert.Equal(t, AttrDefault, o.ReplaceTimestamps)
}

func TestOptionsComposeOverProfile(t *testing.T) {
	o := Distribution(WithIsoLevel(3), WithJoliet(false))
	assert.Equal(t, 3, o.IsoLevel)
	assert.False(t, o.Joliet)
	assert.True(t, o.RockRidge, "untouched profile fields survive")
}

func TestDefaults(t *testing.T) {
	o := New()
	assert.Equal(t, 2, o.IsoLevel)
	assert.Equal(t, 64, o.FifoSize)
	assert.Equal(t, uint32(0755), o.DefaultDirMode)
	assert.Equal(t, uint32(0644), o.DefaultFileMode)
}

func TestWithAppendable(t *testing.T) {
	o := New(WithAppendable(1000))
	assert.True(t, o.Appendable)
	assert.Equal(t, uint32(1000), o.MSBlock)
}
