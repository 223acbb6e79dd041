package systemarea

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuild_OpaqueCopiesVerbatim(t *testing.T) {
	var data SystemArea
	data[0] = 0xAB
	area, err := Build(&data, Opaque, 1000)
	assert.NoError(t, err)
	assert.Equal(t, byte(0xAB), area[0])
}

func TestBuild_Opaque_NilDataIsZeroed(t *testing.T) {
	area, err := Build(nil, Opaque, 1000)
	assert.NoError(t, err)
	assert.Equal(t, SystemArea{}, area)
}

func TestBuild_ProtectiveMBR_WritesSignatureAndPartitionEntry(t *testing.T) {
	area, err := Build(nil, ProtectiveMBR, 1000)
	assert.NoError(t, err)
	assert.Equal(t, byte(0x55), area[510])
	assert.Equal(t, byte(0xAA), area[511])
	assert.Equal(t, byte(0x80), area[446])
	assert.Equal(t, byte(0xCD), area[450])
}

func TestBuild_UnknownMode(t *testing.T) {
	_, err := Build(nil, Mode(99), 1000)
	assert.Error(t, err)
}
