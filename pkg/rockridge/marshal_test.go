package rockridge

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMarshalPX_RoundTripsThroughUnmarshal(t *testing.T) {
	data := MarshalPX(0o100644, 1, 1000, 1000, 0, false)
	assert.Equal(t, "PX", string(data[0:2]))
	assert.Equal(t, byte(36), data[2])

	entry, err := UnmarshalRockRidgePosixEntry(data[4:])
	assert.NoError(t, err)
	assert.Equal(t, uint32(1), entry.Links)
	assert.Equal(t, uint32(1000), entry.UserId)
	assert.Equal(t, uint32(1000), entry.GroupId)
}

func TestMarshalPX_WithSerialIncreasesLength(t *testing.T) {
	data := MarshalPX(0o40755, 2, 0, 0, 42, true)
	assert.Equal(t, byte(44), data[2])
	assert.Len(t, data, 44)
}

func TestMarshalNM_RoundTripsThroughUnmarshal(t *testing.T) {
	data := MarshalNM("longfilename.txt", false, false, false)
	assert.Equal(t, "NM", string(data[0:2]))
	assert.Equal(t, uint8(5+len("longfilename.txt")), data[2])

	entry := UnmarshalRockRidgeNameEntry(data[2], data[4:])
	assert.Equal(t, "longfilename.txt", entry.Name)
	assert.False(t, entry.Continue)
}

func TestMarshalNM_ContinueFlagSet(t *testing.T) {
	data := MarshalNM("part1", true, false, false)
	entry := UnmarshalRockRidgeNameEntry(data[2], data[4:])
	assert.True(t, entry.Continue)
}

func TestMarshalTF_OnlyIncludesPresentStamps(t *testing.T) {
	modify := make([]byte, 7)
	access := make([]byte, 7)
	data := MarshalTF(0x03, false, [][]byte{modify, access})
	assert.Equal(t, "TF", string(data[0:2]))
	assert.Equal(t, byte(5+14), data[2])
	assert.Equal(t, byte(0x03), data[4])
}

func TestMarshalTF_LongFormSetsHighBit(t *testing.T) {
	stamp := make([]byte, 17)
	data := MarshalTF(0x01, true, [][]byte{stamp})
	assert.Equal(t, byte(0x81), data[4])
}

func TestMarshalCL_And_PL_Encode12ByteLocation(t *testing.T) {
	cl := MarshalCL(100)
	assert.Equal(t, "CL", string(cl[0:2]))
	assert.Len(t, cl, 12)

	pl := MarshalPL(200)
	assert.Equal(t, "PL", string(pl[0:2]))
	assert.Len(t, pl, 12)
}

func TestMarshalRE_HasNoPayload(t *testing.T) {
	data := MarshalRE()
	assert.Equal(t, "RE", string(data[0:2]))
	assert.Len(t, data, 4)
}

func TestMarshalSL_EncodesRootAndNamedComponents(t *testing.T) {
	data := MarshalSL([]SLComponent{
		{Root: true},
		{Content: "usr"},
		{Content: "bin"},
	}, false)

	assert.Equal(t, "SL", string(data[0:2]))
	assert.Equal(t, byte(0), data[4]) // not continued
	// first component: flags=0x08, len=0
	assert.Equal(t, byte(0x08), data[5])
	assert.Equal(t, byte(0), data[6])
}
