package eltorito

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMarshalValidationEntry_ChecksumsToZero(t *testing.T) {
	data := MarshalValidationEntry(BIOS, "ISOFORGE")
	assert.Len(t, data, 32)
	assert.Equal(t, byte(0x01), data[0])
	assert.Equal(t, byte(0x55), data[0x1E])
	assert.Equal(t, byte(0xAA), data[0x1F])

	var sum uint16
	for i := 0; i < 32; i += 2 {
		sum += binary.LittleEndian.Uint16(data[i : i+2])
	}
	assert.Equal(t, uint16(0), sum)

	assert.NoError(t, parseValidationEntry(data))
}

func TestMarshalEntry_RoundTripsThroughParse(t *testing.T) {
	e := &ElToritoEntry{
		Emulation:     NoEmulation,
		LoadSegment:   0x7C0,
		PartitionType: Fat16,
		location:      SectorOffset(42),
		size:          BlockCount(8),
	}
	data := MarshalEntry(e, 0x88)
	parsed := parseInitialEntry(data)
	assert.Equal(t, e.Emulation, parsed.Emulation)
	assert.Equal(t, e.LoadSegment, parsed.LoadSegment)
	assert.Equal(t, e.location, parsed.location)
	assert.Equal(t, e.size, parsed.size)
}

func TestSetLocation_RoundsUpTo512ByteBlocks(t *testing.T) {
	e := &ElToritoEntry{}
	e.SetLocation(100, 1025)
	assert.Equal(t, SectorOffset(100), e.location)
	assert.Equal(t, BlockCount(3), e.size)
}

func TestPatchBootInfoTable_WritesExpectedFields(t *testing.T) {
	image := make([]byte, 2048)
	for i := range image {
		image[i] = byte(i)
	}
	err := PatchBootInfoTable(image, 16, 100, 2048)
	assert.NoError(t, err)
	assert.Equal(t, uint32(16), binary.LittleEndian.Uint32(image[8:12]))
	assert.Equal(t, uint32(100), binary.LittleEndian.Uint32(image[12:16]))
	assert.Equal(t, uint32(2048), binary.LittleEndian.Uint32(image[16:20]))
	for _, b := range image[24:64] {
		assert.Equal(t, byte(0), b)
	}
}

func TestPatchIsohybridMBR_WritesSignature(t *testing.T) {
	area := make([]byte, 512)
	err := PatchIsohybridMBR(area, 1000)
	assert.NoError(t, err)
	assert.Equal(t, byte(0x55), area[510])
	assert.Equal(t, byte(0xAA), area[511])
	assert.Equal(t, byte(0x80), area[446])
}
