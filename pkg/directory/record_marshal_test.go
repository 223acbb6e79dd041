package directory

import (
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
)

func TestMarshal_EvenLengthIdentifierGetsPaddingByte(t *testing.T) {
	fields := RecordFields{
		LocationOfExtent:     10,
		DataLength:           2048,
		RecordingDateAndTime: make([]byte, 7),
		FileFlags:            &FileFlags{Directory: true},
		Identifier:           []byte("AB"), // even length -> padding byte required
	}

	data, err := Marshal(fields)
	assert.NoError(t, err)
	assert.Equal(t, int(data[0]), len(data))
	assert.Equal(t, uint8(2), data[32])
	assert.Equal(t, byte(0), data[33+2]) // padding byte present
	assert.Equal(t, 0, len(data)%2)      // overall record length is even
}

func TestMarshal_OddLengthIdentifierNoPadding(t *testing.T) {
	fields := RecordFields{
		LocationOfExtent:     10,
		DataLength:           2048,
		RecordingDateAndTime: make([]byte, 7),
		FileFlags:            &FileFlags{},
		Identifier:           []byte("ABC"),
	}

	data, err := Marshal(fields)
	assert.NoError(t, err)
	assert.Equal(t, uint8(3), data[32])
}

func TestMarshal_RoundTripsThroughUnmarshal(t *testing.T) {
	fields := RecordFields{
		LocationOfExtent:     5,
		DataLength:           4096,
		RecordingDateAndTime: make([]byte, 7),
		FileFlags:            &FileFlags{Directory: true, Existence: true},
		Identifier:           []byte("X"),
	}

	data, err := Marshal(fields)
	assert.NoError(t, err)

	dr := NewRecord(logr.Discard())
	err = dr.Unmarshal(data, nil)
	assert.NoError(t, err)
	assert.Equal(t, fields.LocationOfExtent, dr.LocationOfExtent)
	assert.Equal(t, fields.DataLength, dr.DataLength)
	assert.True(t, dr.FileFlags.Directory)
}

func TestMarshal_RejectsWrongTimestampLength(t *testing.T) {
	_, err := Marshal(RecordFields{
		RecordingDateAndTime: make([]byte, 3),
		FileFlags:            &FileFlags{},
	})
	assert.Error(t, err)
}
