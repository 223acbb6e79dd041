package susp

import (
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
)

func TestMarshalContinuationEntry_RoundTripsThroughUnmarshal(t *testing.T) {
	data := MarshalContinuationEntry(10, 20, 100)
	assert.Equal(t, "CE", string(data[0:2]))
	assert.Equal(t, byte(28), data[2])

	entry := NewSystemUseEntry(CONTINUATION_AREA, data[2], data[4:], logr.Discard())
	ce, err := UnmarshalContinuationEntry(entry)
	assert.NoError(t, err)
	assert.Equal(t, uint32(10), ce.blockLocation)
	assert.Equal(t, uint32(20), ce.offset)
	assert.Equal(t, uint32(100), ce.lengthOfArea)
}

func TestMarshalPaddingField_FillsRequestedLength(t *testing.T) {
	data := MarshalPaddingField(10)
	assert.Equal(t, "PD", string(data[0:2]))
	assert.Len(t, data, 10)
}

func TestMarshalSharingProtocolIndicator_WritesCheckBytes(t *testing.T) {
	data := MarshalSharingProtocolIndicator(0)
	assert.Equal(t, "SP", string(data[0:2]))
	assert.Equal(t, byte(0xBE), data[4])
	assert.Equal(t, byte(0xEF), data[5])
}

func TestMarshalAreaTerminator_IsFourBytes(t *testing.T) {
	data := MarshalAreaTerminator()
	assert.Equal(t, "ST", string(data[0:2]))
	assert.Len(t, data, 4)
}

func TestMarshalExtensionRecord_RoundTripsThroughUnmarshal(t *testing.T) {
	rec := &ExtensionRecord{
		Version:    1,
		Identifier: "RRIP_1991A",
		Descriptor: "THE ROCK RIDGE INTERCHANGE PROTOCOL",
		Source:     "PLEASE CONTACT DISC PUBLISHER",
	}
	data := MarshalExtensionRecord(rec)
	assert.Equal(t, "ER", string(data[0:2]))

	entry := NewSystemUseEntry(EXTENSION_REFERENCE, data[2], data[4:], logr.Discard())
	out, err := UnmarshalExtensionRecord(entry)
	assert.NoError(t, err)
	assert.Equal(t, rec.Identifier, out.Identifier)
	assert.Equal(t, rec.Descriptor, out.Descriptor)
	assert.Equal(t, rec.Source, out.Source)
}

func TestMarshalExtensionSelector_EncodesSequenceNumber(t *testing.T) {
	data := MarshalExtensionSelector(3)
	assert.Equal(t, "ES", string(data[0:2]))
	assert.Equal(t, byte(3), data[4])
}
