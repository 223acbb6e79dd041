package susp

import (
	"github.com/bgrewell/isoforge/pkg/encoding"
)

// entryHeader writes the 4-byte SUSP entry header (BP1-2 signature, BP3 length, BP4 version).
func entryHeader(signature SystemUseEntryType, length uint8, version byte) []byte {
	data := make([]byte, 4)
	copy(data[0:2], string(signature))
	data[2] = length
	data[3] = version
	return data
}

// MarshalContinuationEntry encodes a CE entry: the 28-byte record UnmarshalContinuationEntry
// reads back, pointing to a continuation area holding further system use entries.
func MarshalContinuationEntry(blockLocation, offset, lengthOfArea uint32) []byte {
	data := entryHeader(CONTINUATION_AREA, 28, 1)
	var buf [8]byte
	encoding.WriteInt32LSBMSB(buf[:], int32(blockLocation))
	data = append(data, buf[:]...)
	encoding.WriteInt32LSBMSB(buf[:], int32(offset))
	data = append(data, buf[:]...)
	encoding.WriteInt32LSBMSB(buf[:], int32(lengthOfArea))
	data = append(data, buf[:]...)
	return data
}

// MarshalPaddingField encodes a PD entry of the requested total length, padding the remainder of
// a logical block that can't fit another entry. totalLength must be at least 4.
func MarshalPaddingField(totalLength uint8) []byte {
	data := entryHeader(PADDING_FIELD, totalLength, 1)
	if totalLength > 4 {
		data = append(data, make([]byte, totalLength-4)...)
	}
	return data
}

// MarshalSharingProtocolIndicator encodes the SP entry that must begin the system use area of the
// root directory record, identifying SUSP presence with the fixed 0xBE 0xEF check bytes and the
// number of bytes (len) skipped before system use fields begin on every other record.
func MarshalSharingProtocolIndicator(bytesSkipped byte) []byte {
	data := entryHeader(SHARING_PROTOCOL_INDICATOR, 7, 1)
	data = append(data, 0xBE, 0xEF, bytesSkipped)
	return data
}

// MarshalAreaTerminator encodes the ST entry marking the end of a system use field or
// continuation area, with no payload beyond the 4-byte header.
func MarshalAreaTerminator() []byte {
	return entryHeader(AREA_TERMINATOR, 4, 1)
}

// MarshalExtensionRecord encodes an ER entry, the reverse of UnmarshalExtensionRecord, announcing
// one extension (e.g. Rock Ridge's RRIP_1991A) in use on the volume.
func MarshalExtensionRecord(rec *ExtensionRecord) []byte {
	idLen := len(rec.Identifier)
	descLen := len(rec.Descriptor)
	srcLen := len(rec.Source)
	length := uint8(8 + idLen + descLen + srcLen)
	data := entryHeader(EXTENSION_REFERENCE, length, 1)
	data = append(data, byte(idLen), byte(descLen), byte(srcLen), byte(rec.Version))
	data = append(data, []byte(rec.Identifier)...)
	data = append(data, []byte(rec.Descriptor)...)
	data = append(data, []byte(rec.Source)...)
	return data
}

// MarshalExtensionSelector encodes an ES entry selecting, by zero-based sequence number, which ER
// entry's extension applies to the system use fields that follow it on a given record.
func MarshalExtensionSelector(sequenceNumber byte) []byte {
	data := entryHeader(EXTENSION_SELECTOR, 5, 1)
	data = append(data, sequenceNumber)
	return data
}
