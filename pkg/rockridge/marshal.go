package rockridge

import (
	"github.com/bgrewell/isoforge/pkg/encoding"
)

// entryHeader writes the 4-byte SUSP system use entry header every Rock Ridge entry begins with:
// a 2-byte signature, an 8-bit length covering the whole entry, and a version byte (always 1).
func entryHeader(signature string, length uint8) []byte {
	data := make([]byte, 4)
	copy(data[0:2], signature)
	data[2] = length
	data[3] = 1
	return data
}

// MarshalPX encodes a PX entry: POSIX file mode, link count, uid, gid, each as a both-endian
// 32-bit field (8 bytes), plus an optional serial number field some implementations omit.
func MarshalPX(mode, links, uid, gid, serialNo uint32, includeSerial bool) []byte {
	length := uint8(36)
	if includeSerial {
		length = 44
	}
	data := entryHeader(string(POSIX_FILE_PERMS), length)
	body := make([]byte, 0, 40)
	var buf [8]byte
	encoding.WriteInt32LSBMSB(buf[:], int32(mode))
	body = append(body, buf[:]...)
	encoding.WriteInt32LSBMSB(buf[:], int32(links))
	body = append(body, buf[:]...)
	encoding.WriteInt32LSBMSB(buf[:], int32(uid))
	body = append(body, buf[:]...)
	encoding.WriteInt32LSBMSB(buf[:], int32(gid))
	body = append(body, buf[:]...)
	if includeSerial {
		encoding.WriteInt32LSBMSB(buf[:], int32(serialNo))
		body = append(body, buf[:]...)
	}
	return append(data, body...)
}

// MarshalNM encodes an NM (alternate name) entry. name must already be split into <= 250-byte
// chunks by the caller when it exceeds a single entry's capacity; continued is true on every
// chunk but the last.
func MarshalNM(name string, continued, isCurrent, isParent bool) []byte {
	length := uint8(5 + len(name))
	data := entryHeader(string(ALTERNATE_NAME), length)
	var flags byte
	if continued {
		flags |= 0x01
	}
	if isCurrent {
		flags |= 0x02
	}
	if isParent {
		flags |= 0x04
	}
	data = append(data, flags)
	data = append(data, []byte(name)...)
	return data
}

// MarshalTF encodes a TF (timestamps) entry. which is a bitfield selecting which of the passed
// timestamps (in bit order: creation, modify, access, attributes, backup, expiration, effective) are
// present; longForm selects the 17-byte PVD timestamp format over the 7-byte directory-record
// format. Only present timestamps are written, in ascending bit order, per SUSP-112.
func MarshalTF(which byte, longForm bool, stamps [][]byte) []byte {
	fieldSize := 7
	if longForm {
		fieldSize = 17
	}
	var body []byte
	for _, s := range stamps {
		if len(s) != fieldSize {
			continue
		}
		body = append(body, s...)
	}
	var flags byte = which
	if longForm {
		flags |= 0x80
	}
	length := uint8(5 + len(body))
	data := entryHeader(string(TIME_STAMPS), length)
	data = append(data, flags)
	data = append(data, body...)
	return data
}

// MarshalCL encodes a CL (child link) entry: a directory's relocated-directory extent location,
// used at the original location once a directory has been moved under RR_MOVED.
func MarshalCL(childLocation uint32) []byte {
	data := entryHeader(string(CHILD_LINK), 12)
	var buf [8]byte
	encoding.WriteInt32LSBMSB(buf[:], int32(childLocation))
	return append(data, buf[:]...)
}

// MarshalPL encodes a PL (parent link) entry: placed in a relocated directory, pointing back to
// its real parent's extent location.
func MarshalPL(parentLocation uint32) []byte {
	data := entryHeader(string(PARENT_LINK), 12)
	var buf [8]byte
	encoding.WriteInt32LSBMSB(buf[:], int32(parentLocation))
	return append(data, buf[:]...)
}

// MarshalRE encodes an RE entry: marks, at the original location, that a directory record has
// been relocated. It carries no payload beyond the 4-byte header.
func MarshalRE() []byte {
	return entryHeader(string(RELOCATED_DIR), 4)
}

// MarshalSL encodes an SL (symbolic link) entry for a single component list. Each component is
// (flags byte, length byte, content bytes); flags bit1/bit2/bit3 select current/parent/root
// special components with no content, matching SUSP-112 5.3.
type SLComponent struct {
	Current bool
	Parent  bool
	Root    bool
	Content string
}

func MarshalSL(components []SLComponent, continued bool) []byte {
	var body []byte
	for _, c := range components {
		var flags byte
		if c.Current {
			flags |= 0x02
		}
		if c.Parent {
			flags |= 0x04
		}
		if c.Root {
			flags |= 0x08
		}
		content := []byte(c.Content)
		body = append(body, flags, byte(len(content)))
		body = append(body, content...)
	}
	var topFlags byte
	if continued {
		topFlags = 0x01
	}
	length := uint8(5 + len(body))
	data := entryHeader(string(SYMBOLIC_LINK), length)
	data = append(data, topFlags)
	data = append(data, body...)
	return data
}
