// Package systemarea builds the first 16 blocks of an ISO image (spec §4.8): either an opaque
// caller-supplied blob or a protective-MBR wrapper. Its Isohybrid mode does not patch anything.
package systemarea

import (
	"encoding/binary"
	"fmt"
)

// SystemArea is a 32 KiB byte array used for the system area of an ISO 9660 image.
type SystemArea [32 * 1024]byte

// Mode selects how Build produces the system area's content.
type Mode uint8

const (
	// Opaque copies the caller-supplied data verbatim (or leaves it zeroed).
	Opaque Mode = iota
	// ProtectiveMBR writes a single partition entry covering the whole image at bytes 446..512.
	ProtectiveMBR
	// Isohybrid returns the caller-supplied data (normally an isolinux-produced MBR) unchanged,
	// like Opaque; Build does not patch it. The isohybrid patch is eltorito.PatchIsohybridMBR.
	Isohybrid
)

// maxCHSBlocks is the conceptual cap spec §4.8 places on the protective-MBR sector-count
// calculation: images are treated as no larger than 0x40000000 blocks for this purpose.
const maxCHSBlocks = 0x40000000

// Build returns a 32 KiB system area derived from data (copied verbatim, or zeroed if data is
// nil) and mode. imageBlocks is the total image size in 2048-byte blocks, needed by
// ProtectiveMBR's sector-count field.
func Build(data *SystemArea, mode Mode, imageBlocks uint32) (SystemArea, error) {
	var area SystemArea
	if data != nil {
		area = *data
	}

	switch mode {
	case Opaque:
		return area, nil
	case ProtectiveMBR:
		if err := writeProtectiveMBR(&area, imageBlocks); err != nil {
			return area, err
		}
		return area, nil
	case Isohybrid:
		// Isohybrid patching mutates an already-supplied isolinux MBR; without one, there is
		// nothing meaningful to patch. Leave the area as supplied and let the caller catch a
		// missing boot image earlier in validation (spec §4.8 notes this precondition).
		return area, nil
	default:
		return area, fmt.Errorf("systemarea: unknown mode %d", mode)
	}
}

func writeProtectiveMBR(area *SystemArea, imageBlocks uint32) error {
	if imageBlocks > maxCHSBlocks {
		imageBlocks = maxCHSBlocks
	}
	for i := 0; i < 446; i++ {
		area[i] = 0
	}

	sectors := imageBlocks*4 - 1
	area[446] = 0x80
	copy(area[447:450], chs(0, 2, 0))
	area[450] = 0xCD
	copy(area[451:454], chs(cylinderFromLBA(sectors), headFromLBA(sectors), sectorFromLBA(sectors)))
	binary.LittleEndian.PutUint32(area[454:458], 1)
	binary.LittleEndian.PutUint32(area[458:462], sectors)

	area[510] = 0x55
	area[511] = 0xAA
	return nil
}

// chs packs a (cylinder, head, sector) triple into the 3-byte CHS encoding MBR partition entries
// use, with the cylinder's top two bits folded into the sector byte's high bits.
func chs(cylinder, head, sector uint32) []byte {
	return []byte{
		byte(head),
		byte(sector) | byte((cylinder>>2)&0xC0),
		byte(cylinder & 0xFF),
	}
}

// Same 63 sectors/track x 255 heads/cylinder convention spec §4.7 names for the isohybrid MBR;
// used here too so both MBR variants agree on geometry.
const sectorsPerTrack = 63
const headsPerCylinder = 255

func cylinderFromLBA(lba uint32) uint32 { return lba / (sectorsPerTrack * headsPerCylinder) }
func headFromLBA(lba uint32) uint32 {
	return (lba / sectorsPerTrack) % headsPerCylinder
}
func sectorFromLBA(lba uint32) uint32 { return (lba % sectorsPerTrack) + 1 }
