package descriptor

import (
	"errors"
	"github.com/bgrewell/isoforge/pkg/consts"
	"github.com/bgrewell/isoforge/pkg/logging"
	"github.com/go-logr/logr"
	"strings"
)

func ParseBootRecordVolumeDescriptor(vd VolumeDescriptor, logger logr.Logger) (*BootRecordVolumeDescriptor, error) {
	logger.V(logging.TRACE).Info("Parsing boot record volume descriptor")
	brvd := &BootRecordVolumeDescriptor{}
	if err := brvd.Unmarshal(vd.Data()); err != nil {
		logger.Error(err, "Failed to unmarshal boot record volume descriptor")
		return nil, err
	}

	if brvd.Type != VolumeDescriptorBootRecord {
		logger.Error(nil, "invalid boot record volume descriptor type", "type", brvd.Type)
	}
	if brvd.StandardIdentifier != consts.ISO9660_STD_IDENTIFIER {
		logger.Error(nil, "invalid standard identifier", "identifier", brvd.StandardIdentifier)
	}

	return brvd, nil
}

type BootRecordVolumeDescriptor struct {
	Type                    VolumeDescriptorType // Numeric value
	StandardIdentifier      string               // Always "CD001"
	VolumeDescriptorVersion int                  // Numeric value
	BootSystemIdentifier    string               // a-characters string
	BootIdentifier          string               // Boot identifier (bytes 39-70)
	BootSystemUse           [1977]byte           // Boot System Use
}

// Unmarshal parses the given byte slice and populates the BootRecordVolumeDescriptor struct.
func (brvd *BootRecordVolumeDescriptor) Unmarshal(data [consts.ISO9660_SECTOR_SIZE]byte) (err error) {
	if len(data) < consts.ISO9660_SECTOR_SIZE {
		return errors.New("invalid data length")
	}

	brvd.Type = VolumeDescriptorType(data[0])
	brvd.StandardIdentifier = string(data[1:6])
	brvd.VolumeDescriptorVersion = int(data[6])
	brvd.BootSystemIdentifier = strings.TrimSpace(string(data[7:39]))
	brvd.BootIdentifier = string(data[39:71])
	copy(brvd.BootSystemUse[:], data[71:2048])

	return nil
}

// BootRecordVolumeDescriptorFields carries the writer-side fields of an El Torito boot record
// volume descriptor (ECMA-119 8.2 with the El Torito 1.0 boot-system identifier).
type BootRecordVolumeDescriptorFields struct {
	// CatalogPointer is the LBA of the boot catalog, written little-endian at offset 71.
	CatalogPointer uint32
}

// MarshalBootRecordVolumeDescriptor encodes the El Torito boot record volume descriptor: a
// standard boot-record header naming "EL TORITO SPECIFICATION" as the boot system, with the boot
// catalog's LBA recorded as a little-endian uint32 at offset 71 of the descriptor.
func MarshalBootRecordVolumeDescriptor(f BootRecordVolumeDescriptorFields) [consts.ISO9660_SECTOR_SIZE]byte {
	var data [consts.ISO9660_SECTOR_SIZE]byte
	data[0] = byte(VolumeDescriptorBootRecord)
	copy(data[1:6], consts.ISO9660_STD_IDENTIFIER)
	data[6] = consts.ISO9660_VOLUME_DESC_VERSION
	copy(data[7:39], padBytesZero(consts.EL_TORITO_BOOT_SYSTEM_ID, 32))
	data[71] = byte(f.CatalogPointer)
	data[72] = byte(f.CatalogPointer >> 8)
	data[73] = byte(f.CatalogPointer >> 16)
	data[74] = byte(f.CatalogPointer >> 24)
	return data
}

func padBytesZero(s string, n int) []byte {
	b := []byte(s)
	if len(b) > n {
		return b[:n]
	}
	out := make([]byte, n)
	copy(out, b)
	return out
}
