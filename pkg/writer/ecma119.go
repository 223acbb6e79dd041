package writer

import (
	"fmt"
	"io"
	"time"

	"github.com/bgrewell/isoforge/pkg/consts"
	"github.com/bgrewell/isoforge/pkg/descriptor"
	"github.com/bgrewell/isoforge/pkg/directory"
	"github.com/bgrewell/isoforge/pkg/lowlevel"
	"github.com/bgrewell/isoforge/pkg/path"
)

// ecma119Cfg is the identifier/extension policy for the mandatory ECMA-119 hierarchy: raw
// d-character identifiers, and Rock Ridge (when enabled) carrying symlinks and special files that
// ECMA-119 alone has no room to express.
func ecma119Cfg(rockRidge bool) treeCfg {
	return treeCfg{
		encodeName:      func(name string) []byte { return []byte(name) },
		rockRidge:       rockRidge,
		includeSymlinks: true,
		includeSpecial:  true,
	}
}

// ECMA119Writer produces the mandatory primary volume descriptor, directory hierarchy, and path
// tables every ISO 9660 image carries (spec §4.1/§4.3), always first in the pipeline since later
// writers' volume descriptors are numbered relative to it.
type ECMA119Writer struct {
	cfg        treeCfg
	tables     []*path.PathTableRecord
	order      []*lowlevel.LowLevelNode // path-table (breadth-first) order
	bodyOrder  []*lowlevel.LowLevelNode // declare (depth-first) order; write_body follows this
	lPathTable []byte
	mPathTable []byte
}

func (w *ECMA119Writer) DeclareBlocks(s *BuildState) error {
	// Deep-path relocation exists only under Rock Ridge; without it over-deep trees are left in
	// place (spec §4.1).
	ll, err := lowlevel.Build(s.Tree.Root, lowlevel.ECMA119, lowlevel.BuildOpts{
		IsoLevel:           s.Opts.IsoLevel,
		AllowDeepPaths:     s.Opts.AllowDeepPaths || !s.Opts.RockRidge,
		AllowLongerPaths:   s.Opts.AllowLongerPaths || !s.Opts.RockRidge,
		Max37CharFilenames: s.Opts.Max37CharFilenames,
		OmitVersionNumbers: s.Opts.OmitVersionNumbers&0x1 != 0,
		ForceDots:          s.Opts.NoForceDots&0x1 == 0,
		AllowLowercase:     s.Opts.AllowLowercase,
		AllowFullAscii:     s.Opts.AllowFullAscii,
		HardLinks:          s.Opts.HardLinks,
	})
	if err != nil {
		return fmt.Errorf("writer: build ECMA-119 tree: %w", err)
	}
	s.ECMA119 = ll
	w.cfg = ecma119Cfg(s.Opts.RockRidge)

	if err := declareDirArea(s, ll.Root, w.cfg, true, &w.bodyOrder); err != nil {
		return fmt.Errorf("writer: declare ECMA-119 directory areas: %w", err)
	}

	records, order, err := buildPathTable(s, ll.Root, w.cfg, s.Logger)
	if err != nil {
		return fmt.Errorf("writer: build ECMA-119 path table: %w", err)
	}
	w.tables = records
	w.order = order
	w.lPathTable = path.MarshalPathTable(records, false)
	w.mPathTable = path.MarshalPathTable(records, true)

	size := uint32(len(w.lPathTable))
	blocks := (size + consts.ISO9660_SECTOR_SIZE - 1) / consts.ISO9660_SECTOR_SIZE
	s.ECMA119PathTable = pathTableLayout{Size: size, RecordOrder: order}
	s.ECMA119PathTable.LLocation = s.CurBlock
	s.CurBlock += blocks
	s.ECMA119PathTable.MLocation = s.CurBlock
	s.CurBlock += blocks

	return nil
}

func (w *ECMA119Writer) WriteVolDesc(s *BuildState, out io.Writer) error {
	rootRecord, err := rootRecordFor(s, s.ECMA119.Root)
	if err != nil {
		return err
	}

	creation := s.Opts.CreationTime
	if creation.IsZero() {
		creation = time.Unix(0, 0)
	}
	modification := s.Opts.ModificationTime
	if modification.IsZero() {
		modification = creation
	}

	pvd := descriptor.MarshalPrimaryVolumeDescriptor(descriptor.PrimaryVolumeDescriptorFields{
		SystemIdentifier:       s.Opts.SystemIdentifier,
		VolumeIdentifier:       s.Opts.VolumeIdentifier,
		VolumeSpaceSize:        int32(s.TotalBlocks),
		VolumeSetSize:          1,
		VolumeSequenceNumber:   1,
		LogicalBlockSize:       consts.ISO9660_SECTOR_SIZE,
		PathTableSize:          int32(s.ECMA119PathTable.Size),
		LPathTableLocation:     s.ECMA119PathTable.LLocation,
		MPathTableLocation:     s.ECMA119PathTable.MLocation,
		RootDirectoryRecord:    rootRecord,
		PublisherIdentifier:    s.Opts.PublisherIdentifier,
		DataPreparerIdentifier: s.Opts.DataPreparerIdentifier,
		ApplicationIdentifier:  s.Opts.ApplicationIdentifier,
		CreationTime:           creation,
		ModificationTime:       modification,
		TimestampDigits:        s.Opts.VolumeUUID,
	})
	_, err = out.Write(pvd[:])
	return err
}

func (w *ECMA119Writer) WriteBody(s *BuildState, out io.Writer) error {
	for _, node := range w.bodyOrder {
		data, err := writeDirArea(s, node, w.cfg, node == s.ECMA119.Root)
		if err != nil {
			return err
		}
		if _, err := out.Write(data); err != nil {
			return err
		}
	}
	if err := writePadded(out, w.lPathTable); err != nil {
		return fmt.Errorf("writer: write ECMA-119 L-path-table: %w", err)
	}
	if err := writePadded(out, w.mPathTable); err != nil {
		return fmt.Errorf("writer: write ECMA-119 M-path-table: %w", err)
	}
	return nil
}

func (w *ECMA119Writer) Free() error { return nil }

// rootRecordFor builds the bare 34-byte root directory record embedded in a volume descriptor
// (ECMA-119 8.4.14). The record inside the directory area itself may be longer — root's "."
// carries the SP/ER announcement entries under Rock Ridge — but the descriptor field is fixed at
// 34 bytes and carries no system use area.
func rootRecordFor(s *BuildState, root *lowlevel.LowLevelNode) ([]byte, error) {
	area, ok := s.DirAreas[root]
	if !ok {
		return nil, fmt.Errorf("writer: root directory area not declared")
	}
	recTime, err := recordingTime(s, root.Logical.Mtime)
	if err != nil {
		return nil, err
	}
	return directory.Marshal(directory.RecordFields{
		LocationOfExtent:     area.LBA,
		DataLength:           area.Size,
		RecordingDateAndTime: recTime,
		FileFlags:            &directory.FileFlags{Directory: true},
		VolumeSequenceNumber: 1,
		Identifier:           []byte{0x00},
	})
}

// writePadded writes data followed by zero padding up to the next whole 2048-byte block, so a
// path table occupies exactly the blocks declare_blocks reserved for it.
func writePadded(out io.Writer, data []byte) error {
	if _, err := out.Write(data); err != nil {
		return err
	}
	if rem := uint32(len(data)) % consts.ISO9660_SECTOR_SIZE; rem != 0 {
		if _, err := out.Write(make([]byte, consts.ISO9660_SECTOR_SIZE-rem)); err != nil {
			return err
		}
	}
	return nil
}
