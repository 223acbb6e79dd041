package writer

import (
	"fmt"
	"io"
	"time"

	"github.com/bgrewell/isoforge/pkg/consts"
	"github.com/bgrewell/isoforge/pkg/descriptor"
	"github.com/bgrewell/isoforge/pkg/lowlevel"
	"github.com/bgrewell/isoforge/pkg/path"
)

// iso1999Cfg mirrors ecma119Cfg: ISO 9660:1999's Enhanced Volume Descriptor relaxes the d-character
// set but keeps the same raw-byte identifier encoding and full symlink/special coverage; it has no
// Rock Ridge concept of its own.
func iso1999Cfg() treeCfg {
	return treeCfg{
		encodeName:      func(name string) []byte { return []byte(name) },
		rockRidge:       false,
		includeSymlinks: true,
		includeSpecial:  true,
	}
}

// ISO1999Writer produces the optional ISO 9660:1999 Enhanced Volume Descriptor and its own
// directory hierarchy and path tables (spec §4.1), version 2 of the same layout Joliet uses.
type ISO1999Writer struct {
	cfg        treeCfg
	tables     []*path.PathTableRecord
	order      []*lowlevel.LowLevelNode // path-table (breadth-first) order
	bodyOrder  []*lowlevel.LowLevelNode // declare (depth-first) order; write_body follows this
	lPathTable []byte
	mPathTable []byte
}

func (w *ISO1999Writer) DeclareBlocks(s *BuildState) error {
	// 1999, like Joliet, has no relocation mechanism of its own.
	ll, err := lowlevel.Build(s.Tree.Root, lowlevel.ISO1999, lowlevel.BuildOpts{
		IsoLevel:         s.Opts.IsoLevel,
		AllowDeepPaths:   true,
		AllowLongerPaths: true,
		AllowLowercase:   s.Opts.AllowLowercase,
		AllowFullAscii:   s.Opts.AllowFullAscii,
		HardLinks:        s.Opts.HardLinks,
	})
	if err != nil {
		return fmt.Errorf("writer: build ISO 9660:1999 tree: %w", err)
	}
	s.ISO1999 = ll
	w.cfg = iso1999Cfg()

	if err := declareDirArea(s, ll.Root, w.cfg, true, &w.bodyOrder); err != nil {
		return fmt.Errorf("writer: declare ISO 9660:1999 directory areas: %w", err)
	}

	records, order, err := buildPathTable(s, ll.Root, w.cfg, s.Logger)
	if err != nil {
		return fmt.Errorf("writer: build ISO 9660:1999 path table: %w", err)
	}
	w.tables = records
	w.order = order
	w.lPathTable = path.MarshalPathTable(records, false)
	w.mPathTable = path.MarshalPathTable(records, true)

	size := uint32(len(w.lPathTable))
	blocks := (size + consts.ISO9660_SECTOR_SIZE - 1) / consts.ISO9660_SECTOR_SIZE
	s.ISO1999PathTable = pathTableLayout{Size: size, RecordOrder: order}
	s.ISO1999PathTable.LLocation = s.CurBlock
	s.CurBlock += blocks
	s.ISO1999PathTable.MLocation = s.CurBlock
	s.CurBlock += blocks

	return nil
}

func (w *ISO1999Writer) WriteVolDesc(s *BuildState, out io.Writer) error {
	rootRecord, err := rootRecordFor(s, s.ISO1999.Root)
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

	evd := descriptor.MarshalSupplementaryVolumeDescriptor(descriptor.SupplementaryVolumeDescriptorFields{
		FileStructureVersion:   2,
		SystemIdentifier:       s.Opts.SystemIdentifier,
		VolumeIdentifier:       s.Opts.VolumeIdentifier,
		VolumeSpaceSize:        int32(s.TotalBlocks),
		VolumeSetSize:          1,
		VolumeSequenceNumber:   1,
		LogicalBlockSize:       consts.ISO9660_SECTOR_SIZE,
		PathTableSize:          int32(s.ISO1999PathTable.Size),
		LPathTableLocation:     s.ISO1999PathTable.LLocation,
		MPathTableLocation:     s.ISO1999PathTable.MLocation,
		RootDirectoryRecord:    rootRecord,
		PublisherIdentifier:    s.Opts.PublisherIdentifier,
		DataPreparerIdentifier: s.Opts.DataPreparerIdentifier,
		ApplicationIdentifier:  s.Opts.ApplicationIdentifier,
		CreationTime:           creation,
		ModificationTime:       modification,
		TimestampDigits:        s.Opts.VolumeUUID,
	})
	_, err = out.Write(evd[:])
	return err
}

func (w *ISO1999Writer) WriteBody(s *BuildState, out io.Writer) error {
	for _, node := range w.bodyOrder {
		data, err := writeDirArea(s, node, w.cfg, node == s.ISO1999.Root)
		if err != nil {
			return err
		}
		if _, err := out.Write(data); err != nil {
			return err
		}
	}
	if err := writePadded(out, w.lPathTable); err != nil {
		return fmt.Errorf("writer: write ISO 9660:1999 L-path-table: %w", err)
	}
	if err := writePadded(out, w.mPathTable); err != nil {
		return fmt.Errorf("writer: write ISO 9660:1999 M-path-table: %w", err)
	}
	return nil
}

func (w *ISO1999Writer) Free() error { return nil }
