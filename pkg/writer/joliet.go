package writer

import (
	"fmt"
	"io"
	"time"

	"github.com/bgrewell/isoforge/pkg/consts"
	"github.com/bgrewell/isoforge/pkg/descriptor"
	"github.com/bgrewell/isoforge/pkg/encoding"
	"github.com/bgrewell/isoforge/pkg/lowlevel"
	"github.com/bgrewell/isoforge/pkg/path"
)

// jolietCfg encodes identifiers as UCS-2BE (ISO/IEC 10646 Level 3 escape sequence) and, per the
// two-hierarchy split in spec §8 scenario 2, omits symlinks and special files entirely rather than
// representing them without Rock Ridge.
func jolietCfg() treeCfg {
	return treeCfg{
		encodeName:      encoding.EncodeJolietName,
		rockRidge:       false,
		includeSymlinks: false,
		includeSpecial:  false,
	}
}

// JolietWriter produces the optional Joliet supplementary volume descriptor and its own directory
// hierarchy and path tables (spec §4.1), built from the same logical tree as ECMA-119 but with
// UCS-2 names and no Rock Ridge.
type JolietWriter struct {
	cfg        treeCfg
	tables     []*path.PathTableRecord
	order      []*lowlevel.LowLevelNode // path-table (breadth-first) order
	bodyOrder  []*lowlevel.LowLevelNode // declare (depth-first) order; write_body follows this
	lPathTable []byte
	mPathTable []byte
}

func (w *JolietWriter) DeclareBlocks(s *BuildState) error {
	// Joliet has no relocation mechanism; deep trees stay in place.
	ll, err := lowlevel.Build(s.Tree.Root, lowlevel.Joliet, lowlevel.BuildOpts{
		IsoLevel:          s.Opts.IsoLevel,
		AllowDeepPaths:    true,
		AllowLongerPaths:  true,
		JolietLongerPaths: s.Opts.JolietLongerPaths,
		HardLinks:         s.Opts.HardLinks,
	})
	if err != nil {
		return fmt.Errorf("writer: build Joliet tree: %w", err)
	}
	s.Joliet = ll
	w.cfg = jolietCfg()

	if err := declareDirArea(s, ll.Root, w.cfg, true, &w.bodyOrder); err != nil {
		return fmt.Errorf("writer: declare Joliet directory areas: %w", err)
	}

	records, order, err := buildPathTable(s, ll.Root, w.cfg, s.Logger)
	if err != nil {
		return fmt.Errorf("writer: build Joliet path table: %w", err)
	}
	w.tables = records
	w.order = order
	w.lPathTable = path.MarshalPathTable(records, false)
	w.mPathTable = path.MarshalPathTable(records, true)

	size := uint32(len(w.lPathTable))
	blocks := (size + consts.ISO9660_SECTOR_SIZE - 1) / consts.ISO9660_SECTOR_SIZE
	s.JolietPathTable = pathTableLayout{Size: size, RecordOrder: order}
	s.JolietPathTable.LLocation = s.CurBlock
	s.CurBlock += blocks
	s.JolietPathTable.MLocation = s.CurBlock
	s.CurBlock += blocks

	return nil
}

func (w *JolietWriter) WriteVolDesc(s *BuildState, out io.Writer) error {
	rootRecord, err := rootRecordFor(s, s.Joliet.Root)
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

	var escapes [32]byte
	copy(escapes[:3], consts.JOLIET_LEVEL_3_ESCAPE)

	svd := descriptor.MarshalSupplementaryVolumeDescriptor(descriptor.SupplementaryVolumeDescriptorFields{
		FileStructureVersion:   consts.ISO9660_VOLUME_DESC_VERSION,
		SystemIdentifier:       s.Opts.SystemIdentifier,
		VolumeIdentifier:       s.Opts.VolumeIdentifier,
		VolumeSpaceSize:        int32(s.TotalBlocks),
		EscapeSequences:        escapes,
		VolumeSetSize:          1,
		VolumeSequenceNumber:   1,
		LogicalBlockSize:       consts.ISO9660_SECTOR_SIZE,
		PathTableSize:          int32(s.JolietPathTable.Size),
		LPathTableLocation:     s.JolietPathTable.LLocation,
		MPathTableLocation:     s.JolietPathTable.MLocation,
		RootDirectoryRecord:    rootRecord,
		PublisherIdentifier:    s.Opts.PublisherIdentifier,
		DataPreparerIdentifier: s.Opts.DataPreparerIdentifier,
		ApplicationIdentifier:  s.Opts.ApplicationIdentifier,
		CreationTime:           creation,
		ModificationTime:       modification,
		TimestampDigits:        s.Opts.VolumeUUID,
	})
	_, err = out.Write(svd[:])
	return err
}

func (w *JolietWriter) WriteBody(s *BuildState, out io.Writer) error {
	for _, node := range w.bodyOrder {
		data, err := writeDirArea(s, node, w.cfg, node == s.Joliet.Root)
		if err != nil {
			return err
		}
		if _, err := out.Write(data); err != nil {
			return err
		}
	}
	if err := writePadded(out, w.lPathTable); err != nil {
		return fmt.Errorf("writer: write Joliet L-path-table: %w", err)
	}
	if err := writePadded(out, w.mPathTable); err != nil {
		return fmt.Errorf("writer: write Joliet M-path-table: %w", err)
	}
	return nil
}

func (w *JolietWriter) Free() error { return nil }
