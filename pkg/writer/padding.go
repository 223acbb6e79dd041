package writer

import (
	"io"

	"github.com/bgrewell/isoforge/pkg/consts"
)

// PaddingWriter enforces the minimum 32-block image size (spec §4.2): many real-world CD-ROM
// drives and El Torito BIOSes assume a system area plus at least 16 blocks of volume descriptors
// are present, so images smaller than that are padded out rather than produced short.
type PaddingWriter struct {
	blocks uint32
}

func (w *PaddingWriter) DeclareBlocks(s *BuildState) error {
	const minBlocks = 32
	if s.CurBlock < minBlocks {
		w.blocks = minBlocks - s.CurBlock
		s.CurBlock += w.blocks
	}
	return nil
}

func (w *PaddingWriter) WriteVolDesc(s *BuildState, out io.Writer) error { return nil }

func (w *PaddingWriter) WriteBody(s *BuildState, out io.Writer) error {
	if w.blocks == 0 {
		return nil
	}
	_, err := out.Write(make([]byte, w.blocks*consts.ISO9660_SECTOR_SIZE))
	return err
}

func (w *PaddingWriter) Free() error { return nil }
