package writer

import (
	"fmt"
	"io"

	"github.com/bgrewell/isoforge/pkg/consts"
	"github.com/bgrewell/isoforge/pkg/eltorito"
	"github.com/bgrewell/isoforge/pkg/filesrc"
	"github.com/bgrewell/isoforge/pkg/msg"
)

// FileContentWriter assigns LBA runs to every FileSrc that doesn't already have one and streams
// each source's bytes in turn (spec §4.2, §4.4). ordered holds every registered FileSrc; toEmit
// is the subset WriteBody actually streams bytes for.
type FileContentWriter struct {
	ordered []*filesrc.FileSrc
	toEmit  []*filesrc.FileSrc
}

// DeclareBlocks assigns each FileSrc its LBA run (spec §4.2): entries carried over from a prior
// session (FromPreviousImage, only meaningful when the production is appendable) already have
// their sections fixed by import and are skipped entirely — their sections are never
// touched, so the inherited block numbers survive unchanged into the new directory records. The
// rest are optionally sorted by descending weight before assignment when sort_files is requested.
func (w *FileContentWriter) DeclareBlocks(s *BuildState) error {
	w.ordered = s.Registry.All()

	var fresh []*filesrc.FileSrc
	for _, fs := range w.ordered {
		if fs.FromPreviousImage && s.Opts.Appendable {
			continue
		}
		fresh = append(fresh, fs)
	}
	if s.Opts.SortFiles {
		filesrc.SortByWeight(fresh)
	}
	for _, fs := range fresh {
		next, err := fs.AssignBlocks(s.CurBlock, consts.ISO9660_SECTOR_SIZE)
		if err != nil {
			return fmt.Errorf("writer: assign file content blocks: %w", err)
		}
		s.CurBlock = next
	}
	filesrc.SortByBlock(fresh)
	w.toEmit = fresh
	return nil
}

func (w *FileContentWriter) WriteVolDesc(s *BuildState, out io.Writer) error { return nil }

// WriteBody streams only the content sections assigned by this production (spec §4.2, Scenario 3):
// a FromPreviousImage entry already exists on the medium and must not be re-emitted, only
// referenced by the directory records its sections still describe.
func (w *FileContentWriter) WriteBody(s *BuildState, out io.Writer) error {
	for _, fs := range w.toEmit {
		if err := writeFileSrc(s, fs, out); err != nil {
			return err
		}
	}
	return nil
}

// writeFileSrc streams fs's content once, zero-padding the final section up to a whole number of
// logical blocks so the next writer's body starts on a block boundary. A source marked for the
// boot-info-table patch takes the buffered path instead: the patch's checksum spans the whole
// file, so the bytes are read, patched, then emitted (spec §4.7 — the on-disc source file is
// never rewritten, only the outgoing stream is).
func writeFileSrc(s *BuildState, fs *filesrc.FileSrc, out io.Writer) error {
	if len(fs.Sections) == 0 {
		return nil
	}
	if s.BootPatches[fs] {
		return writePatchedBootImage(s, fs, out)
	}
	if err := fs.Stream.Open(); err != nil {
		return fmt.Errorf("writer: open file content stream: %w", err)
	}
	defer fs.Stream.Close()

	var total uint32
	short := false
	buf := make([]byte, consts.ISO9660_SECTOR_SIZE)
	for _, sec := range fs.Sections {
		remaining := sec.Size
		for remaining > 0 {
			n := uint32(len(buf))
			if remaining < n {
				n = remaining
			}
			read, err := io.ReadFull(fs.Stream, buf[:n])
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				// The source shrank since declare_blocks sized it. The predicted layout must
				// hold, so the missing tail becomes zeros (spec §4.4).
				short = true
				for i := read; i < int(n); i++ {
					buf[i] = 0
				}
				read = int(n)
			} else if err != nil {
				return fmt.Errorf("writer: read file content: %w", err)
			}
			if _, err := out.Write(buf[:read]); err != nil {
				return err
			}
			remaining -= uint32(read)
			total += uint32(read)
		}
	}
	if short && s.Queue != nil {
		if err := s.Queue.Submit(msg.NewCode(msg.MISHAP, 0x40, 0x0101),
			"content source shorter than planned, padded with zeros"); err != nil {
			return err
		}
	}
	if pad := total % consts.ISO9660_SECTOR_SIZE; pad != 0 {
		if _, err := out.Write(make([]byte, consts.ISO9660_SECTOR_SIZE-pad)); err != nil {
			return err
		}
	}
	return nil
}

// writePatchedBootImage reads the whole boot image into memory, applies the boot-info-table
// patch, and emits it padded to its declared blocks. Boot images are small (a few hundred KiB at
// most), so buffering them whole is cheaper than a two-pass checksum read.
func writePatchedBootImage(s *BuildState, fs *filesrc.FileSrc, out io.Writer) error {
	size, err := fs.Stream.Size()
	if err != nil {
		return fmt.Errorf("writer: size boot image: %w", err)
	}
	if err := fs.Stream.Open(); err != nil {
		return fmt.Errorf("writer: open boot image: %w", err)
	}
	defer fs.Stream.Close()

	content := make([]byte, size)
	if _, err := io.ReadFull(fs.Stream, content); err != nil {
		return fmt.Errorf("writer: read boot image: %w", err)
	}
	if err := eltorito.PatchBootInfoTable(content, s.PVDBlock, fs.Sections[0].Block, size); err != nil {
		return fmt.Errorf("writer: patch boot-info-table: %w", err)
	}
	if _, err := out.Write(content); err != nil {
		return err
	}
	if pad := uint32(size) % consts.ISO9660_SECTOR_SIZE; pad != 0 {
		if _, err := out.Write(make([]byte, consts.ISO9660_SECTOR_SIZE-pad)); err != nil {
			return err
		}
	}
	return nil
}

func (w *FileContentWriter) Free() error { return nil }
