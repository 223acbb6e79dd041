package writer

import (
	"fmt"
	"io"

	"github.com/bgrewell/isoforge/pkg/consts"
)

// Writer is the capability set every concrete writer implements (spec §4.2/§9): a three-pass
// protocol plus a release hook, mirroring the source's writer function-pointer table as a Go
// interface.
type Writer interface {
	// DeclareBlocks advances s.CurBlock for this writer's body, recording whatever LBAs later
	// passes need. Volume descriptor blocks are reserved earlier, by Build, at writer-creation
	// time.
	DeclareBlocks(s *BuildState) error
	// WriteVolDesc emits exactly one 2048-byte block if this writer owns a volume descriptor, or
	// does nothing if it doesn't.
	WriteVolDesc(s *BuildState, out io.Writer) error
	// WriteBody emits this writer's body, in the block order DeclareBlocks recorded.
	WriteBody(s *BuildState, out io.Writer) error
	// Free releases any resources the writer opened (streams, temp buffers).
	Free() error
}

// Pipeline sequences a fixed list of Writers through the three passes, per spec §4.2: ECMA-119,
// El Torito, Joliet, 1999, padding, file-contents, checksum.
type Pipeline struct {
	writers []Writer
}

// Build assembles the Pipeline for a single production run from s.Opts and the logical tree's
// content (whether a boot-catalog placeholder node is present). Volume descriptor blocks are
// reserved here, at writer-creation time, so they stay contiguous right after the System Area
// regardless of how much body space each writer later declares; the terminator's block follows
// them. Pass 2 then emits descriptors in exactly this reservation order.
func Build(s *BuildState, hasBootCatalog bool) *Pipeline {
	p := &Pipeline{}

	p.writers = append(p.writers, &ECMA119Writer{})
	s.PVDBlock = s.CurBlock
	s.CurBlock++
	s.VolumeDescriptorCount = 1
	if hasBootCatalog {
		p.writers = append(p.writers, &ElToritoWriter{})
		s.BRVDBlock = s.CurBlock
		s.CurBlock++
		s.VolumeDescriptorCount++
	}
	if s.Opts.Joliet {
		p.writers = append(p.writers, &JolietWriter{})
		s.SVDBlock = s.CurBlock
		s.CurBlock++
		s.VolumeDescriptorCount++
	}
	if s.Opts.Iso1999 {
		p.writers = append(p.writers, &ISO1999Writer{})
		s.EVDBlock = s.CurBlock
		s.CurBlock++
		s.VolumeDescriptorCount++
	}
	s.CurBlock++ // Volume Descriptor Set Terminator

	p.writers = append(p.writers, &PaddingWriter{})
	p.writers = append(p.writers, &FileContentWriter{})
	if s.Opts.MD5Checksums != 0 {
		p.writers = append(p.writers, &ChecksumWriter{})
	}
	return p
}

// DeclareAll runs pass 1 (declare_blocks) on every writer in order, single-threaded, per spec §5.
func (p *Pipeline) DeclareAll(s *BuildState) error {
	if err := s.registerFiles(); err != nil {
		return fmt.Errorf("writer: register files: %w", err)
	}
	for _, w := range p.writers {
		if err := w.DeclareBlocks(s); err != nil {
			return fmt.Errorf("writer: declare_blocks: %w", err)
		}
	}
	s.TotalBlocks = s.CurBlock
	return nil
}

// WriteAll runs pass 2 (write_vol_desc) and pass 3 (write_body) in order, emitting the System
// Area first and the Volume Descriptor Set Terminator between the two passes, per spec §4.2/§5.
func (p *Pipeline) WriteAll(s *BuildState, systemArea []byte, out io.Writer) error {
	superblock := out
	if s.SuperblockHash != nil {
		superblock = io.MultiWriter(out, s.SuperblockHash)
	}
	if _, err := superblock.Write(systemArea); err != nil {
		return fmt.Errorf("writer: write system area: %w", err)
	}
	for _, w := range p.writers {
		if err := w.WriteVolDesc(s, superblock); err != nil {
			return fmt.Errorf("writer: write_vol_desc: %w", err)
		}
	}
	if err := writeTerminator(superblock); err != nil {
		return err
	}
	for _, w := range p.writers {
		if err := w.WriteBody(s, out); err != nil {
			return fmt.Errorf("writer: write_body: %w", err)
		}
	}
	return nil
}

// ReplaySuperblock re-emits the System Area, every writer's volume descriptor, and the terminator
// without touching any writer's body (spec §4.2's "Overwrite buffer"): called after DeclareAll, it
// lets a caller refresh the LBA-0 descriptors of a grow-only medium without rewriting the rest of
// the image. Safe to call any number of times; every WriteVolDesc implementation is a pure read of
// already-declared state.
func (p *Pipeline) ReplaySuperblock(s *BuildState, systemArea []byte, out io.Writer) error {
	if _, err := out.Write(systemArea); err != nil {
		return fmt.Errorf("writer: replay system area: %w", err)
	}
	for _, w := range p.writers {
		if err := w.WriteVolDesc(s, out); err != nil {
			return fmt.Errorf("writer: replay write_vol_desc: %w", err)
		}
	}
	return writeTerminator(out)
}

// Free releases every writer's resources, in order, continuing past individual errors so a
// cancellation path still frees what it can; the first error encountered is returned.
func (p *Pipeline) Free() error {
	var first error
	for _, w := range p.writers {
		if err := w.Free(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func writeTerminator(out io.Writer) error {
	block := make([]byte, consts.ISO9660_SECTOR_SIZE)
	block[0] = 255 // VolumeDescriptorSetTerminator
	copy(block[1:6], consts.ISO9660_STD_IDENTIFIER)
	block[6] = consts.ISO9660_VOLUME_DESC_VERSION
	_, err := out.Write(block)
	return err
}
