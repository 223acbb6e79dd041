package writer

import (
	"fmt"
	"io"

	"github.com/bgrewell/isoforge/pkg/consts"
	"github.com/bgrewell/isoforge/pkg/descriptor"
	"github.com/bgrewell/isoforge/pkg/eltorito"
	"github.com/bgrewell/isoforge/pkg/tree"
)

// ElToritoWriter produces the boot record volume descriptor and boot catalog (spec §4.7). It runs
// after ECMA-119 (so the BRVD is numbered after the PVD) but its catalog body is assembled during
// WriteBody, by which point DeclareAll has already run FileContentWriter and every boot image's
// on-disc location is known.
type ElToritoWriter struct{}

func (w *ElToritoWriter) DeclareBlocks(s *BuildState) error {
	if s.BootCatalog == nil {
		return nil
	}
	s.BootCatalogBlock = s.CurBlock
	s.CurBlock++
	return nil
}

func (w *ElToritoWriter) WriteVolDesc(s *BuildState, out io.Writer) error {
	if s.BootCatalog == nil {
		return nil
	}
	brvd := descriptor.MarshalBootRecordVolumeDescriptor(descriptor.BootRecordVolumeDescriptorFields{
		CatalogPointer: s.BootCatalogBlock,
	})
	_, err := out.Write(brvd[:])
	return err
}

func (w *ElToritoWriter) WriteBody(s *BuildState, out io.Writer) error {
	if s.BootCatalog == nil {
		return nil
	}
	if err := w.resolveLocations(s); err != nil {
		return err
	}

	block := make([]byte, 0, consts.ISO9660_SECTOR_SIZE)
	block = append(block, eltorito.MarshalValidationEntry(s.BootCatalog.Platform, "")...)

	entries := s.BootCatalog.Entries
	if len(entries) == 0 {
		return fmt.Errorf("writer: boot catalog declared with no entries")
	}
	block = append(block, eltorito.MarshalEntry(entries[0], 0x88)...)

	if len(entries) > 1 {
		block = append(block, eltorito.MarshalSectionHeader(&eltorito.SectionHeader{
			Indicator: 0x91,
			Platform:  s.BootCatalog.Platform,
			Entries:   uint16(len(entries) - 1),
		})...)
		for _, e := range entries[1:] {
			block = append(block, eltorito.MarshalEntry(e, 0x88)...)
		}
	}

	if len(block) < consts.ISO9660_SECTOR_SIZE {
		block = append(block, make([]byte, consts.ISO9660_SECTOR_SIZE-len(block))...)
	}
	_, err := out.Write(block)
	return err
}

// resolveLocations matches each boot entry's BootFile path against the logical tree and records
// its assigned location and size, now that file content blocks are final.
func (w *ElToritoWriter) resolveLocations(s *BuildState) error {
	paths := make(map[string]*tree.LogicalNode)
	err := s.Tree.Walk(func(n *tree.LogicalNode) error {
		if n.Type == tree.File {
			paths[n.Path()] = n
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, e := range s.BootCatalog.Entries {
		node, ok := paths[e.BootFile]
		if !ok {
			return fmt.Errorf("writer: boot file %q not found in tree", e.BootFile)
		}
		fs, ok := s.FileSrcByNode[node]
		if !ok || len(fs.Sections) == 0 {
			return fmt.Errorf("writer: boot file %q has no assigned content", e.BootFile)
		}
		size, sizeErr := node.Stream.Size()
		if sizeErr != nil {
			return sizeErr
		}
		e.SetLocation(eltorito.SectorOffset(fs.Sections[0].Block), size)
		if e.PatchInfoTable {
			s.BootPatches[fs] = true
		}
	}
	return nil
}

func (w *ElToritoWriter) Free() error { return nil }
