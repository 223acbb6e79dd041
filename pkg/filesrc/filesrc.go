// Package filesrc implements the FileSrc registry (spec §4.4): deduplication of identical file
// content across the logical tree by stream identity, and splitting of oversized files into
// ISO_EXTENT_SIZE sections so no single directory record extent overflows its 32-bit size field.
package filesrc

import (
	"fmt"
	"sort"

	"github.com/bgrewell/isoforge/pkg/consts"
	"github.com/bgrewell/isoforge/pkg/iostream"
)

// Section describes one contiguous extent of a file's content, keyed by the block it will be
// written at and its size in bytes. Files smaller than ISO_EXTENT_SIZE get exactly one section;
// larger files are split so every section is at most ISO_EXTENT_SIZE bytes, per spec §4.4.
type Section struct {
	Block uint32
	Size  uint32
}

// FileSrc is one registered content source: a stream plus the sections it will occupy once block
// numbers are assigned during the declare_blocks pass.
type FileSrc struct {
	Stream   iostream.Stream
	Sections []Section
	Weight   int

	// FromPreviousImage marks content already present on the medium from an earlier session of an
	// appendable image: AssignBlocks must not touch it and the content writer must not re-emit its
	// bytes, only its (already-populated) Sections (spec §3, §4.2, §4.4).
	FromPreviousImage bool

	refCount int
}

// key is the dedup key from spec §4.4: two tree nodes sharing (fs_id, dev_id, ino_id, size) point
// at the same underlying content and must share one FileSrc.
type key struct {
	identity iostream.Identity
	size     int64
}

// Registry deduplicates FileSrc entries across an entire production run.
type Registry struct {
	bySrc map[key]*FileSrc
	all   []*FileSrc
}

func NewRegistry() *Registry {
	return &Registry{bySrc: make(map[key]*FileSrc)}
}

// Register returns the FileSrc for s, creating one if this is the first time this content
// identity has been seen, or incrementing a reference count and returning the existing entry
// otherwise (hardlink / repeated-import consolidation).
func (r *Registry) Register(s iostream.Stream) (*FileSrc, error) {
	size, err := s.Size()
	if err != nil {
		return nil, fmt.Errorf("filesrc: size content source: %w", err)
	}
	k := key{identity: s.Identity(), size: size}
	if existing, ok := r.bySrc[k]; ok {
		existing.refCount++
		return existing, nil
	}
	fs := &FileSrc{Stream: s, refCount: 1}
	r.bySrc[k] = fs
	r.all = append(r.all, fs)
	return fs, nil
}

// RegisterImported returns the FileSrc for s, marking it FromPreviousImage and fixing its Sections
// to the prior session's exact layout instead of leaving them to be assigned later: an appendable
// production's add-on session must reference this content without rewriting or relocating it
// (spec §3, §4.2, §4.4, Invariants). sections is copied so the caller's slice stays independent.
func (r *Registry) RegisterImported(s iostream.Stream, sections []Section) (*FileSrc, error) {
	size, err := s.Size()
	if err != nil {
		return nil, fmt.Errorf("filesrc: size content source: %w", err)
	}
	k := key{identity: s.Identity(), size: size}
	if existing, ok := r.bySrc[k]; ok {
		existing.refCount++
		return existing, nil
	}
	fs := &FileSrc{
		Stream:            s,
		Sections:          append([]Section(nil), sections...),
		FromPreviousImage: true,
		refCount:          1,
	}
	r.bySrc[k] = fs
	r.all = append(r.all, fs)
	return fs, nil
}

// All returns every distinct FileSrc registered, in registration order.
func (r *Registry) All() []*FileSrc {
	out := make([]*FileSrc, len(r.all))
	copy(out, r.all)
	return out
}

// RefCount reports how many tree nodes point at fs's content.
func (fs *FileSrc) RefCount() int { return fs.refCount }

// AssignBlocks splits fs's content into ISO_EXTENT_SIZE sections starting at startBlock and
// returns the block immediately following the last section, for the caller to continue
// allocating subsequent content from. This is the declare_blocks-pass half of spec §4.4.
func (fs *FileSrc) AssignBlocks(startBlock uint32, blockSize uint32) (uint32, error) {
	size, err := fs.Stream.Size()
	if err != nil {
		return 0, fmt.Errorf("filesrc: size content source: %w", err)
	}
	fs.Sections = fs.Sections[:0]
	block := startBlock
	remaining := size
	if remaining == 0 {
		fs.Sections = append(fs.Sections, Section{Block: block, Size: 0})
		return block, nil
	}
	for remaining > 0 {
		sectionSize := remaining
		if sectionSize > consts.ISO_EXTENT_SIZE {
			sectionSize = consts.ISO_EXTENT_SIZE
		}
		fs.Sections = append(fs.Sections, Section{Block: block, Size: uint32(sectionSize)})
		blocksUsed := (uint32(sectionSize) + blockSize - 1) / blockSize
		block += blocksUsed
		remaining -= sectionSize
	}
	return block, nil
}

// SortByWeight orders srcs by descending Weight, the optional ordering WithSortFiles requests
// before LBAs are assigned (spec §4.2). Equal-weight entries keep their relative registration
// order (stable sort).
func SortByWeight(srcs []*FileSrc) {
	sort.SliceStable(srcs, func(i, j int) bool {
		return srcs[i].Weight > srcs[j].Weight
	})
}

// SortByBlock orders srcs by their first section's block number, the order write_body must visit
// them in to produce a single forward-only pass over the image (spec §4.2/§5).
func SortByBlock(srcs []*FileSrc) {
	sort.Slice(srcs, func(i, j int) bool {
		if len(srcs[i].Sections) == 0 || len(srcs[j].Sections) == 0 {
			return len(srcs[i].Sections) > len(srcs[j].Sections)
		}
		return srcs[i].Sections[0].Block < srcs[j].Sections[0].Block
	})
}
