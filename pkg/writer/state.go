// Package writer implements the fixed-order production pipeline (spec §4.2): a capability set of
// four methods (DeclareBlocks/WriteVolDesc/WriteBody/Free) realized by one file per concrete
// writer, sequenced by Pipeline in the order ECMA-119, El Torito, Joliet, 1999, padding,
// file-contents, checksum.
package writer

import (
	"crypto/md5"
	"hash"

	"github.com/bgrewell/isoforge/pkg/consts"
	"github.com/bgrewell/isoforge/pkg/eltorito"
	"github.com/bgrewell/isoforge/pkg/filesrc"
	"github.com/bgrewell/isoforge/pkg/lowlevel"
	"github.com/bgrewell/isoforge/pkg/msg"
	"github.com/bgrewell/isoforge/pkg/tree"
	"github.com/bgrewell/isoforge/pkg/writeopts"
	"github.com/go-logr/logr"
)

// dirArea records where one directory's packed record area landed during declare_blocks.
type dirArea struct {
	LBA  uint32
	Size uint32 // bytes, always a whole number of consts.ISO9660_SECTOR_SIZE blocks
}

// BuildState is the shared production state every writer's DeclareBlocks/WriteBody mutates or
// reads. Per spec §5, CurBlock is touched by exactly one writer at a time during pass 1; nothing
// here is touched concurrently once pass 1 completes.
type BuildState struct {
	Opts     *writeopts.WriteOpts
	Tree     *tree.LogicalTree
	Registry *filesrc.Registry
	Queue    *msg.Queue
	Logger   logr.Logger

	CurBlock uint32

	ECMA119 *lowlevel.Tree
	Joliet  *lowlevel.Tree
	ISO1999 *lowlevel.Tree

	// FileSrcByNode maps a logical file node to the (possibly shared) FileSrc its content was
	// registered under, populated once before any writer's DeclareBlocks runs.
	FileSrcByNode map[*tree.LogicalNode]*filesrc.FileSrc

	// DirAreas is keyed by LowLevelNode pointer so ECMA-119, Joliet, and 1999 trees (distinct
	// LowLevelNode graphs over the same LogicalNode tree) each get their own entry.
	DirAreas map[*lowlevel.LowLevelNode]*dirArea

	ECMA119PathTable pathTableLayout
	JolietPathTable  pathTableLayout
	ISO1999PathTable pathTableLayout

	PVDBlock  uint32
	SVDBlock  uint32 // Joliet supplementary volume descriptor
	EVDBlock  uint32 // ISO 9660:1999 enhanced volume descriptor
	BRVDBlock uint32 // El Torito boot record volume descriptor, if enabled

	BootCatalog      *eltorito.ElTorito
	BootCatalogBlock uint32
	BootCatalogNode  *tree.LogicalNode

	// BootPatches marks content sources whose outgoing bytes get the isolinux boot-info-table
	// patch applied as they're streamed (spec §4.7); populated by the El Torito writer once boot
	// image locations resolve, consumed by the file-content writer.
	BootPatches map[*filesrc.FileSrc]bool

	VolumeDescriptorCount uint32 // PVD + optional SVD/EVD/BRVD, not counting the terminator

	TotalBlocks uint32 // final image size in blocks, fixed once every writer's DeclareBlocks has run

	// SuperblockHash accumulates the bytes of the System Area, volume descriptors, and terminator
	// as they're written, for the optional md5_session_checksum tag (spec §9(a)); nil when
	// Opts.MD5Checksums is MD5None.
	SuperblockHash hash.Hash
}

// pathTableLayout is where one format's L- and M-path-tables landed and how large they are.
type pathTableLayout struct {
	Size         uint32
	LLocation    uint32
	MLocation    uint32
	RecordOrder  []*lowlevel.LowLevelNode // breadth-first order, root first, shared by L and M
}

// NewBuildState creates the shared state for one production run, starting CurBlock at the first
// block past the System Area (ms_block defaults to 0 for a fresh, non-appendable image).
func NewBuildState(opts *writeopts.WriteOpts, t *tree.LogicalTree, queue *msg.Queue) *BuildState {
	start := opts.MSBlock + consts.ISO9660_SYSTEM_AREA_SECTORS
	s := &BuildState{
		Opts:          opts,
		Tree:          t,
		Registry:      filesrc.NewRegistry(),
		Queue:         queue,
		Logger:        opts.Logger,
		CurBlock:      start,
		FileSrcByNode: make(map[*tree.LogicalNode]*filesrc.FileSrc),
		DirAreas:      make(map[*lowlevel.LowLevelNode]*dirArea),
		BootPatches:   make(map[*filesrc.FileSrc]bool),
	}
	if opts.MD5Checksums != writeopts.MD5None {
		s.SuperblockHash = md5.New()
	}
	return s
}

// registerFiles walks the logical tree once, registering every File node's stream with the
// registry so hardlinked nodes (identical stream identity) share one FileSrc, per spec §4.4. A node
// carried over from a prior session (FromPreviousImage) is registered with its import-time
// sections fixed rather than left for declare_blocks to assign (spec §3, §4.2).
func (s *BuildState) registerFiles() error {
	return s.Tree.Walk(func(n *tree.LogicalNode) error {
		if n.Type != tree.File || n.Stream == nil {
			return nil
		}
		var fs *filesrc.FileSrc
		var err error
		if n.FromPreviousImage {
			sections := make([]filesrc.Section, len(n.ImportedSections))
			for i, sec := range n.ImportedSections {
				sections[i] = filesrc.Section{Block: sec.Block, Size: sec.Size}
			}
			fs, err = s.Registry.RegisterImported(n.Stream, sections)
		} else {
			fs, err = s.Registry.Register(n.Stream)
		}
		if err != nil {
			return err
		}
		if n.Weight > fs.Weight {
			fs.Weight = n.Weight
		}
		s.FileSrcByNode[n] = fs
		return nil
	})
}
