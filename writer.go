package iso

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/bgrewell/isoforge/pkg/consts"
	"github.com/bgrewell/isoforge/pkg/eltorito"
	"github.com/bgrewell/isoforge/pkg/msg"
	"github.com/bgrewell/isoforge/pkg/ringbuffer"
	"github.com/bgrewell/isoforge/pkg/systemarea"
	"github.com/bgrewell/isoforge/pkg/tree"
	"github.com/bgrewell/isoforge/pkg/writeopts"
	"github.com/bgrewell/isoforge/pkg/writer"
	"github.com/orcaman/writerseeker"
)

// Writer produces a byte-exact ISO 9660 image from a logical tree (spec §2): it derives one
// on-disc name tree per enabled format, lays out every byte at a predicted LBA, and streams the
// result through a bounded producer/consumer buffer to the caller.
//
// Per spec §5's shared-resource policy, NewWriter's tree and every Stream it references are
// transferred to the production goroutine: the caller must not mutate them again until the
// ByteSource returned by Produce reaches EOF or is canceled.
type Writer struct {
	tree  *tree.LogicalTree
	opts  *writeopts.WriteOpts
	queue *msg.Queue
}

// NewWriter freezes tree and opts for one production run.
func NewWriter(t *tree.LogicalTree, opts ...writeopts.Option) (*Writer, error) {
	if t == nil || t.Root == nil {
		return nil, fmt.Errorf("iso: NewWriter: tree must not be nil")
	}
	o := writeopts.New(opts...)
	if o.IsoLevel < 1 || o.IsoLevel > 3 {
		return nil, fmt.Errorf("iso: NewWriter: invalid ISO level %d", o.IsoLevel)
	}
	if o.FifoSize < 32 {
		o.FifoSize = 32
	}
	if o.OverwriteBuf != nil && len(o.OverwriteBuf) < 64*1024 {
		return nil, fmt.Errorf("iso: NewWriter: overwrite buffer must be at least 64 KiB, got %d", len(o.OverwriteBuf))
	}
	return &Writer{tree: t, opts: o, queue: msg.NewQueue(o.Logger)}, nil
}

// ByteSource is the producer interface handed to the caller (spec §6): a streaming reader plus
// the predicted total size and cooperative cancellation.
type ByteSource interface {
	io.Reader
	// Size blocks until pass 1 has completed (or production has failed before reaching it) and
	// returns the predicted size of the produced byte stream: the whole image for a fresh
	// production, this session's blocks only when writing an appendable add-on at ms_block.
	Size() (int64, error)
	// Cancel requests the producer stop; subsequent Read calls return a non-nil error once
	// production has unwound.
	Cancel()
	// Stats exposes the ring buffer's times-full/times-empty counters (spec §3, RingBuffer
	// statistics).
	Stats() (timesFull, timesEmpty int)
}

// byteSource implements ByteSource over a ringbuffer.Producer.
type byteSource struct {
	producer *ringbuffer.Producer

	sizeOnce sync.Once
	sizeCh   chan struct{}
	size     uint32
	sizeErr  error
}

func newByteSource() *byteSource {
	return &byteSource{sizeCh: make(chan struct{})}
}

// reportSize is called at most once, by the production goroutine, either with the final block
// count (pass 1 succeeded) or an error (pass 1 never completed).
func (b *byteSource) reportSize(blocks uint32, err error) {
	b.sizeOnce.Do(func() {
		b.size = blocks
		b.sizeErr = err
		close(b.sizeCh)
	})
}

func (b *byteSource) Read(p []byte) (int, error) { return b.producer.Read(p) }

func (b *byteSource) Size() (int64, error) {
	<-b.sizeCh
	if b.sizeErr != nil {
		return 0, b.sizeErr
	}
	return int64(b.size) * consts.ISO9660_SECTOR_SIZE, nil
}

func (b *byteSource) Cancel() { b.producer.Cancel() }

func (b *byteSource) Stats() (int, int) { return b.producer.Stats() }

// ringWriter adapts RingBuffer.Write's short-write-on-reader-closed convention to io.Writer, so
// every writer.Writer (which emits via plain io.Writer) transparently observes cancellation as a
// write error, per spec §4.6.
type ringWriter struct {
	ring *ringbuffer.RingBuffer
}

func (rw ringWriter) Write(p []byte) (int, error) {
	n := rw.ring.Write(p)
	if n < len(p) {
		return n, ringbuffer.ErrCanceled
	}
	return n, nil
}

// Produce runs the production pipeline (spec §2/§5): pass 1 (declare_blocks) runs synchronously on
// the production goroutine before anything is written, so Size() can be answered as soon as it
// completes; passes 2 and 3 then stream through the ring buffer to the ByteSource the caller drains
// on its own goroutine.
func (w *Writer) Produce(ctx context.Context) (ByteSource, error) {
	bs := newByteSource()
	bs.producer = ringbuffer.Start(ctx, w.opts.FifoSize, func(ctx context.Context, ring *ringbuffer.RingBuffer) error {
		return w.run(ctx, ring, bs)
	})
	return bs, nil
}

func (w *Writer) run(ctx context.Context, ring *ringbuffer.RingBuffer, bs *byteSource) error {
	state := writer.NewBuildState(w.opts, w.tree, w.queue)

	bootNode := findBootCatalogNode(w.tree.Root)
	hasBootCatalog := bootNode != nil
	if hasBootCatalog {
		cat, err := buildBootCatalog(bootNode)
		if err != nil {
			bs.reportSize(0, err)
			return err
		}
		state.BootCatalog = cat
	}

	pipeline := writer.Build(state, hasBootCatalog)
	defer pipeline.Free()

	if err := pipeline.DeclareAll(state); err != nil {
		bs.reportSize(0, err)
		return err
	}
	// The stream carries only this session's blocks: an appendable add-on session starts at
	// ms_block, so the bytes produced run from there to the final block (spec §6).
	bs.reportSize(state.TotalBlocks-w.opts.MSBlock, nil)

	area, err := buildSystemArea(w.opts, state.TotalBlocks, hasBootCatalog)
	if err != nil {
		return err
	}

	if w.opts.OverwriteBuf != nil {
		if err := replayOverwriteBuf(pipeline, state, area[:], w.opts.OverwriteBuf); err != nil {
			return err
		}
	}

	if err := pipeline.WriteAll(state, area[:], ringWriter{ring: ring}); err != nil {
		return err
	}
	return ctx.Err()
}

// replayOverwriteBuf fills dst (spec §3's overwrite_buf, required to be at least 64 KiB) with the
// System Area, volume descriptors, and terminator a grow-only medium's LBA-0 region should be
// refreshed with after this session lands, per spec §4.2.
func replayOverwriteBuf(pipeline *writer.Pipeline, state *writer.BuildState, systemArea []byte, dst []byte) error {
	ws := &writerseeker.WriterSeeker{}
	if err := pipeline.ReplaySuperblock(state, systemArea, ws); err != nil {
		return fmt.Errorf("iso: replay overwrite buffer: %w", err)
	}
	n, err := io.ReadFull(ws.BytesReader(), dst)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return fmt.Errorf("iso: copy overwrite buffer: %w", err)
	}
	for i := n; i < len(dst); i++ {
		dst[i] = 0
	}
	return nil
}

// buildSystemArea produces the first 16 blocks of the image per spec §4.8, applying the
// isohybrid MBR patch directly (rather than through pkg/systemarea's no-op Isohybrid branch, which
// defers to a caller that already has an El Torito boot image in hand) since only this orchestrator
// knows whether one was declared.
func buildSystemArea(opts *writeopts.WriteOpts, totalBlocks uint32, hasBootCatalog bool) (systemarea.SystemArea, error) {
	data := (*systemarea.SystemArea)(&opts.SystemAreaData)
	switch opts.SystemAreaOptions {
	case writeopts.SystemAreaProtectiveMBR:
		return systemarea.Build(data, systemarea.ProtectiveMBR, totalBlocks)
	case writeopts.SystemAreaIsohybrid:
		area, err := systemarea.Build(data, systemarea.Opaque, totalBlocks)
		if err != nil {
			return area, err
		}
		if !hasBootCatalog {
			return area, fmt.Errorf("iso: isohybrid system area requires an El Torito boot image")
		}
		if err := eltorito.PatchIsohybridMBR(area[:], totalBlocks); err != nil {
			return area, err
		}
		return area, nil
	default:
		return systemarea.Build(data, systemarea.Opaque, totalBlocks)
	}
}

// findBootCatalogNode returns the tree's BootCatalogPlaceholder node, or nil if the tree carries
// no El Torito boot catalog.
func findBootCatalogNode(root *tree.LogicalNode) *tree.LogicalNode {
	var found *tree.LogicalNode
	var walk func(n *tree.LogicalNode)
	walk = func(n *tree.LogicalNode) {
		if found != nil {
			return
		}
		if n.Type == tree.BootCatalogPlaceholder {
			found = n
			return
		}
		for _, c := range n.Children {
			walk(c)
			if found != nil {
				return
			}
		}
	}
	walk(root)
	return found
}

// buildBootCatalog converts a BootCatalogPlaceholder node's BootEntries into the eltorito package's
// on-disc representation (spec §4.7).
func buildBootCatalog(node *tree.LogicalNode) (*eltorito.ElTorito, error) {
	if len(node.BootEntries) == 0 {
		return nil, fmt.Errorf("iso: boot catalog node %q declares no boot entries", node.Path())
	}
	cat := &eltorito.ElTorito{
		BootCatalog: node.Path(),
		Platform:    eltorito.Platform(node.BootPlatform),
	}
	for _, be := range node.BootEntries {
		cat.Entries = append(cat.Entries, &eltorito.ElToritoEntry{
			Platform:       eltorito.Platform(be.Platform),
			Emulation:      eltorito.Emulation(be.Emulation),
			BootFile:       be.BootFile,
			HideBootFile:   be.HideBootFile,
			LoadSegment:    be.LoadSegment,
			PartitionType:  eltorito.PartitionType(be.PartitionType),
			PatchInfoTable: be.PatchInfoTable,
		})
	}
	return cat, nil
}
