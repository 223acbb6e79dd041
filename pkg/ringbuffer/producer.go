package ringbuffer

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"
)

// ErrCanceled is returned by Producer.Read once the consumer has called Cancel and the producer
// has observed and honored the request.
var ErrCanceled = errors.New("ringbuffer: production canceled")

// Producer pairs a RingBuffer with the goroutine lifecycle of the function filling it, giving the
// consumer a single Read/Cancel/Wait surface — the Go equivalent of the specification's "writer
// thread + join on free_data" model, built on golang.org/x/sync/errgroup instead of a raw
// pthread_create/pthread_join pair.
type Producer struct {
	ring   *RingBuffer
	group  *errgroup.Group
	cancel context.CancelFunc
}

// Start spawns fn on its own goroutine, passing it the ring buffer to write into. fn must honor
// ctx: once ReaderClose has been called, the next Write to ring returns 0, at which point fn
// should return ErrCanceled (or any error) promptly rather than continuing production.
func Start(ctx context.Context, fifoSizeBlocks int, fn func(ctx context.Context, ring *RingBuffer) error) *Producer {
	ring := New(fifoSizeBlocks)
	gctx, cancel := context.WithCancel(ctx)
	group, gctx := errgroup.WithContext(gctx)
	p := &Producer{ring: ring, group: group, cancel: cancel}

	group.Go(func() error {
		err := fn(gctx, ring)
		ring.WriterClose(err)
		return err
	})
	return p
}

// Read drains production output, matching RingBuffer.Read's blocking semantics.
func (p *Producer) Read(buf []byte) (int, error) {
	return p.ring.Read(buf)
}

// Cancel requests cooperative shutdown: it closes the reader side so the producer's next Write
// call returns 0, then the caller must still call Wait to join the writer goroutine and observe
// its final error, per spec §4.6's cancellation sequence.
func (p *Producer) Cancel() {
	p.ring.ReaderClose()
	p.cancel()
}

// Wait blocks until the producer goroutine has exited, returning its error (nil on clean
// completion, a wrapped ErrCanceled-compatible error after Cancel).
func (p *Producer) Wait() error {
	return p.group.Wait()
}

// Stats exposes the underlying ring buffer's times-full/times-empty counters.
func (p *Producer) Stats() (timesFull, timesEmpty int) {
	return p.ring.Stats()
}
