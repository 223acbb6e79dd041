package ringbuffer

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRingBuffer_WriteThenReadInOrder(t *testing.T) {
	r := New(32)
	n := r.Write([]byte("hello"))
	assert.Equal(t, 5, n)

	buf := make([]byte, 5)
	rn, err := r.Read(buf)
	assert.NoError(t, err)
	assert.Equal(t, 5, rn)
	assert.Equal(t, "hello", string(buf))
}

func TestRingBuffer_WriterCloseCleanYieldsEOF(t *testing.T) {
	r := New(32)
	r.Write([]byte("x"))
	r.WriterClose(nil)

	buf := make([]byte, 1)
	n, err := r.Read(buf)
	assert.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = r.Read(buf)
	assert.Equal(t, 0, n)
	assert.ErrorIs(t, err, io.EOF)
}

func TestRingBuffer_ReaderCloseUnblocksBlockedWriter(t *testing.T) {
	r := New(32) // capacity = 32*2048 bytes
	big := make([]byte, r.capacity)
	r.Write(big) // fill it completely

	done := make(chan int, 1)
	go func() {
		// This Write would block forever on a full buffer unless ReaderClose wakes it.
		done <- r.Write([]byte("more"))
	}()

	time.Sleep(20 * time.Millisecond)
	r.ReaderClose()

	select {
	case n := <-done:
		assert.Equal(t, 0, n)
	case <-time.After(2 * time.Second):
		t.Fatal("writer did not unblock after ReaderClose")
	}
}

func TestProducer_ReadsProducedBytesThenEOF(t *testing.T) {
	p := Start(context.Background(), 32, func(ctx context.Context, ring *RingBuffer) error {
		ring.Write([]byte("abc"))
		return nil
	})

	out, err := io.ReadAll(readerFunc(p.Read))
	assert.NoError(t, err)
	assert.Equal(t, "abc", string(out))
	assert.NoError(t, p.Wait())
}

func TestProducer_CancelUnblocksWriterAndSurfacesError(t *testing.T) {
	started := make(chan struct{})
	p := Start(context.Background(), 32, func(ctx context.Context, ring *RingBuffer) error {
		big := make([]byte, 32*2048)
		ring.Write(big)
		close(started)
		if n := ring.Write([]byte("more")); n == 0 {
			return ErrCanceled
		}
		return nil
	})

	<-started
	p.Cancel()
	err := p.Wait()
	assert.ErrorIs(t, err, ErrCanceled)
}

type readerFunc func([]byte) (int, error)

func (f readerFunc) Read(p []byte) (int, error) { return f(p) }
