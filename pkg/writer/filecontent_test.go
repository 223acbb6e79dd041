package writer

import (
	"bytes"
	"io"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"

	"github.com/bgrewell/isoforge/pkg/iostream"
	"github.com/bgrewell/isoforge/pkg/msg"
	"github.com/bgrewell/isoforge/pkg/tree"
	"github.com/bgrewell/isoforge/pkg/writeopts"
)

// TestFileContentWriter_AppendableSession_SkipsInheritedContent exercises Scenario 3: an appendable
// add-on session must inherit a prior session's file at its original block and only emit the bytes
// of content new to this session.
func TestFileContentWriter_AppendableSession_SkipsInheritedContent(t *testing.T) {
	lt := tree.NewTree()
	a := &tree.LogicalNode{
		Type:              tree.File,
		Name:              "A",
		Stream:            iostream.NewMemoryStream([]byte("old content")),
		FromPreviousImage: true,
		ImportedSections:  []tree.ImportedSection{{Block: 200, Size: 11}},
	}
	b := &tree.LogicalNode{
		Type:   tree.File,
		Name:   "B",
		Stream: iostream.NewMemoryStream([]byte("new content")),
	}
	tree.AddChild(lt.Root, a)
	tree.AddChild(lt.Root, b)

	opts := writeopts.New(writeopts.WithAppendable(1000))
	s := NewBuildState(opts, lt, nil)
	s.CurBlock = 1016 // past the (ms_block + 16)-block system area, as a real run would leave it

	assert.NoError(t, s.registerFiles())

	w := &FileContentWriter{}
	assert.NoError(t, w.DeclareBlocks(s))

	fsA := s.FileSrcByNode[a]
	fsB := s.FileSrcByNode[b]
	assert.Equal(t, uint32(200), fsA.Sections[0].Block, "inherited content keeps its original block")
	assert.Equal(t, uint32(1016), fsB.Sections[0].Block, "new content is assigned a fresh block")

	var out bytes.Buffer
	assert.NoError(t, w.WriteBody(s, &out))
	assert.NotContains(t, out.String(), "old content")
	assert.Contains(t, out.String(), "new content")
}

// TestFileContentWriter_SortFiles_OrdersByDescendingWeight exercises the sort_files toggle (spec
// §4.2): LBAs are assigned in descending-weight order once requested.
func TestFileContentWriter_SortFiles_OrdersByDescendingWeight(t *testing.T) {
	lt := tree.NewTree()
	low := &tree.LogicalNode{Type: tree.File, Name: "LOW", Weight: 1, Stream: iostream.NewMemoryStream([]byte("l"))}
	high := &tree.LogicalNode{Type: tree.File, Name: "HIGH", Weight: 100, Stream: iostream.NewMemoryStream([]byte("h"))}
	tree.AddChild(lt.Root, low)
	tree.AddChild(lt.Root, high)

	opts := writeopts.New(writeopts.WithSortFiles(true))
	s := NewBuildState(opts, lt, nil)
	s.CurBlock = 100

	assert.NoError(t, s.registerFiles())

	w := &FileContentWriter{}
	assert.NoError(t, w.DeclareBlocks(s))

	fsLow := s.FileSrcByNode[low]
	fsHigh := s.FileSrcByNode[high]
	assert.Less(t, fsHigh.Sections[0].Block, fsLow.Sections[0].Block)
}

// shrunkStream reports a larger size than its content delivers, simulating a file truncated
// between the declare pass and the write pass.
type shrunkStream struct {
	declared int64
	actual   []byte
	offset   int
	identity iostream.Identity
}

func (s *shrunkStream) Open() error                { s.offset = 0; return nil }
func (s *shrunkStream) Close() error               { return nil }
func (s *shrunkStream) Size() (int64, error)       { return s.declared, nil }
func (s *shrunkStream) IsRepeatable() bool         { return true }
func (s *shrunkStream) UpdateSize() (int64, error) { return s.declared, nil }
func (s *shrunkStream) Identity() iostream.Identity {
	return s.identity
}
func (s *shrunkStream) InputStream() iostream.Stream { return nil }
func (s *shrunkStream) Read(p []byte) (int, error) {
	if s.offset >= len(s.actual) {
		return 0, io.EOF
	}
	n := copy(p, s.actual[s.offset:])
	s.offset += n
	return n, nil
}

// TestFileContentWriter_ShrunkSourceZeroFills: a source shorter than planned degrades to
// zero-fill for the predicted span and reports through the message queue instead of aborting
// (spec §4.4).
func TestFileContentWriter_ShrunkSourceZeroFills(t *testing.T) {
	lt := tree.NewTree()
	n := &tree.LogicalNode{
		Type: tree.File, Name: "SHRUNK",
		Stream: &shrunkStream{declared: 4096, actual: bytes.Repeat([]byte{0x7F}, 1000), identity: iostream.Identity{InodeID: 4242}},
	}
	tree.AddChild(lt.Root, n)

	opts := writeopts.New()
	s := NewBuildState(opts, lt, msg.NewQueue(logr.Discard()))
	s.CurBlock = 50

	assert.NoError(t, s.registerFiles())
	w := &FileContentWriter{}
	assert.NoError(t, w.DeclareBlocks(s))

	var out bytes.Buffer
	assert.NoError(t, w.WriteBody(s, &out))
	assert.Equal(t, 4096, out.Len(), "the declared span is still emitted in full")
	assert.Equal(t, byte(0x7F), out.Bytes()[999])
	assert.Equal(t, byte(0), out.Bytes()[1000], "missing tail becomes zeros")

	msgs := s.Queue.Messages()
	assert.NotEmpty(t, msgs)
	assert.Equal(t, msg.MISHAP, msgs[0].Code.Severity())
}
