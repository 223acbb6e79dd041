package filesrc

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/bgrewell/isoforge/pkg/consts"
	"github.com/bgrewell/isoforge/pkg/iostream"
)

// sizedStream reports a fixed size without backing it with real memory, so tests can exercise
// multi-extent splitting on files far larger than would be practical to actually allocate.
type sizedStream struct {
	size     int64
	identity iostream.Identity
}

func (s *sizedStream) Open() error                   { return nil }
func (s *sizedStream) Close() error                  { return nil }
func (s *sizedStream) Size() (int64, error)          { return s.size, nil }
func (s *sizedStream) Read(p []byte) (int, error)    { return 0, nil }
func (s *sizedStream) IsRepeatable() bool            { return true }
func (s *sizedStream) UpdateSize() (int64, error)    { return s.size, nil }
func (s *sizedStream) Identity() iostream.Identity   { return s.identity }
func (s *sizedStream) InputStream() iostream.Stream  { return nil }

func TestRegistry_DedupBySameIdentity(t *testing.T) {
	r := NewRegistry()
	s1 := iostream.NewMemoryStream([]byte("hello world"))
	s2 := iostream.NewMemoryStream([]byte("hello world"))

	fs1, err := r.Register(s1)
	assert.NoError(t, err)
	fs2, err := r.Register(s1) // same stream instance, same identity -> same FileSrc
	assert.NoError(t, err)
	assert.Same(t, fs1, fs2)
	assert.Equal(t, 2, fs1.RefCount())

	fs3, err := r.Register(s2) // different identity (different counter value) -> distinct entry
	assert.NoError(t, err)
	assert.NotSame(t, fs1, fs3)
	assert.Len(t, r.All(), 2)
}

func TestFileSrc_AssignBlocks_SingleSection(t *testing.T) {
	r := NewRegistry()
	fs, err := r.Register(iostream.NewMemoryStream(make([]byte, 4096)))
	assert.NoError(t, err)

	next, err := fs.AssignBlocks(10, 2048)
	assert.NoError(t, err)
	assert.Equal(t, uint32(12), next)
	assert.Len(t, fs.Sections, 1)
	assert.Equal(t, uint32(10), fs.Sections[0].Block)
	assert.Equal(t, uint32(4096), fs.Sections[0].Size)
}

func TestFileSrc_AssignBlocks_EmptyFile(t *testing.T) {
	r := NewRegistry()
	fs, err := r.Register(iostream.NewMemoryStream(nil))
	assert.NoError(t, err)

	next, err := fs.AssignBlocks(5, 2048)
	assert.NoError(t, err)
	assert.Equal(t, uint32(5), next)
	assert.Len(t, fs.Sections, 1)
	assert.Equal(t, uint32(0), fs.Sections[0].Size)
}

func TestRegistry_RegisterImported_FixesSectionsVerbatim(t *testing.T) {
	r := NewRegistry()
	s := &sizedStream{size: 4096, identity: iostream.Identity{InodeID: 200}}

	fs, err := r.RegisterImported(s, []Section{{Block: 200, Size: 4096}})
	assert.NoError(t, err)
	assert.True(t, fs.FromPreviousImage)
	assert.Equal(t, []Section{{Block: 200, Size: 4096}}, fs.Sections)

	// Registering the same identity again (e.g. a second hardlink to the imported file) must
	// share the entry and its fixed sections rather than reassigning anything.
	fs2, err := r.RegisterImported(s, []Section{{Block: 999, Size: 1}})
	assert.NoError(t, err)
	assert.Same(t, fs, fs2)
	assert.Equal(t, []Section{{Block: 200, Size: 4096}}, fs.Sections)
}

func TestSortByWeight_Descending(t *testing.T) {
	low := &FileSrc{Weight: 1}
	high := &FileSrc{Weight: 10}
	mid := &FileSrc{Weight: 5}
	srcs := []*FileSrc{low, high, mid}

	SortByWeight(srcs)

	assert.Equal(t, []*FileSrc{high, mid, low}, srcs)
}

func TestFileSrc_AssignBlocks_SplitsOversizedFile(t *testing.T) {
	r := NewRegistry()
	// Two extents' worth of content, forcing a split at ISO_EXTENT_SIZE.
	size := int64(consts.ISO_EXTENT_SIZE)*2 + 1024
	fs, err := r.Register(&sizedStream{size: size, identity: iostream.Identity{InodeID: 999}})
	assert.NoError(t, err)

	_, err = fs.AssignBlocks(0, 2048)
	assert.NoError(t, err)
	assert.Len(t, fs.Sections, 3)
	assert.Equal(t, uint32(consts.ISO_EXTENT_SIZE), fs.Sections[0].Size)
	assert.Equal(t, uint32(consts.ISO_EXTENT_SIZE), fs.Sections[1].Size)
	assert.Equal(t, uint32(1024), fs.Sections[2].Size)
}
