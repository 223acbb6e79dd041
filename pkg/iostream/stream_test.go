package iostream

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/klauspost/compress/flate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// bufSource is an in-memory FileSource for exercising FileStream and CutOutStream.
type bufSource struct {
	data     []byte
	identity Identity
}

func (b *bufSource) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(b.data)), nil
}

func (b *bufSource) Stat() (int64, Identity, error) {
	return int64(len(b.data)), b.identity, nil
}

func readAll(t *testing.T, s Stream) []byte {
	t.Helper()
	require.NoError(t, s.Open())
	defer s.Close()
	var out bytes.Buffer
	buf := make([]byte, 1024)
	for {
		n, err := s.Read(buf)
		out.Write(buf[:n])
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		if n == 0 {
			break
		}
	}
	return out.Bytes()
}

func TestMemoryStream_RepeatableReads(t *testing.T) {
	m := NewMemoryStream([]byte("repeatable content"))
	assert.True(t, m.IsRepeatable())

	first := readAll(t, m)
	second := readAll(t, m)
	assert.Equal(t, []byte("repeatable content"), first)
	assert.Equal(t, first, second, "a repeatable stream must produce identical bytes on re-read")
}

func TestMemoryStream_IdentitiesAreDistinct(t *testing.T) {
	a := NewMemoryStream([]byte("a"))
	b := NewMemoryStream([]byte("a"))
	assert.NotEqual(t, a.Identity(), b.Identity())
}

func TestFileStream_SizeCachedAndUpdated(t *testing.T) {
	src := &bufSource{data: []byte("0123456789"), identity: Identity{FilesystemID: 1, InodeID: 42}}
	fs, err := NewFileStream(src)
	require.NoError(t, err)

	size, err := fs.Size()
	require.NoError(t, err)
	assert.Equal(t, int64(10), size)
	assert.Equal(t, Identity{FilesystemID: 1, InodeID: 42}, fs.Identity())
	assert.Equal(t, []byte("0123456789"), readAll(t, fs))

	src.data = append(src.data, "ab"...)
	size, err = fs.Size()
	require.NoError(t, err)
	assert.Equal(t, int64(10), size)
	size, err = fs.UpdateSize()
	require.NoError(t, err)
	assert.Equal(t, int64(12), size)
}

func TestCutOutStream_ReadsWindow(t *testing.T) {
	src := &bufSource{data: []byte("abcdefghijklmnop"), identity: Identity{InodeID: 7}}
	c, err := NewCutOutStream(src, 4, 6)
	require.NoError(t, err)

	assert.Equal(t, []byte("efghij"), readAll(t, c))

	size, err := c.Size()
	require.NoError(t, err)
	assert.Equal(t, int64(6), size)
}

func TestCutOutStream_UpdateSizeUnsupported(t *testing.T) {
	src := &bufSource{data: []byte("abcdef")}
	c, err := NewCutOutStream(src, 0, 6)
	require.NoError(t, err)
	_, err = c.UpdateSize()
	assert.Error(t, err)
}

// TestZisofsStream_Format decodes the zisofs container back by hand: magic, original size,
// header-size/4 and log2-block-size bytes, the N+1 block pointers, per-block deflate payloads,
// and the zero-length encoding of an all-zero block.
func TestZisofsStream_Format(t *testing.T) {
	original := make([]byte, 3*zisofsBlockSize+100)
	for i := range original[:zisofsBlockSize] {
		original[i] = byte(i % 251)
	}
	// second block left all zero
	for i := 2 * zisofsBlockSize; i < len(original); i++ {
		original[i] = byte(i % 13)
	}

	z := NewZisofsStream(NewMemoryStream(original))
	encoded := readAll(t, z)

	require.Greater(t, len(encoded), 16)
	assert.Equal(t, zisofsMagic[:], encoded[:8])
	assert.Equal(t, uint32(len(original)), binary.LittleEndian.Uint32(encoded[8:12]))
	assert.Equal(t, byte(zisofsBlockLog2), encoded[13])

	numBlocks := 4 // ceil((3*32768+100)/32768)
	headerSize := int(encoded[12]) * 4
	require.Equal(t, 16+4*(numBlocks+1), headerSize)

	pointers := make([]uint32, numBlocks+1)
	for i := range pointers {
		pointers[i] = binary.LittleEndian.Uint32(encoded[16+4*i : 20+4*i])
	}
	assert.Equal(t, uint32(headerSize), pointers[0], "first pointer is the offset of the first data byte")
	assert.Equal(t, uint32(len(encoded)), pointers[numBlocks], "last pointer is the total size")
	assert.Equal(t, pointers[2], pointers[1], "an all-zero block is encoded as zero length")

	// Decompress every block and compare with the source.
	var decoded bytes.Buffer
	for i := 0; i < numBlocks; i++ {
		chunk := encoded[pointers[i]:pointers[i+1]]
		want := zisofsBlockSize
		if i == numBlocks-1 {
			want = len(original) - i*zisofsBlockSize
		}
		if len(chunk) == 0 {
			decoded.Write(make([]byte, want))
			continue
		}
		fr := flate.NewReader(bytes.NewReader(chunk))
		out, err := io.ReadAll(fr)
		require.NoError(t, err)
		require.NoError(t, fr.Close())
		decoded.Write(out)
	}
	assert.Equal(t, original, decoded.Bytes())
}

func TestZisofsStream_SizeMatchesEncodedLength(t *testing.T) {
	z := NewZisofsStream(NewMemoryStream([]byte("tiny payload")))
	size, err := z.Size()
	require.NoError(t, err)
	encoded := readAll(t, z)
	assert.Equal(t, size, int64(len(encoded)))
}

func TestZisofsStream_InputChainReachesOriginal(t *testing.T) {
	inner := NewMemoryStream([]byte("original bytes"))
	z := NewZisofsStream(inner)
	assert.Same(t, Stream(inner), z.InputStream())
}
