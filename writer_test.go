package iso

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bgrewell/isoforge/pkg/consts"
	"github.com/bgrewell/isoforge/pkg/iostream"
	"github.com/bgrewell/isoforge/pkg/tree"
	"github.com/bgrewell/isoforge/pkg/writeopts"
)

func produceAll(t *testing.T, lt *tree.LogicalTree, opts ...writeopts.Option) []byte {
	t.Helper()
	w, err := NewWriter(lt, opts...)
	require.NoError(t, err)
	bs, err := w.Produce(context.Background())
	require.NoError(t, err)

	size, err := bs.Size()
	require.NoError(t, err)

	data, err := io.ReadAll(bs)
	require.NoError(t, err)
	require.Equal(t, size, int64(len(data)), "stream length must equal the predicted size")
	return data
}

func block(data []byte, lba uint32) []byte {
	return data[int(lba)*consts.ISO9660_SECTOR_SIZE : (int(lba)+1)*consts.ISO9660_SECTOR_SIZE]
}

// dirRecords splits a directory area into its records, skipping the zero padding between the last
// record of a block and the block boundary.
func dirRecords(area []byte) [][]byte {
	var records [][]byte
	offset := 0
	for offset < len(area) {
		length := int(area[offset])
		if length == 0 {
			// rest of this block is padding; jump to the next block boundary
			next := (offset/consts.ISO9660_SECTOR_SIZE + 1) * consts.ISO9660_SECTOR_SIZE
			if next >= len(area) {
				break
			}
			offset = next
			continue
		}
		records = append(records, area[offset:offset+length])
		offset += length
	}
	return records
}

func recordIdentifier(rec []byte) []byte {
	idLen := int(rec[32])
	return rec[33 : 33+idLen]
}

func recordExtent(rec []byte) uint32 { return binary.LittleEndian.Uint32(rec[2:6]) }
func recordLength(rec []byte) uint32 { return binary.LittleEndian.Uint32(rec[10:14]) }

// TestProduce_BasicLevel1HelloTxt is spec §8 scenario 1: a level-1 image of a single 3-byte file
// comes out as exactly 33 blocks with the expected layout.
func TestProduce_BasicLevel1HelloTxt(t *testing.T) {
	lt := tree.NewTree()
	tree.AddChild(lt.Root, &tree.LogicalNode{
		Type:   tree.File,
		Name:   "hello.txt",
		Mode:   0644,
		Stream: iostream.NewMemoryStream([]byte("hi\n")),
	})

	data := produceAll(t, lt, writeopts.WithIsoLevel(1))
	require.Equal(t, 33*consts.ISO9660_SECTOR_SIZE, len(data))

	// System area is all zeros.
	assert.Equal(t, make([]byte, 16*consts.ISO9660_SECTOR_SIZE), data[:16*consts.ISO9660_SECTOR_SIZE])

	// PVD at block 16, terminator at 17.
	pvd := block(data, 16)
	assert.Equal(t, byte(1), pvd[0])
	assert.Equal(t, "CD001", string(pvd[1:6]))
	term := block(data, 17)
	assert.Equal(t, byte(255), term[0])
	assert.Equal(t, "CD001", string(term[1:6]))

	// Volume space size (both-endian at 80) covers the whole 33-block image.
	assert.Equal(t, uint32(33), binary.LittleEndian.Uint32(pvd[80:84]))
	assert.Equal(t, uint32(33), binary.BigEndian.Uint32(pvd[84:88]))

	// Root directory record embedded in the PVD points at the root area.
	rootRec := pvd[156:190]
	rootLBA := recordExtent(rootRec)
	rootSize := recordLength(rootRec)
	require.Equal(t, uint32(consts.ISO9660_SECTOR_SIZE), rootSize)

	records := dirRecords(data[int(rootLBA)*consts.ISO9660_SECTOR_SIZE : int(rootLBA)*consts.ISO9660_SECTOR_SIZE+int(rootSize)])
	require.Len(t, records, 3)
	assert.Equal(t, []byte{0x00}, recordIdentifier(records[0]), `first record must be "."`)
	assert.Equal(t, []byte{0x01}, recordIdentifier(records[1]), `second record must be ".."`)
	assert.Equal(t, "HELLO.TXT;1", string(recordIdentifier(records[2])))
	assert.Equal(t, uint32(3), recordLength(records[2]))

	dataLBA := recordExtent(records[2])
	content := block(data, dataLBA)
	assert.Equal(t, []byte{0x68, 0x69, 0x0A}, content[:3])
	assert.Equal(t, make([]byte, consts.ISO9660_SECTOR_SIZE-3), content[3:])
}

// TestProduce_SymlinkRockRidgeAndJoliet is spec §8 scenario 2: with Rock Ridge and Joliet on, the
// ECMA-119 hierarchy carries the symlink as an SL entry while the Joliet hierarchy omits it.
func TestProduce_SymlinkRockRidgeAndJoliet(t *testing.T) {
	lt := tree.NewTree()
	tree.AddChild(lt.Root, &tree.LogicalNode{
		Type:       tree.Symlink,
		Name:       "link",
		Mode:       0777,
		LinkTarget: "target",
	})

	data := produceAll(t, lt,
		writeopts.WithIsoLevel(2),
		writeopts.WithRockRidge(true),
		writeopts.WithJoliet(true),
	)

	// PVD at 16, SVD at 17, terminator at 18.
	pvd := block(data, 16)
	svd := block(data, 17)
	require.Equal(t, byte(1), pvd[0])
	require.Equal(t, byte(2), svd[0])
	require.Equal(t, byte(255), block(data, 18)[0])
	assert.Equal(t, consts.JOLIET_LEVEL_3_ESCAPE, string(svd[88:91]))

	// The ECMA-119 root must carry a LINK record whose system use area holds SL -> "target".
	rootRec := pvd[156:190]
	rootLBA := recordExtent(rootRec)
	area := data[int(rootLBA)*consts.ISO9660_SECTOR_SIZE : int(rootLBA)*consts.ISO9660_SECTOR_SIZE+int(recordLength(rootRec))]
	records := dirRecords(area)
	require.Len(t, records, 3)
	linkRec := records[2]
	assert.Equal(t, "LINK.;1", string(recordIdentifier(linkRec)), "extensionless names carry the traditional trailing dot")
	assert.Equal(t, uint32(0), recordLength(linkRec), "a symlink's record describes no extent of its own")
	assert.True(t, bytes.Contains(linkRec, []byte("SL")), "expected an SL entry in the system use area")
	assert.True(t, bytes.Contains(linkRec, []byte("target")), "expected the SL component content")
	assert.True(t, bytes.Contains(linkRec, []byte("NM")), "expected an NM entry carrying the original name")

	// The Joliet root must contain only "." and ".." — the symlink is omitted.
	jRootRec := svd[156:190]
	jRootLBA := recordExtent(jRootRec)
	jArea := data[int(jRootLBA)*consts.ISO9660_SECTOR_SIZE : int(jRootLBA)*consts.ISO9660_SECTOR_SIZE+int(recordLength(jRootRec))]
	jRecords := dirRecords(jArea)
	require.Len(t, jRecords, 2, "Joliet does not carry symlinks")
}

// TestProduce_Deterministic verifies the reproducibility law (spec §8): identical options,
// identical tree, identical timestamp overrides produce byte-identical images.
func TestProduce_Deterministic(t *testing.T) {
	build := func() []byte {
		lt := tree.NewTree()
		docs := &tree.LogicalNode{Type: tree.Directory, Name: "docs", Mode: 0755}
		tree.AddChild(lt.Root, docs)
		tree.AddChild(docs, &tree.LogicalNode{
			Type: tree.File, Name: "a.txt", Mode: 0644,
			Stream: iostream.NewMemoryStream([]byte("alpha")),
		})
		tree.AddChild(lt.Root, &tree.LogicalNode{
			Type: tree.File, Name: "b.txt", Mode: 0644,
			Stream: iostream.NewMemoryStream([]byte("beta")),
		})
		return produceAll(t, lt,
			writeopts.WithIsoLevel(2),
			writeopts.WithRockRidge(true),
			writeopts.WithAlwaysGMT(true),
			writeopts.WithDefaultTimestamp(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)),
			writeopts.WithReplaceAttrs(writeopts.AttrKeep, writeopts.AttrKeep, writeopts.AttrKeep, writeopts.AttrKeep, writeopts.AttrDefault),
			writeopts.WithVolumeUUID("2024050112000000"),
		)
	}
	first := build()
	second := build()
	assert.Equal(t, first, second)
}

// TestProduce_VolumeUUIDOverride: the 16 UUID digits land verbatim in the PVD creation and
// modification timestamp fields.
func TestProduce_VolumeUUIDOverride(t *testing.T) {
	lt := tree.NewTree()
	tree.AddChild(lt.Root, &tree.LogicalNode{
		Type: tree.File, Name: "x", Mode: 0644,
		Stream: iostream.NewMemoryStream([]byte("x")),
	})
	data := produceAll(t, lt, writeopts.WithIsoLevel(1), writeopts.WithVolumeUUID("1999123123595900"))
	pvd := block(data, 16)
	assert.Equal(t, "1999123123595900", string(pvd[813:829]))
	assert.Equal(t, "1999123123595900", string(pvd[830:846]))
}

// TestProduce_CancelMidStream is spec §8 scenario 6: cancel after consuming a little, expect the
// next read to fail and the producer to unwind instead of completing the image.
func TestProduce_CancelMidStream(t *testing.T) {
	lt := tree.NewTree()
	payload := bytes.Repeat([]byte{0xA5}, 8<<20) // 8 MiB, far more than the fifo holds
	tree.AddChild(lt.Root, &tree.LogicalNode{
		Type: tree.File, Name: "big.bin", Mode: 0644,
		Stream: iostream.NewMemoryStream(payload),
	})

	w, err := NewWriter(lt, writeopts.WithIsoLevel(2))
	require.NoError(t, err)
	bs, err := w.Produce(context.Background())
	require.NoError(t, err)

	buf := make([]byte, 64*1024)
	var consumed int
	for consumed < 1<<20 {
		n, err := bs.Read(buf)
		require.NoError(t, err)
		require.NotZero(t, n)
		consumed += n
	}

	bs.Cancel()

	// Drain whatever was already buffered; the stream must end in an error, not a clean EOF.
	var readErr error
	for i := 0; i < 10_000; i++ {
		_, err := bs.Read(buf)
		if err != nil {
			readErr = err
			break
		}
	}
	require.Error(t, readErr)
	assert.NotEqual(t, io.EOF, readErr, "cancellation must not look like clean completion")
}

// TestProduce_PaddingGrowsTinyImages: an image whose declared content ends before block 32 is
// padded out (spec §4.2, boundary "single-block image attempted").
func TestProduce_PaddingGrowsTinyImages(t *testing.T) {
	lt := tree.NewTree()
	data := produceAll(t, lt, writeopts.WithIsoLevel(1))
	assert.GreaterOrEqual(t, len(data), 32*consts.ISO9660_SECTOR_SIZE)
}
