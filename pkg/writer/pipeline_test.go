package writer

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bgrewell/isoforge/pkg/consts"
	"github.com/bgrewell/isoforge/pkg/eltorito"
	"github.com/bgrewell/isoforge/pkg/iostream"
	"github.com/bgrewell/isoforge/pkg/msg"
	"github.com/bgrewell/isoforge/pkg/tree"
	"github.com/bgrewell/isoforge/pkg/writeopts"
	"github.com/go-logr/logr"
)

func runPipeline(t *testing.T, lt *tree.LogicalTree, opts *writeopts.WriteOpts, boot *eltorito.ElTorito) (*BuildState, []byte) {
	t.Helper()
	s := NewBuildState(opts, lt, msg.NewQueue(logr.Discard()))
	s.BootCatalog = boot
	p := Build(s, boot != nil)
	require.NoError(t, p.DeclareAll(s))

	var out bytes.Buffer
	systemArea := make([]byte, 16*consts.ISO9660_SECTOR_SIZE)
	require.NoError(t, p.WriteAll(s, systemArea, &out))
	require.NoError(t, p.Free())
	return s, out.Bytes()
}

func contentTree() *tree.LogicalTree {
	lt := tree.NewTree()
	docs := &tree.LogicalNode{Type: tree.Directory, Name: "docs", Mode: 0755}
	tree.AddChild(lt.Root, docs)
	tree.AddChild(docs, &tree.LogicalNode{
		Type: tree.File, Name: "guide.txt", Mode: 0644,
		Stream: iostream.NewMemoryStream(bytes.Repeat([]byte("guide "), 1000)),
	})
	tree.AddChild(lt.Root, &tree.LogicalNode{
		Type: tree.File, Name: "readme.md", Mode: 0644,
		Stream: iostream.NewMemoryStream([]byte("# readme\n")),
	})
	tree.AddChild(lt.Root, &tree.LogicalNode{
		Type: tree.Symlink, Name: "latest", Mode: 0777, LinkTarget: "docs/guide.txt",
	})
	return lt
}

// TestPipeline_DeclaredBlocksEqualEmittedBytes is the core spec §3 invariant: the sum of declared
// blocks equals the byte stream's length, across every combination of enabled hierarchies.
func TestPipeline_DeclaredBlocksEqualEmittedBytes(t *testing.T) {
	cases := []struct {
		name string
		opts *writeopts.WriteOpts
	}{
		{"level1 plain", writeopts.New(writeopts.WithIsoLevel(1))},
		{"level2 rockridge", writeopts.New(writeopts.WithIsoLevel(2), writeopts.WithRockRidge(true))},
		{"rockridge joliet", writeopts.New(writeopts.WithRockRidge(true), writeopts.WithJoliet(true))},
		{"everything", writeopts.New(
			writeopts.WithIsoLevel(3),
			writeopts.WithRockRidge(true),
			writeopts.WithJoliet(true),
			writeopts.WithIso1999(true),
			writeopts.WithMD5Checksums(writeopts.MD5Session),
			writeopts.WithHardLinks(true),
		)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s, data := runPipeline(t, contentTree(), tc.opts, nil)
			assert.Equal(t, int(s.TotalBlocks)*consts.ISO9660_SECTOR_SIZE, len(data))
		})
	}
}

// TestPipeline_DescriptorBlocksAreContiguous: descriptors land right after the system area in
// writer order, then the terminator, regardless of how much body space each writer declared.
func TestPipeline_DescriptorBlocksAreContiguous(t *testing.T) {
	opts := writeopts.New(writeopts.WithRockRidge(true), writeopts.WithJoliet(true), writeopts.WithIso1999(true))
	s, data := runPipeline(t, contentTree(), opts, nil)

	assert.Equal(t, uint32(16), s.PVDBlock)
	assert.Equal(t, uint32(17), s.SVDBlock)
	assert.Equal(t, uint32(18), s.EVDBlock)

	sector := func(lba uint32) []byte {
		return data[int(lba)*consts.ISO9660_SECTOR_SIZE : (int(lba)+1)*consts.ISO9660_SECTOR_SIZE]
	}
	assert.Equal(t, byte(1), sector(16)[0])   // PVD
	assert.Equal(t, byte(2), sector(17)[0])   // SVD (Joliet)
	assert.Equal(t, byte(2), sector(18)[0])   // EVD (1999)
	assert.Equal(t, byte(255), sector(19)[0]) // terminator
}

// TestPipeline_ElToritoCatalog: the boot record volume descriptor points at the catalog block and
// the catalog's default entry carries the boot image's assigned LBA (spec §4.7).
func TestPipeline_ElToritoCatalog(t *testing.T) {
	lt := tree.NewTree()
	bootImage := bytes.Repeat([]byte{0x90}, 4096)
	tree.AddChild(lt.Root, &tree.LogicalNode{
		Type: tree.File, Name: "boot.img", Mode: 0644,
		Stream: iostream.NewMemoryStream(bootImage),
	})
	tree.AddChild(lt.Root, &tree.LogicalNode{Type: tree.BootCatalogPlaceholder, Name: "boot.cat", Mode: 0644})

	boot := &eltorito.ElTorito{
		Platform: eltorito.BIOS,
		Entries: []*eltorito.ElToritoEntry{{
			Platform:  eltorito.BIOS,
			Emulation: eltorito.NoEmulation,
			BootFile:  "/boot.img",
		}},
	}

	opts := writeopts.New(writeopts.WithIsoLevel(2))
	s, data := runPipeline(t, lt, opts, boot)

	assert.Equal(t, uint32(16), s.PVDBlock)
	assert.Equal(t, uint32(17), s.BRVDBlock)

	brvd := data[17*consts.ISO9660_SECTOR_SIZE : 18*consts.ISO9660_SECTOR_SIZE]
	assert.Equal(t, byte(0), brvd[0])
	assert.Contains(t, string(brvd[7:39]), "EL TORITO SPECIFICATION")
	catalogLBA := binary.LittleEndian.Uint32(brvd[71:75])
	assert.Equal(t, s.BootCatalogBlock, catalogLBA)

	catalog := data[int(catalogLBA)*consts.ISO9660_SECTOR_SIZE : (int(catalogLBA)+1)*consts.ISO9660_SECTOR_SIZE]
	assert.Equal(t, byte(0x01), catalog[0], "validation entry header")
	assert.Equal(t, byte(0x55), catalog[0x1E])
	assert.Equal(t, byte(0xAA), catalog[0x1F])

	// Validation entry words must sum to zero.
	var sum uint16
	for i := 0; i < 32; i += 2 {
		sum += binary.LittleEndian.Uint16(catalog[i : i+2])
	}
	assert.Equal(t, uint16(0), sum)

	entry := catalog[32:64]
	assert.Equal(t, byte(0x88), entry[0], "default entry is bootable")
	bootLBA := binary.LittleEndian.Uint32(entry[8:12])
	sectors := binary.LittleEndian.Uint16(entry[6:8])
	assert.Equal(t, uint16(8), sectors, "4096 bytes = 8 virtual 512-byte sectors")

	// The LBA recorded in the catalog must hold the boot image's bytes.
	got := data[int(bootLBA)*consts.ISO9660_SECTOR_SIZE : int(bootLBA)*consts.ISO9660_SECTOR_SIZE+len(bootImage)]
	assert.Equal(t, bootImage, got)
}

// TestPipeline_BootInfoTablePatch: a PatchInfoTable entry rewrites bytes 8..64 of the outgoing
// boot image with the PVD LBA, boot file LBA, size, and checksum — while leaving the source
// stream untouched.
func TestPipeline_BootInfoTablePatch(t *testing.T) {
	lt := tree.NewTree()
	bootImage := bytes.Repeat([]byte{0xEE}, 2048)
	stream := iostream.NewMemoryStream(bootImage)
	tree.AddChild(lt.Root, &tree.LogicalNode{
		Type: tree.File, Name: "isolinux.bin", Mode: 0644,
		Stream: stream,
	})

	boot := &eltorito.ElTorito{
		Platform: eltorito.BIOS,
		Entries: []*eltorito.ElToritoEntry{{
			Platform:       eltorito.BIOS,
			Emulation:      eltorito.NoEmulation,
			BootFile:       "/isolinux.bin",
			PatchInfoTable: true,
		}},
	}

	opts := writeopts.New(writeopts.WithIsoLevel(2))
	s, data := runPipeline(t, lt, opts, boot)

	node := lt.Root.Children[0]
	fs := s.FileSrcByNode[node]
	require.NotNil(t, fs)
	bootLBA := fs.Sections[0].Block

	emitted := data[int(bootLBA)*consts.ISO9660_SECTOR_SIZE : int(bootLBA)*consts.ISO9660_SECTOR_SIZE+2048]
	assert.Equal(t, s.PVDBlock, binary.LittleEndian.Uint32(emitted[8:12]))
	assert.Equal(t, bootLBA, binary.LittleEndian.Uint32(emitted[12:16]))
	assert.Equal(t, uint32(2048), binary.LittleEndian.Uint32(emitted[16:20]))
	assert.NotEqual(t, bootImage[8:64], emitted[8:64])
	assert.Equal(t, bootImage[:8], emitted[:8], "bytes before the table are untouched")
	assert.Equal(t, bootImage[64:], emitted[64:], "bytes after the table are untouched")
}

// TestPipeline_RRMovedRelocationEmitsCL: spec §8 scenario 4 at the pipeline level — the deep
// directory's placeholder record carries a CL entry whose LBA is the relocated directory's real
// area under RR_MOVED.
func TestPipeline_RRMovedRelocationEmitsCL(t *testing.T) {
	lt := tree.NewTree()
	cur := lt.Root
	for _, name := range []string{"a", "b", "c", "d", "e", "f", "g", "h", "i"} {
		child := &tree.LogicalNode{Type: tree.Directory, Name: name, Mode: 0755}
		tree.AddChild(cur, child)
		cur = child
	}
	tree.AddChild(cur, &tree.LogicalNode{
		Type: tree.File, Name: "leaf", Mode: 0644,
		Stream: iostream.NewMemoryStream([]byte("leaf")),
	})

	opts := writeopts.New(writeopts.WithIsoLevel(2), writeopts.WithRockRidge(true))
	s, data := runPipeline(t, lt, opts, nil)

	require.NotNil(t, s.ECMA119)
	require.NotEmpty(t, s.ECMA119.Relocations)
	moved := s.ECMA119.Relocations[0]
	movedArea := s.DirAreas[moved]
	require.NotNil(t, movedArea)

	// Find the placeholder's original parent area and check the CL target in its emitted records.
	var holderParent *dirArea
	for node := range s.DirAreas {
		if node.RelocationTarget == moved {
			holderParent = s.DirAreas[node.Parent]
		}
	}
	require.NotNil(t, holderParent, "expected a placeholder to have been declared")

	area := data[int(holderParent.LBA)*consts.ISO9660_SECTOR_SIZE : int(holderParent.LBA)*consts.ISO9660_SECTOR_SIZE+int(holderParent.Size)]
	idx := bytes.Index(area, append([]byte("CL"), 0x0C))
	require.GreaterOrEqual(t, idx, 0, "expected a CL entry in the placeholder's parent area")
	clLBA := binary.LittleEndian.Uint32(area[idx+4 : idx+8])
	assert.Equal(t, movedArea.LBA, clLBA, "CL must point at the relocated directory's real extent")
}
