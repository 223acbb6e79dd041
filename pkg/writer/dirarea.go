package writer

import (
	"fmt"
	"strings"
	"time"

	"github.com/bgrewell/isoforge/pkg/consts"
	"github.com/bgrewell/isoforge/pkg/directory"
	"github.com/bgrewell/isoforge/pkg/encoding"
	"github.com/bgrewell/isoforge/pkg/lowlevel"
	"github.com/bgrewell/isoforge/pkg/path"
	"github.com/bgrewell/isoforge/pkg/rockridge"
	"github.com/bgrewell/isoforge/pkg/susp"
	"github.com/bgrewell/isoforge/pkg/tree"
	"github.com/bgrewell/isoforge/pkg/writeopts"
	"github.com/go-logr/logr"
)

// treeCfg parameterizes the directory-area builder shared by the ECMA-119, Joliet, and ISO
// 9660:1999 writers (spec §4.1/§4.3): each format encodes identifiers differently and only
// ECMA-119 carries Rock Ridge.
type treeCfg struct {
	encodeName      func(name string) []byte
	rockRidge       bool
	includeSymlinks bool // Joliet omits symlinks entirely (spec §8 scenario 2)
	includeSpecial  bool
}

// areaPacker simulates the "no record crosses a block boundary" packing rule (ECMA-119 6.8.1)
// without materializing bytes, so DeclareBlocks can compute a directory's total area size before
// any LBA is known.
type areaPacker struct {
	used  uint32
	total uint32
}

func (p *areaPacker) add(size uint32) {
	if p.used+size > consts.ISO9660_SECTOR_SIZE {
		p.total += consts.ISO9660_SECTOR_SIZE - p.used
		p.used = 0
	}
	p.used += size
	p.total += size
}

func (p *areaPacker) finish() uint32 {
	if p.used > 0 {
		p.total += consts.ISO9660_SECTOR_SIZE - p.used
		p.used = 0
	}
	return p.total
}

// blockCursor mirrors areaPacker's packing decisions while actually writing bytes into buf.
type blockCursor struct {
	buf    []byte
	offset uint32
}

func (c *blockCursor) write(data []byte) {
	size := uint32(len(data))
	used := c.offset % consts.ISO9660_SECTOR_SIZE
	if used+size > consts.ISO9660_SECTOR_SIZE && used != 0 {
		c.offset += consts.ISO9660_SECTOR_SIZE - used
	}
	copy(c.buf[c.offset:], data)
	c.offset += size
}

// fileSectionCount reports how many ISO_EXTENT_SIZE-bounded sections n's content will occupy
// (spec §4.4), and rejects sizes the selected ISO level cannot represent: multi-extent files are
// legal only at level 3 (spec §3). It only needs the stream's size, not an assigned block, so it's
// safe to call during DeclareBlocks before any FileSrc has LBAs.
func fileSectionCount(s *BuildState, n *tree.LogicalNode) (int, error) {
	if n.Stream == nil {
		return 1, nil
	}
	size, err := n.Stream.Size()
	if err != nil {
		return 0, fmt.Errorf("writer: size stream for %q: %w", n.Name, err)
	}
	if size == 0 {
		return 1, nil
	}
	sections := int((size + consts.ISO_EXTENT_SIZE - 1) / consts.ISO_EXTENT_SIZE)
	if sections > 1 && s.Opts.IsoLevel < 3 {
		return 0, fmt.Errorf("writer: file %q too big for ISO level %d", n.Name, s.Opts.IsoLevel)
	}
	return sections, nil
}

// Effective-attribute helpers: the replace_* options substitute the WriteOpts defaults for the
// values carried on the logical tree (spec §3). AttrSupply and AttrDefault both read the Default*
// fields, which WithDefault* options populate.

func effMode(o *writeopts.WriteOpts, ln *tree.LogicalNode) uint32 {
	const typeMask = 0170000
	replace := o.ReplaceFileMode
	def := o.DefaultFileMode
	if ln.IsDir() {
		replace = o.ReplaceDirMode
		def = o.DefaultDirMode
	}
	if replace == writeopts.AttrKeep {
		return ln.Mode
	}
	return (ln.Mode & typeMask) | (def &^ typeMask)
}

func effUID(o *writeopts.WriteOpts, ln *tree.LogicalNode) uint32 {
	if o.ReplaceUID == writeopts.AttrKeep {
		return ln.UID
	}
	return o.DefaultUID
}

func effGID(o *writeopts.WriteOpts, ln *tree.LogicalNode) uint32 {
	if o.ReplaceGID == writeopts.AttrKeep {
		return ln.GID
	}
	return o.DefaultGID
}

func effTime(o *writeopts.WriteOpts, t time.Time) time.Time {
	if o.ReplaceTimestamps != writeopts.AttrKeep {
		t = o.DefaultTimestamp
	}
	if t.IsZero() {
		t = time.Unix(0, 0).UTC()
	}
	if o.AlwaysGMT {
		t = t.UTC()
	}
	return t
}

// rrDot builds the Rock Ridge system use area for a directory's own "." or ".." entry: the PX of
// the directory the entry denotes, plus (on root's ".") the SP and ER entries SUSP-112 requires
// to announce the extension. A relocated directory (one moved under RR_MOVED) tags its "." with
// RE and its ".." with a PL pointing back at its real parent's extent, so an RRIP-aware reader
// can still walk it by its true path (spec §4.1).
func rrDot(s *BuildState, dir *lowlevel.LowLevelNode, isRootSelf, isDotSelf bool) []byte {
	var out []byte
	if isRootSelf {
		out = append(out, susp.MarshalSharingProtocolIndicator(0)...)
	}

	denoted := dir
	if !isDotSelf && dir.Parent != nil {
		denoted = dir.Parent
	}
	out = append(out, marshalPX(s, denoted)...)

	if dir.Relocated {
		if isDotSelf {
			out = append(out, rockridge.MarshalRE()...)
		} else if dir.RelocatedFrom != nil {
			var loc uint32
			if area, ok := s.DirAreas[dir.RelocatedFrom]; ok {
				loc = area.LBA
			}
			out = append(out, rockridge.MarshalPL(loc)...)
		}
	}

	if isRootSelf {
		out = append(out, susp.MarshalExtensionRecord(&susp.ExtensionRecord{
			Version:    rockridge.ROCK_RIDGE_VERSION,
			Identifier: rockridge.ROCK_RIDGE_IDENTIFIER,
			Descriptor: "THE ROCK RIDGE INTERCHANGE PROTOCOL",
			Source:     "PLEASE CONTACT DISC PUBLISHER FOR SPECIFICATION SOURCE",
		})...)
	}
	return out
}

// marshalPX encodes n's POSIX file attributes, carrying the image inode number assigned by
// hardlink consolidation unless the RRIP 1.10 signature without PX inodes was requested (spec §3:
// rrip_version_1_10, rrip_1_10_px_ino).
func marshalPX(s *BuildState, n *lowlevel.LowLevelNode) []byte {
	ln := n.Logical
	nlink := n.NLink
	if nlink == 0 {
		nlink = 1
	}
	includeSerial := !s.Opts.RRIPVersion110 || s.Opts.RRIP110PXInode
	return rockridge.MarshalPX(effMode(s.Opts, ln), nlink, effUID(s.Opts, ln), effGID(s.Opts, ln), n.ImageInode, includeSerial)
}

// marshalTF encodes ln's modify/access/attribute-change timestamps in the short 7-byte form.
// TF flag bits: 0x02 modify, 0x04 access, 0x08 attributes.
func marshalTF(s *BuildState, ln *tree.LogicalNode) []byte {
	stamps := make([][]byte, 0, 3)
	for _, t := range []time.Time{ln.Mtime, ln.Atime, ln.Ctime} {
		enc, err := encoding.EncodeDirectoryTime(effTime(s.Opts, t))
		if err != nil {
			return nil
		}
		stamps = append(stamps, enc)
	}
	return rockridge.MarshalTF(0x0E, false, stamps)
}

// rrChild builds the Rock Ridge system use area for a regular (non-dot) directory entry: PX, the
// original name in NM, timestamps in TF, the SL target for symlinks, and — on a relocation
// placeholder standing in for a directory moved under RR_MOVED — a CL entry pointing at the real
// directory's extent instead of being recursed into (spec §4.1).
func rrChild(s *BuildState, child *lowlevel.LowLevelNode) []byte {
	ln := child.Logical
	var out []byte
	out = append(out, marshalPX(s, child)...)
	out = append(out, rockridge.MarshalNM(ln.Name, false, false, false)...)
	out = append(out, marshalTF(s, ln)...)
	if ln.Type == tree.Symlink {
		out = append(out, rockridge.MarshalSL(symlinkComponents(ln.LinkTarget), false)...)
	}
	if child.RelocationTarget != nil {
		var loc uint32
		if area, ok := s.DirAreas[child.RelocationTarget]; ok {
			loc = area.LBA
		}
		out = append(out, rockridge.MarshalCL(loc)...)
	}
	return out
}

func symlinkComponents(target string) []rockridge.SLComponent {
	var comps []rockridge.SLComponent
	if strings.HasPrefix(target, "/") {
		comps = append(comps, rockridge.SLComponent{Root: true})
	}
	for _, part := range strings.Split(strings.Trim(target, "/"), "/") {
		switch part {
		case "":
			continue
		case ".":
			comps = append(comps, rockridge.SLComponent{Current: true})
		case "..":
			comps = append(comps, rockridge.SLComponent{Parent: true})
		default:
			comps = append(comps, rockridge.SLComponent{Content: part})
		}
	}
	return comps
}

// dirChildEntry is one record's worth of bookkeeping needed by both the size pass and the write
// pass: how many on-disc records it expands to (1, except N for a multi-section file) and the
// shared inputs (identifier bytes, system use bytes) that determine each record's length.
type dirChildEntry struct {
	child      *lowlevel.LowLevelNode // nil for "." / ".."
	dotKind    byte                   // 0 = not a dot entry, 1 = ".", 2 = ".."
	identifier []byte
	systemUse  []byte
	sections   int
}

func buildEntries(s *BuildState, parent *lowlevel.LowLevelNode, cfg treeCfg, isRoot bool) ([]dirChildEntry, error) {
	entries := []dirChildEntry{
		{dotKind: 1, identifier: []byte{0x00}, systemUse: rrDotIf(cfg, s, parent, isRoot, true)},
		{dotKind: 2, identifier: []byte{0x01}, systemUse: rrDotIf(cfg, s, parent, false, false)},
	}
	for _, child := range parent.Children {
		if child.Logical.Type == tree.Symlink && !cfg.includeSymlinks {
			continue
		}
		if child.Logical.Type == tree.Special && !cfg.includeSpecial {
			continue
		}
		sections := 1
		if child.Logical.Type == tree.File {
			n, err := fileSectionCount(s, child.Logical)
			if err != nil {
				return nil, err
			}
			sections = n
		}
		entries = append(entries, dirChildEntry{
			child:      child,
			identifier: cfg.encodeName(child.Identifier),
			systemUse:  rrChildIf(cfg, s, child),
			sections:   sections,
		})
	}
	return entries, nil
}

func rrDotIf(cfg treeCfg, s *BuildState, parent *lowlevel.LowLevelNode, isRootSelf, isDotSelf bool) []byte {
	if !cfg.rockRidge {
		return nil
	}
	return susp110Terminate(s, rrDot(s, parent, isRootSelf, isDotSelf))
}

func rrChildIf(cfg treeCfg, s *BuildState, child *lowlevel.LowLevelNode) []byte {
	if !cfg.rockRidge {
		return nil
	}
	return susp110Terminate(s, rrChild(s, child))
}

// susp110Terminate appends the ST area terminator SUSP 1.10 readers expect at the end of every
// system use area; SUSP 1.12 dropped it, so it's only written when 1.10 compatibility was asked
// for (spec §3: aaip_susp_1_10).
func susp110Terminate(s *BuildState, area []byte) []byte {
	if !s.Opts.AAIPSUSP110 || len(area) == 0 {
		return area
	}
	return append(area, susp.MarshalAreaTerminator()...)
}

func recordLen(idLen, susLen int) uint32 {
	size := 33 + idLen
	if idLen%2 == 0 {
		size++
	}
	size += susLen
	if size%2 != 0 {
		size++
	}
	return uint32(size)
}

// declareDirArea computes parent's packed record-area size (without needing any LBA), reserves
// the area at s.CurBlock, and records it in s.DirAreas, then recurses pre-order into child
// directories, matching spec §4.2's depth-first declare_blocks walk. Every directory visited is
// appended to order, which is therefore the exact sequence write_body must emit areas in for the
// bytes to land at their declared LBAs.
func declareDirArea(s *BuildState, parent *lowlevel.LowLevelNode, cfg treeCfg, isRoot bool, order *[]*lowlevel.LowLevelNode) error {
	entries, err := buildEntries(s, parent, cfg, isRoot)
	if err != nil {
		return err
	}
	var packer areaPacker
	for _, e := range entries {
		length := recordLen(len(e.identifier), len(e.systemUse))
		for i := 0; i < e.sections; i++ {
			packer.add(length)
		}
	}
	size := packer.finish()
	if size == 0 {
		size = consts.ISO9660_SECTOR_SIZE
	}
	blocks := size / consts.ISO9660_SECTOR_SIZE
	s.DirAreas[parent] = &dirArea{LBA: s.CurBlock, Size: size}
	s.CurBlock += blocks
	*order = append(*order, parent)

	for _, child := range parent.Children {
		if child.IsDir() {
			if err := declareDirArea(s, child, cfg, false, order); err != nil {
				return err
			}
		}
	}
	return nil
}

// writeDirArea marshals parent's directory records into a freshly allocated, zero-padded buffer
// sized to the area declareDirArea reserved, using the same entry list and packing discipline so
// the bytes produced always fit.
func writeDirArea(s *BuildState, parent *lowlevel.LowLevelNode, cfg treeCfg, isRoot bool) ([]byte, error) {
	area := s.DirAreas[parent]
	buf := make([]byte, area.Size)
	cursor := blockCursor{buf: buf}

	entries, err := buildEntries(s, parent, cfg, isRoot)
	if err != nil {
		return nil, err
	}

	// ".." denotes the parent's parent; for the root that is the root itself (ECMA-119 6.8.2.2).
	parentArea := area
	if parent.Parent != nil {
		parentArea = s.DirAreas[parent.Parent]
	}

	for _, e := range entries {
		var recTime []byte
		if e.dotKind != 0 {
			recTime, err = recordingTime(s, parent.Logical.Mtime)
		} else {
			recTime, err = recordingTime(s, e.child.Logical.Mtime)
		}
		if err != nil {
			return nil, err
		}

		switch {
		case e.dotKind == 1:
			data, err := directory.Marshal(directory.RecordFields{
				LocationOfExtent:     area.LBA,
				DataLength:           area.Size,
				RecordingDateAndTime: recTime,
				FileFlags:            &directory.FileFlags{Directory: true},
				VolumeSequenceNumber: 1,
				Identifier:           e.identifier,
				SystemUse:            e.systemUse,
			})
			if err != nil {
				return nil, err
			}
			cursor.write(data)
		case e.dotKind == 2:
			data, err := directory.Marshal(directory.RecordFields{
				LocationOfExtent:     parentArea.LBA,
				DataLength:           parentArea.Size,
				RecordingDateAndTime: recTime,
				FileFlags:            &directory.FileFlags{Directory: true},
				VolumeSequenceNumber: 1,
				Identifier:           e.identifier,
				SystemUse:            e.systemUse,
			})
			if err != nil {
				return nil, err
			}
			cursor.write(data)
		case e.child.Logical.Type == tree.Directory:
			childArea := s.DirAreas[e.child]
			data, err := directory.Marshal(directory.RecordFields{
				LocationOfExtent:     childArea.LBA,
				DataLength:           childArea.Size,
				RecordingDateAndTime: recTime,
				FileFlags:            &directory.FileFlags{Directory: true},
				VolumeSequenceNumber: 1,
				Identifier:           e.identifier,
				SystemUse:            e.systemUse,
			})
			if err != nil {
				return nil, err
			}
			cursor.write(data)
		case e.child.Logical.Type == tree.File:
			fs := s.FileSrcByNode[e.child.Logical]
			for i, sec := range fs.Sections {
				flags := &directory.FileFlags{}
				if i < len(fs.Sections)-1 {
					flags.MultiExtent = true
				}
				data, err := directory.Marshal(directory.RecordFields{
					LocationOfExtent:     sec.Block,
					DataLength:           sec.Size,
					RecordingDateAndTime: recTime,
					FileFlags:            flags,
					VolumeSequenceNumber: 1,
					Identifier:           e.identifier,
					SystemUse:            e.systemUse,
				})
				if err != nil {
					return nil, err
				}
				cursor.write(data)
			}
		case e.child.Logical.Type == tree.BootCatalogPlaceholder:
			data, err := directory.Marshal(directory.RecordFields{
				LocationOfExtent:     s.BootCatalogBlock,
				DataLength:           consts.ISO9660_SECTOR_SIZE,
				RecordingDateAndTime: recTime,
				FileFlags:            &directory.FileFlags{},
				VolumeSequenceNumber: 1,
				Identifier:           e.identifier,
				SystemUse:            e.systemUse,
			})
			if err != nil {
				return nil, err
			}
			cursor.write(data)
		default: // Symlink, Special: zero-length record, attributes carried entirely in SystemUse
			data, err := directory.Marshal(directory.RecordFields{
				RecordingDateAndTime: recTime,
				FileFlags:            &directory.FileFlags{},
				VolumeSequenceNumber: 1,
				Identifier:           e.identifier,
				SystemUse:            e.systemUse,
			})
			if err != nil {
				return nil, err
			}
			cursor.write(data)
		}
	}

	return buf, nil
}

func recordingTime(s *BuildState, t time.Time) ([]byte, error) {
	return encoding.EncodeDirectoryTime(effTime(s.Opts, t))
}

// buildPathTable walks root breadth-first, assigning each directory the 1-based index ECMA-119
// 9.4 uses for the shared L- and M-path-tables' parent-directory-number fields.
func buildPathTable(s *BuildState, root *lowlevel.LowLevelNode, cfg treeCfg, logger logr.Logger) ([]*path.PathTableRecord, []*lowlevel.LowLevelNode, error) {
	var records []*path.PathTableRecord
	var order []*lowlevel.LowLevelNode

	type queued struct {
		node   *lowlevel.LowLevelNode
		parent uint16
	}
	queue := []queued{{node: root, parent: 1}}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		area := s.DirAreas[cur.node]
		rec := path.NewPathTableRecord(logger)
		rec.LocationOfExtent = area.LBA
		rec.ParentDirectoryNumber = cur.parent
		if cur.node == root {
			rec.DirectoryIdentifier = "\x00"
		} else {
			rec.DirectoryIdentifier = string(cfg.encodeName(cur.node.Identifier))
		}
		rec.DirectoryIdentifierLength = byte(len(rec.DirectoryIdentifier))

		records = append(records, rec)
		order = append(order, cur.node)
		selfIndex := uint16(len(records))

		for _, child := range cur.node.Children {
			if child.IsDir() {
				queue = append(queue, queued{node: child, parent: selfIndex})
			}
		}
	}
	return records, order, nil
}
