// Package lowlevel derives the on-disc directory hierarchies (spec §4.1) from a single logical
// tree: one per active format (ECMA-119 always, Joliet and ISO 9660:1999 optionally), each with
// its own name translation, sibling-uniqueness mangling, sort order, and deep-path relocation.
package lowlevel

import (
	"fmt"
	"sort"
	"strings"

	"github.com/bgrewell/isoforge/pkg/consts"
	"github.com/bgrewell/isoforge/pkg/iostream"
	"github.com/bgrewell/isoforge/pkg/tree"
)

// Format selects which on-disc naming convention a LowLevelNode tree is built for.
type Format uint8

const (
	ECMA119 Format = iota
	Joliet
	ISO1999
)

// BuildOpts carries the subset of the production toggles that shape a derived tree: the ISO
// level's identifier length limits, the naming relaxations, and whether deep paths are left in
// place or relocated.
type BuildOpts struct {
	IsoLevel           int // 1, 2, or 3; governs ECMA-119 identifier length limits
	AllowDeepPaths     bool
	AllowLongerPaths   bool
	Max37CharFilenames bool
	OmitVersionNumbers bool // drop the ";1" suffix from file identifiers
	ForceDots          bool // extensionless file identifiers get a trailing '.' (ECMA-119 7.5.1)
	AllowLowercase     bool
	AllowFullAscii     bool
	JolietLongerPaths  bool
	HardLinks          bool // coalesce nodes with equal source identity onto one image inode
}

// LowLevelNode mirrors a tree.LogicalNode but carries the format-specific identifier it will be
// written under, plus the bookkeeping deep-path relocation and hardlink consolidation need.
type LowLevelNode struct {
	Logical    *tree.LogicalNode
	Identifier string // the mangled, format-legal on-disc name
	Parent     *LowLevelNode
	Children   []*LowLevelNode

	// ImageInode is the inode number this node carries in the produced image; nodes coalesced by
	// hardlink consolidation share one. NLink is the count of nodes sharing it.
	ImageInode uint32
	NLink      uint32

	// Relocated is set on the real directory once it has been moved under RR_MOVED; RelocatedFrom
	// is its original parent, needed to emit the PL entry pointing back (spec §4.1).
	Relocated     bool
	RelocatedFrom *LowLevelNode

	// RelocationTarget is set on the placeholder node left behind at a relocated directory's
	// original slot; it carries the same Identifier as the real directory but points at it so the
	// dir-area writer can emit a CL entry there instead of recursing into real content.
	RelocationTarget *LowLevelNode

	// IsRRMovedDir marks the synthetic hidden directory relocation targets hang off of.
	IsRRMovedDir bool

	// Block/extent fields are populated by the writer's declare_blocks pass; zero until then.
	ExtentBlock uint32
	ExtentSize  uint32
}

func (n *LowLevelNode) IsDir() bool { return n.Logical.IsDir() }

// Depth returns the number of directory levels between the root (depth 0) and n, within this
// format's tree (post-relocation, so it reflects the writer's real nesting).
func (n *LowLevelNode) Depth() int {
	depth := 0
	cur := n
	for cur.Parent != nil {
		depth++
		cur = cur.Parent
	}
	return depth
}

// Path returns the on-disc, '/'-joined path built from Identifier at every level.
func (n *LowLevelNode) Path() string {
	if n.Parent == nil {
		return "/"
	}
	parentPath := n.Parent.Path()
	if parentPath == "/" {
		return "/" + n.Identifier
	}
	return parentPath + "/" + n.Identifier
}

// Tree is one format's complete derived hierarchy.
type Tree struct {
	Format Format
	Root   *LowLevelNode
	// Relocations lists every node moved under RR_MOVED, in the order encountered, for the
	// RE entry and RR_MOVED directory construction (spec §4.1/Rock Ridge).
	Relocations []*LowLevelNode
}

// Build derives a Tree for format f from the logical tree rooted at root, per spec §4.1: copy,
// translate every name, mangle for sibling uniqueness, sort, relocate any node that would exceed
// the format's depth or path-length limits, then assign image inode numbers.
func Build(root *tree.LogicalNode, f Format, o BuildOpts) (*Tree, error) {
	if o.IsoLevel == 0 {
		o.IsoLevel = 1
	}
	llRoot := &LowLevelNode{Logical: root, Identifier: ""}
	if err := copyChildren(llRoot, root, f, o); err != nil {
		return nil, err
	}
	t := &Tree{Format: f, Root: llRoot}
	if err := mangleSiblings(llRoot, f, o); err != nil {
		return nil, err
	}
	sortSiblings(llRoot)

	maxDepth := consts.MaxDirectoryDepth
	maxPath := maxPathLength(f)
	if o.AllowDeepPaths {
		maxDepth = 1 << 30
	}
	if o.AllowLongerPaths {
		maxPath = 1 << 30
	}
	if err := relocateDeepPaths(t, maxDepth, maxPath, o); err != nil {
		return nil, err
	}

	assignInodes(t, o.HardLinks)
	return t, nil
}

func maxPathLength(f Format) int {
	switch f {
	case ISO1999:
		return consts.ISO1999MaxPathLength
	default:
		return consts.MaxPathLength
	}
}

func copyChildren(llParent *LowLevelNode, logicalParent *tree.LogicalNode, f Format, o BuildOpts) error {
	for _, child := range logicalParent.Children {
		if err := child.Validate(); err != nil {
			return fmt.Errorf("lowlevel: %w", err)
		}
		id, err := translate(child.Name, child.IsDir(), f, o)
		if err != nil {
			return fmt.Errorf("lowlevel: translate %q: %w", child.Name, err)
		}
		llChild := &LowLevelNode{
			Logical:    child,
			Identifier: id,
			Parent:     llParent,
		}
		llParent.Children = append(llParent.Children, llChild)
		if child.IsDir() {
			if err := copyChildren(llChild, child, f, o); err != nil {
				return err
			}
		}
	}
	return nil
}

// translate applies the per-format name transform (spec §4.1): ECMA-119 restricts to d-characters
// and appends a ";1" version suffix on files, Joliet maps to UCS-2-safe characters with a relaxed
// length limit and no version suffix, 1999 shares ECMA-119's character rules with a longer limit.
func translate(name string, isDir bool, f Format, o BuildOpts) (string, error) {
	switch f {
	case Joliet:
		return translateJoliet(name, o), nil
	case ISO1999:
		return translateD(name, isDir, iso1999Limits(), o)
	default:
		return translateD(name, isDir, ecma119Limits(o), o)
	}
}

// nameLimits is the identifier length budget one format/level combination allows: a stem and
// extension cap for files (extension 0 means "no split, budget the whole identifier") and a
// single-component cap for directories.
type nameLimits struct {
	dir   int
	stem  int // files: stem budget when ext is capped separately (level 1 only)
	ext   int
	total int // files: whole-identifier budget, version suffix excluded
}

func ecma119Limits(o BuildOpts) nameLimits {
	switch {
	case o.Max37CharFilenames:
		return nameLimits{dir: 31, total: consts.Max37CharFilename}
	case o.IsoLevel <= 1:
		return nameLimits{dir: consts.Level1MaxFilename, stem: consts.Level1MaxFilename, ext: consts.Level1MaxExtension}
	default:
		return nameLimits{dir: consts.Level2MaxIdentifier, total: consts.Level2MaxIdentifier}
	}
}

func iso1999Limits() nameLimits {
	return nameLimits{dir: consts.ISO1999MaxPathLength, total: consts.ISO1999MaxPathLength}
}

// translateD implements ECMA-119 7.5/7.6 filename mapping: restrict to the active d-character
// set, split a file name on the last '.', enforce the level's stem/extension budgets, and append
// a ";1" version suffix unless versions are omitted. An identifier that maps to nothing at all is
// an error rather than an empty record.
func translateD(name string, isDir bool, lim nameLimits, o BuildOpts) (string, error) {
	if isDir {
		id := mapDChars(name, lim.dir, o)
		if id == "" {
			return "", fmt.Errorf("directory name maps to an empty identifier")
		}
		return id, nil
	}

	var stem, ext string
	if idx := strings.LastIndex(name, "."); idx >= 0 {
		stem, ext = name[:idx], name[idx+1:]
	} else {
		stem = name
	}

	if lim.ext > 0 {
		// Level 1: independent 8 + 3 budgets.
		stem = mapDChars(stem, lim.stem, o)
		ext = mapDChars(ext, lim.ext, o)
	} else {
		ext = mapDChars(ext, lim.total, o)
		budget := lim.total
		if ext != "" {
			budget -= 1 + len(ext)
		}
		if budget < 1 {
			budget = 1
		}
		stem = mapDChars(stem, budget, o)
	}
	if stem == "" && ext == "" {
		return "", fmt.Errorf("file name maps to an empty identifier")
	}

	id := stem
	if ext != "" {
		id += "." + ext
	} else if o.ForceDots {
		id += "."
	}
	if o.Max37CharFilenames || o.OmitVersionNumbers {
		// 37-character identifiers only fit with versions forcibly omitted (spec §3).
		return id, nil
	}
	return id + ";1", nil
}

// mapDChars maps input onto the active character set, truncated to maxChars: strict d-characters
// by default, lowercase admitted with AllowLowercase, and the full printable-ASCII range (bar the
// separators) with AllowFullAscii. Non-convertible characters become '_'.
func mapDChars(input string, maxChars int, o BuildOpts) string {
	if !o.AllowLowercase && !o.AllowFullAscii {
		input = strings.ToUpper(input)
	}
	var out strings.Builder
	for i := 0; i < len(input) && i < maxChars; i++ {
		c := input[i]
		switch {
		case o.AllowFullAscii && c >= 0x20 && c <= 0x7E && c != '/' && c != ';':
			out.WriteByte(c)
		case o.AllowLowercase && c >= 'a' && c <= 'z':
			out.WriteByte(c)
		case strings.IndexByte(consts.D_CHARACTERS, c) >= 0:
			out.WriteByte(c)
		default:
			out.WriteByte('_')
		}
	}
	return out.String()
}

// translateJoliet restricts a name to Joliet's legal character set (everything but the handful of
// c-characters ECMA-119 reserves) and truncates to the level's maximum component length; it does
// not uppercase or append a version suffix.
func translateJoliet(name string, o BuildOpts) string {
	maxLen := consts.JolietMaxComponent
	if o.JolietLongerPaths {
		maxLen = consts.JolietLongerMaxComponent
	}
	var out []rune
	for _, r := range name {
		if isJolietIllegal(r) {
			out = append(out, '_')
		} else {
			out = append(out, r)
		}
		if len(out) >= maxLen {
			break
		}
	}
	return string(out)
}

func isJolietIllegal(r rune) bool {
	switch r {
	case '*', '/', ':', ';', '?', '\\':
		return true
	}
	return r < 0x20
}

// mangleSiblings renames every member of each same-identifier collision group, the mangling half
// of spec §4.1 that keeps on-disc directory entries unique, then recurses.
func mangleSiblings(n *LowLevelNode, f Format, o BuildOpts) error {
	if err := mangleSiblingLevel(n, f, o); err != nil {
		return err
	}
	for _, c := range n.Children {
		if c.IsDir() {
			if err := mangleSiblings(c, f, o); err != nil {
				return err
			}
		}
	}
	return nil
}

// mangleSiblingLevel disambiguates only n's direct children, without recursing. Collision groups
// are renamed wholesale: every member gets a decimal suffix, starting at 0 and widening from 1 up
// to 7 digits as the number space fills, spliced in before the extension with the stem trimmed to
// make room. Seven digits exhausted is a hard error.
func mangleSiblingLevel(n *LowLevelNode, f Format, o BuildOpts) error {
	used := make(map[string]bool, len(n.Children))
	groups := make(map[string][]*LowLevelNode)
	var order []string
	for _, c := range n.Children {
		if !used[c.Identifier] {
			order = append(order, c.Identifier)
		}
		used[c.Identifier] = true
		groups[c.Identifier] = append(groups[c.Identifier], c)
	}

	renamed := false
	for _, id := range order {
		group := groups[id]
		if len(group) < 2 {
			continue
		}
		delete(used, id)
		next := 0
		for _, member := range group {
			for {
				if next >= 10_000_000 {
					return fmt.Errorf("lowlevel: too many files named %q in %q", id, n.Path())
				}
				candidate := spliceSuffix(member.Identifier, fmt.Sprintf("%d", next), f, o)
				next++
				if !used[candidate] {
					member.Identifier = candidate
					used[candidate] = true
					break
				}
			}
		}
		renamed = true
	}
	if renamed {
		sortSiblingLevel(n)
	}
	return nil
}

// spliceSuffix inserts a decimal disambiguation suffix into identifier at the end of its stem,
// trimming the stem (never below one character) to honor the format's length budget.
func spliceSuffix(identifier, suffix string, f Format, o BuildOpts) string {
	if f == Joliet {
		maxLen := consts.JolietMaxComponent
		if o.JolietLongerPaths {
			maxLen = consts.JolietLongerMaxComponent
		}
		if len(identifier)+len(suffix) > maxLen {
			identifier = identifier[:maxLen-len(suffix)]
		}
		return identifier + suffix
	}

	stem := identifier
	var tail string // ".EXT;1", ";1", or empty; the suffix goes immediately before it
	if idx := strings.LastIndex(identifier, ";"); idx >= 0 {
		stem, tail = identifier[:idx], identifier[idx:]
	}
	if idx := strings.LastIndex(stem, "."); idx >= 0 {
		tail = stem[idx:] + tail
		stem = stem[:idx]
	}

	stemBudget := stemLimit(f, o) - len(suffix)
	if stemBudget < 1 {
		stemBudget = 1
	}
	if len(stem) > stemBudget {
		stem = stem[:stemBudget]
	}
	return stem + suffix + tail
}

func stemLimit(f Format, o BuildOpts) int {
	if f == ISO1999 {
		return consts.ISO1999MaxPathLength
	}
	lim := ecma119Limits(o)
	if lim.ext > 0 {
		return lim.stem
	}
	return lim.total
}

// sortSiblings orders each directory's children per ECMA-119 9.3 (byte-value order of the
// identifier; for Joliet, byte order of the UCS-2BE form, which Go string comparison matches for
// the basic-multilingual-plane names Joliet allows), recursively.
func sortSiblings(n *LowLevelNode) {
	sortSiblingLevel(n)
	for _, c := range n.Children {
		if c.IsDir() {
			sortSiblings(c)
		}
	}
}

// sortSiblingLevel sorts only n's direct children, without recursing.
func sortSiblingLevel(n *LowLevelNode) {
	sort.Slice(n.Children, func(i, j int) bool {
		return n.Children[i].Identifier < n.Children[j].Identifier
	})
}

// relocateDeepPaths walks t looking for any directory that would exceed maxDepth or whose path
// would exceed maxPathLen, and moves it under a hidden, on-demand "RR_MOVED" directory at the
// root (spec §4.1). The original slot keeps a placeholder with the same identifier so the parent's
// listing is unchanged in shape; pkg/rockridge's CL/PL/RE entries (wired in by the dir-area writer)
// let an RRIP-aware reader still resolve the real path while a plain ECMA-119 reader just sees an
// empty directory there.
func relocateDeepPaths(t *Tree, maxDepth, maxPathLen int, o BuildOpts) error {
	var candidates []*LowLevelNode
	var walk func(n *LowLevelNode)
	walk = func(n *LowLevelNode) {
		for _, c := range n.Children {
			if c.IsDir() {
				if c.Depth() > maxDepth || len(c.Path()) > maxPathLen {
					candidates = append(candidates, c)
					continue // don't recurse into a node already slated for relocation
				}
				walk(c)
			}
		}
	}
	walk(t.Root)
	if len(candidates) == 0 {
		return nil
	}

	movedRoot := rrMovedDir(t)

	for _, c := range candidates {
		original := c.Parent
		// detach from original parent
		siblings := original.Children
		for i, s := range siblings {
			if s == c {
				original.Children = append(siblings[:i], siblings[i+1:]...)
				break
			}
		}

		placeholder := &LowLevelNode{
			Logical:          c.Logical,
			Identifier:       c.Identifier,
			Parent:           original,
			RelocationTarget: c,
		}
		original.Children = append(original.Children, placeholder)

		c.RelocatedFrom = original
		c.Relocated = true
		c.Parent = movedRoot
		movedRoot.Children = append(movedRoot.Children, c)
		t.Relocations = append(t.Relocations, c)
	}
	sortSiblings(movedRoot)
	// A relocated directory's placeholder keeps its original identifier, which can collide with a
	// sibling that only came into existence through another relocation (e.g. RR_MOVED itself);
	// re-mangle root's direct children only, since relocation never changes any deeper level.
	if err := mangleSiblingLevel(t.Root, t.Format, o); err != nil {
		return err
	}
	// RR_MOVED (and, when a relocation's original parent was root itself, a placeholder) was just
	// appended out of sort order; every other level is untouched and already sorted.
	sortSiblingLevel(t.Root)
	return nil
}

// rrMovedDir returns root's hidden RR_MOVED directory, creating it on first use. It is a synthetic
// directory with no counterpart in the logical tree the caller supplied.
func rrMovedDir(t *Tree) *LowLevelNode {
	for _, c := range t.Root.Children {
		if c.IsRRMovedDir {
			return c
		}
	}
	dir := &LowLevelNode{
		Logical:      &tree.LogicalNode{Type: tree.Directory, Name: consts.RRMovedDirectory},
		Identifier:   consts.RRMovedDirectory,
		Parent:       t.Root,
		IsRRMovedDir: true,
	}
	t.Root.Children = append(t.Root.Children, dir)
	return dir
}

// inodeKey is the consolidation tuple from spec §4.1: source filesystem/device/inode, stream
// identity, and the stat attributes that must match for two directory entries to legitimately be
// the same filesystem object in the produced image.
type inodeKey struct {
	src    tree.StreamIdentity
	stream iostream.Identity
	mode   uint32
	uid    uint32
	gid    uint32
	mtime  int64
}

// assignInodes numbers every node in t. With hardlinks off, or for nodes whose source inode is
// unknown (freshly added content), each node gets its own fresh image inode with nlink 1. With
// hardlinks on, nodes agreeing on the full consolidation key share one inode and carry the run
// length as their link count, so a Rock Ridge reader restores them as hardlinks (spec §4.1).
func assignInodes(t *Tree, hardlinks bool) {
	var all, placeholders []*LowLevelNode
	var walk func(n *LowLevelNode)
	walk = func(n *LowLevelNode) {
		for _, c := range n.Children {
			if c.RelocationTarget != nil {
				placeholders = append(placeholders, c)
				continue // the placeholder shares the real directory's identity
			}
			all = append(all, c)
			walk(c)
		}
	}
	walk(t.Root)

	var next uint32 = 1
	t.Root.ImageInode = next
	t.Root.NLink = 1
	next++

	if !hardlinks {
		for _, n := range all {
			n.ImageInode = next
			n.NLink = 1
			next++
		}
		copyPlaceholderInodes(placeholders)
		return
	}

	runs := make(map[inodeKey][]*LowLevelNode)
	var order []inodeKey
	for _, n := range all {
		ln := n.Logical
		if ln.Identity == (tree.StreamIdentity{}) {
			// Source inode unknown: never coalesced.
			n.ImageInode = next
			n.NLink = 1
			next++
			continue
		}
		k := inodeKey{
			src:   ln.Identity,
			mode:  ln.Mode,
			uid:   ln.UID,
			gid:   ln.GID,
			mtime: ln.Mtime.Unix(),
		}
		if ln.Stream != nil {
			k.stream = ln.Stream.Identity()
		}
		if _, seen := runs[k]; !seen {
			order = append(order, k)
		}
		runs[k] = append(runs[k], n)
	}
	for _, k := range order {
		run := runs[k]
		for _, n := range run {
			n.ImageInode = next
			n.NLink = uint32(len(run))
		}
		next++
	}

	copyPlaceholderInodes(placeholders)
}

func copyPlaceholderInodes(placeholders []*LowLevelNode) {
	for _, n := range placeholders {
		n.ImageInode = n.RelocationTarget.ImageInode
		n.NLink = n.RelocationTarget.NLink
	}
}
