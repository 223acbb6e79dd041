package lowlevel

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/bgrewell/isoforge/pkg/iostream"
	"github.com/bgrewell/isoforge/pkg/tree"
)

func mkTree() *tree.LogicalTree {
	lt := tree.NewTree()
	docs := &tree.LogicalNode{Type: tree.Directory, Name: "documents", Mode: 0755}
	tree.AddChild(lt.Root, docs)
	tree.AddChild(docs, &tree.LogicalNode{Type: tree.File, Name: "readme.txt", Mode: 0644})
	tree.AddChild(docs, &tree.LogicalNode{Type: tree.File, Name: "readme.md", Mode: 0644})
	return lt
}

func TestBuild_TranslatesAndAppendsVersion(t *testing.T) {
	lt := mkTree()
	llt, err := Build(lt.Root, ECMA119, BuildOpts{IsoLevel: 2})
	assert.NoError(t, err)
	assert.Len(t, llt.Root.Children, 1)

	docs := llt.Root.Children[0]
	assert.Equal(t, "DOCUMENTS", docs.Identifier)
	assert.Len(t, docs.Children, 2)
	for _, c := range docs.Children {
		assert.Contains(t, c.Identifier, ";1")
	}
}

func TestBuild_Level1TruncatesTo8Plus3(t *testing.T) {
	lt := tree.NewTree()
	tree.AddChild(lt.Root, &tree.LogicalNode{Type: tree.Directory, Name: "documents", Mode: 0755})
	tree.AddChild(lt.Root, &tree.LogicalNode{Type: tree.File, Name: "changelog.text", Mode: 0644})

	llt, err := Build(lt.Root, ECMA119, BuildOpts{IsoLevel: 1})
	assert.NoError(t, err)

	byName := map[string]bool{}
	for _, c := range llt.Root.Children {
		byName[c.Identifier] = true
	}
	assert.True(t, byName["DOCUMENT"], "directory truncated to 8 characters, got %v", byName)
	assert.True(t, byName["CHANGELO.TEX;1"], "file truncated to 8+3, got %v", byName)
}

func TestBuild_OmitVersionNumbers(t *testing.T) {
	lt := tree.NewTree()
	tree.AddChild(lt.Root, &tree.LogicalNode{Type: tree.File, Name: "readme.txt", Mode: 0644})

	llt, err := Build(lt.Root, ECMA119, BuildOpts{IsoLevel: 2, OmitVersionNumbers: true})
	assert.NoError(t, err)
	assert.Equal(t, "README.TXT", llt.Root.Children[0].Identifier)
}

// TestBuild_ManglesCollisionGroup exercises the collision semantics of spec §8 scenario 5: three
// sources that all translate to FOO.TXT at level 1 come out as FOO0.TXT, FOO1.TXT, FOO2.TXT (in
// some order), all unique, all within the 8+3 budget.
func TestBuild_ManglesCollisionGroup(t *testing.T) {
	lt := tree.NewTree()
	tree.AddChild(lt.Root, &tree.LogicalNode{Type: tree.File, Name: "foo.txt", Mode: 0644})
	tree.AddChild(lt.Root, &tree.LogicalNode{Type: tree.File, Name: "Foo.txt", Mode: 0644})
	tree.AddChild(lt.Root, &tree.LogicalNode{Type: tree.File, Name: "FOO.txt", Mode: 0644})

	llt, err := Build(lt.Root, ECMA119, BuildOpts{IsoLevel: 1})
	assert.NoError(t, err)
	assert.Len(t, llt.Root.Children, 3)

	got := map[string]bool{}
	for _, c := range llt.Root.Children {
		got[c.Identifier] = true
	}
	assert.Len(t, got, 3, "identifiers must be unique after mangling")
	for _, want := range []string{"FOO0.TXT;1", "FOO1.TXT;1", "FOO2.TXT;1"} {
		assert.True(t, got[want], "expected %s among %v", want, got)
	}
}

func TestBuild_MangleKeepsSiblingsSorted(t *testing.T) {
	lt := tree.NewTree()
	tree.AddChild(lt.Root, &tree.LogicalNode{Type: tree.File, Name: "b.txt", Mode: 0644})
	tree.AddChild(lt.Root, &tree.LogicalNode{Type: tree.File, Name: "B.TXT", Mode: 0644})
	tree.AddChild(lt.Root, &tree.LogicalNode{Type: tree.File, Name: "a.txt", Mode: 0644})

	llt, err := Build(lt.Root, ECMA119, BuildOpts{IsoLevel: 1})
	assert.NoError(t, err)
	for i := 1; i < len(llt.Root.Children); i++ {
		assert.Less(t, llt.Root.Children[i-1].Identifier, llt.Root.Children[i].Identifier)
	}
}

func TestBuild_JolietDoesNotUppercaseOrVersion(t *testing.T) {
	lt := mkTree()
	llt, err := Build(lt.Root, Joliet, BuildOpts{})
	assert.NoError(t, err)

	docs := llt.Root.Children[0]
	assert.Equal(t, "documents", docs.Identifier)
	for _, c := range docs.Children {
		assert.NotContains(t, c.Identifier, ";")
	}
}

func TestRelocateDeepPaths_MovesOverdeepDirectoryUnderRRMoved(t *testing.T) {
	lt := tree.NewTree()
	cur := lt.Root
	for i := 0; i < 12; i++ {
		child := &tree.LogicalNode{Type: tree.Directory, Name: "d", Mode: 0755}
		tree.AddChild(cur, child)
		cur = child
	}

	llt, err := Build(lt.Root, ECMA119, BuildOpts{IsoLevel: 2})
	assert.NoError(t, err)
	assert.NotEmpty(t, llt.Relocations)

	var movedRoot *LowLevelNode
	for _, c := range llt.Root.Children {
		if c.IsRRMovedDir {
			movedRoot = c
		}
	}
	if assert.NotNil(t, movedRoot, "expected an RR_MOVED directory under root") {
		assert.Equal(t, "RR_MOVED", movedRoot.Identifier)
	}

	for _, r := range llt.Relocations {
		assert.True(t, r.Relocated)
		assert.Same(t, movedRoot, r.Parent)
		assert.NotNil(t, r.RelocatedFrom)
	}

	// The original slot keeps a placeholder with the same identifier, carrying no children of its
	// own, so the parent directory's listing shape is unchanged.
	var placeholder *LowLevelNode
	var find func(n *LowLevelNode)
	find = func(n *LowLevelNode) {
		for _, c := range n.Children {
			if c.RelocationTarget != nil {
				placeholder = c
			}
			find(c)
		}
	}
	find(llt.Root)
	if assert.NotNil(t, placeholder, "expected a placeholder left at the relocated directory's original slot") {
		assert.Empty(t, placeholder.Children)
		assert.Same(t, llt.Relocations[0], placeholder.RelocationTarget)
	}
}

func TestAssignInodes_HardlinksCoalesceEqualIdentity(t *testing.T) {
	lt := tree.NewTree()
	shared := iostream.NewMemoryStream([]byte("same bytes"))
	identity := tree.StreamIdentity{FilesystemID: 1, DeviceID: 2, InodeID: 77}
	a := &tree.LogicalNode{Type: tree.File, Name: "a", Mode: 0644, Stream: shared, Identity: identity}
	b := &tree.LogicalNode{Type: tree.File, Name: "b", Mode: 0644, Stream: shared, Identity: identity}
	c := &tree.LogicalNode{Type: tree.File, Name: "c", Mode: 0600, Stream: shared, Identity: identity} // differing mode: not the same object
	tree.AddChild(lt.Root, a)
	tree.AddChild(lt.Root, b)
	tree.AddChild(lt.Root, c)

	llt, err := Build(lt.Root, ECMA119, BuildOpts{IsoLevel: 2, HardLinks: true})
	assert.NoError(t, err)

	byName := map[string]*LowLevelNode{}
	for _, n := range llt.Root.Children {
		byName[n.Logical.Name] = n
	}
	assert.Equal(t, byName["a"].ImageInode, byName["b"].ImageInode)
	assert.Equal(t, uint32(2), byName["a"].NLink)
	assert.Equal(t, uint32(2), byName["b"].NLink)
	assert.NotEqual(t, byName["a"].ImageInode, byName["c"].ImageInode)
	assert.Equal(t, uint32(1), byName["c"].NLink)
}

func TestAssignInodes_UnknownSourceInodeStaysIndividual(t *testing.T) {
	lt := tree.NewTree()
	shared := iostream.NewMemoryStream([]byte("same bytes"))
	a := &tree.LogicalNode{Type: tree.File, Name: "a", Mode: 0644, Stream: shared}
	b := &tree.LogicalNode{Type: tree.File, Name: "b", Mode: 0644, Stream: shared}
	tree.AddChild(lt.Root, a)
	tree.AddChild(lt.Root, b)

	llt, err := Build(lt.Root, ECMA119, BuildOpts{IsoLevel: 2, HardLinks: true})
	assert.NoError(t, err)

	assert.NotEqual(t, llt.Root.Children[0].ImageInode, llt.Root.Children[1].ImageInode)
	assert.Equal(t, uint32(1), llt.Root.Children[0].NLink)
}

func TestPath_ReflectsOnDiscIdentifiers(t *testing.T) {
	lt := mkTree()
	llt, err := Build(lt.Root, ECMA119, BuildOpts{IsoLevel: 2})
	assert.NoError(t, err)
	docs := llt.Root.Children[0]
	assert.Equal(t, "/DOCUMENTS", docs.Path())
}

func TestBuild_ForceDotsOnExtensionlessFiles(t *testing.T) {
	lt := tree.NewTree()
	tree.AddChild(lt.Root, &tree.LogicalNode{Type: tree.File, Name: "README", Mode: 0644})

	withDots, err := Build(lt.Root, ECMA119, BuildOpts{IsoLevel: 2, ForceDots: true})
	assert.NoError(t, err)
	assert.Equal(t, "README.;1", withDots.Root.Children[0].Identifier)

	withoutDots, err := Build(lt.Root, ECMA119, BuildOpts{IsoLevel: 2})
	assert.NoError(t, err)
	assert.Equal(t, "README;1", withoutDots.Root.Children[0].Identifier)
}
