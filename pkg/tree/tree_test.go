package tree

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidate_NameRules(t *testing.T) {
	cases := []struct {
		name string
		node LogicalNode
		ok   bool
	}{
		{"plain file", LogicalNode{Type: File, Name: "readme.txt"}, true},
		{"empty name", LogicalNode{Type: File, Name: ""}, false},
		{"slash in name", LogicalNode{Type: File, Name: "a/b"}, false},
		{"dot", LogicalNode{Type: Directory, Name: "."}, false},
		{"dot dot", LogicalNode{Type: Directory, Name: ".."}, false},
		{"255 bytes", LogicalNode{Type: File, Name: strings.Repeat("x", 255)}, true},
		{"256 bytes", LogicalNode{Type: File, Name: strings.Repeat("x", 256)}, false},
		{"symlink without target", LogicalNode{Type: Symlink, Name: "l"}, false},
		{"symlink with target", LogicalNode{Type: Symlink, Name: "l", LinkTarget: "t"}, true},
		{"symlink target too long", LogicalNode{Type: Symlink, Name: "l", LinkTarget: strings.Repeat("p/", 3000)}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.node.Validate()
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestNewTree_RootIsItsOwnParent(t *testing.T) {
	lt := NewTree()
	assert.Same(t, lt.Root, lt.Root.Parent)
	assert.Equal(t, "/", lt.Root.Path())
	assert.Equal(t, 0, lt.Root.Depth())
}

func TestAddChild_PathAndDepth(t *testing.T) {
	lt := NewTree()
	a := &LogicalNode{Type: Directory, Name: "a"}
	b := &LogicalNode{Type: Directory, Name: "b"}
	f := &LogicalNode{Type: File, Name: "f.txt"}
	AddChild(lt.Root, a)
	AddChild(a, b)
	AddChild(b, f)

	assert.Equal(t, "/a/b/f.txt", f.Path())
	assert.Equal(t, 3, f.Depth())
	assert.Same(t, b, f.Parent)
}

func TestWalk_VisitsPreOrder(t *testing.T) {
	lt := NewTree()
	a := &LogicalNode{Type: Directory, Name: "a"}
	b := &LogicalNode{Type: File, Name: "b"}
	c := &LogicalNode{Type: File, Name: "c"}
	AddChild(lt.Root, a)
	AddChild(a, b)
	AddChild(lt.Root, c)

	var visited []string
	err := lt.Walk(func(n *LogicalNode) error {
		visited = append(visited, n.Name)
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, []string{"", "a", "b", "c"}, visited)
}
