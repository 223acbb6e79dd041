package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	iso "github.com/bgrewell/isoforge"
	"github.com/bgrewell/isoforge/pkg/iostream"
	"github.com/bgrewell/isoforge/pkg/logging"
	"github.com/bgrewell/isoforge/pkg/tree"
	"github.com/bgrewell/isoforge/pkg/writeopts"
)

// validationTree builds a small synthetic image entirely in memory, exercising the writer
// pipeline without needing a real source directory — useful for validating a build against a
// reference mastering tool.
func validationTree() *tree.LogicalTree {
	t := tree.NewTree()
	now := time.Now()

	readme := &tree.LogicalNode{
		Type:   tree.File,
		Name:   "README.TXT",
		Mode:   0644,
		Mtime:  now,
		Atime:  now,
		Ctime:  now,
		Stream: iostream.NewMemoryStream([]byte("isoforge validation image\n")),
	}
	tree.AddChild(t.Root, readme)

	docs := &tree.LogicalNode{Type: tree.Directory, Name: "DOCS", Mode: 0755, Mtime: now, Atime: now, Ctime: now}
	tree.AddChild(t.Root, docs)

	notes := &tree.LogicalNode{
		Type:   tree.File,
		Name:   "NOTES.TXT",
		Mode:   0644,
		Mtime:  now,
		Atime:  now,
		Ctime:  now,
		Stream: iostream.NewMemoryStream([]byte("this image was produced without a source directory\n")),
	}
	tree.AddChild(docs, notes)

	return t
}

func main() {
	log := logging.NewSimpleLogger(os.Stderr, logging.TRACE, true)

	w, err := iso.NewWriter(validationTree(),
		writeopts.WithIsoLevel(2),
		writeopts.WithRockRidge(true),
		writeopts.WithJoliet(true),
		writeopts.WithVolumeIdentifier("VALIDATION"),
		writeopts.WithLogger(log),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create writer: %w", err))
	}

	bs, err := w.Produce(context.Background())
	if err != nil {
		panic(fmt.Errorf("failed to start production: %w", err))
	}

	out, err := os.Create("/tmp/validation.iso")
	if err != nil {
		panic(fmt.Errorf("failed to open destination: %w", err))
	}
	defer out.Close()

	if _, err := io.Copy(out, bs); err != nil {
		bs.Cancel()
		panic(fmt.Errorf("failed to write ISO: %w", err))
	}

	size, _ := bs.Size()
	log.Info("wrote validation image", "path", "/tmp/validation.iso", "size", size)
}
