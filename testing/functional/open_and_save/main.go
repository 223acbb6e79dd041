package main

import (
	"context"
	"crypto/md5"
	"fmt"
	"io"
	"os"
	"time"

	iso "github.com/bgrewell/isoforge"
	"github.com/bgrewell/isoforge/pkg/iostream"
	"github.com/bgrewell/isoforge/pkg/logging"
	"github.com/bgrewell/isoforge/pkg/tree"
	"github.com/bgrewell/isoforge/pkg/writeopts"
	"github.com/bgrewell/usage"
)

func generateFileMD5(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hash := md5.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", err
	}

	hashBytes := hash.Sum(nil)
	return fmt.Sprintf("%x", hashBytes), nil
}

// testTree is the fixed content every run produces: a directory, two files, and a symlink, enough
// to exercise the ECMA-119 hierarchy, Rock Ridge, and content streaming in one pass.
func testTree() *tree.LogicalTree {
	t := tree.NewTree()
	docs := &tree.LogicalNode{Type: tree.Directory, Name: "docs", Mode: 0755}
	tree.AddChild(t.Root, docs)
	tree.AddChild(docs, &tree.LogicalNode{
		Type: tree.File, Name: "guide.txt", Mode: 0644,
		Stream: iostream.NewMemoryStream([]byte("functional test guide\n")),
	})
	tree.AddChild(t.Root, &tree.LogicalNode{
		Type: tree.File, Name: "readme.md", Mode: 0644,
		Stream: iostream.NewMemoryStream([]byte("# open_and_save\n")),
	})
	tree.AddChild(t.Root, &tree.LogicalNode{
		Type: tree.Symlink, Name: "latest", Mode: 0777, LinkTarget: "docs/guide.txt",
	})
	return t
}

// produce writes one image of testTree to a fresh temporary file and returns its path.
func produce() (string, error) {
	w, err := iso.NewWriter(testTree(),
		writeopts.WithIsoLevel(2),
		writeopts.WithRockRidge(true),
		writeopts.WithVolumeIdentifier("OPEN_AND_SAVE"),
		writeopts.WithDefaultTimestamp(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)),
		writeopts.WithReplaceAttrs(
			writeopts.AttrKeep, writeopts.AttrKeep,
			writeopts.AttrKeep, writeopts.AttrKeep,
			writeopts.AttrDefault),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create writer: %w", err)
	}
	bs, err := w.Produce(context.Background())
	if err != nil {
		return "", fmt.Errorf("failed to start production: %w", err)
	}

	out, err := os.CreateTemp("", "open_and_save_test_*.iso")
	if err != nil {
		return "", fmt.Errorf("failed to create temporary file: %w", err)
	}
	if _, err := io.Copy(out, bs); err != nil {
		out.Close()
		return "", fmt.Errorf("failed to write ISO: %w", err)
	}
	if err := out.Close(); err != nil {
		return "", err
	}
	return out.Name(), nil
}

func main() {

	u := usage.NewUsage(
		usage.WithApplicationName("open_and_save"),
		usage.WithApplicationDescription("open_and_save is a functional testing application that produces an ISO image with the writer pipeline, re-opens it with the reader, and verifies both that the round trip preserves the tree and that repeated productions are byte-identical."),
	)
	help := u.AddBooleanOption("h", "help", false, "Display this help message", "", nil)
	rm := u.AddBooleanOption("rm", "remove-test-file", true, "Remove the test files after running the tests", "", nil)
	parsed := u.Parse()

	if !parsed {
		u.PrintError(fmt.Errorf("failed to parse arguments"))
		os.Exit(1)
	}

	if *help {
		u.PrintUsage()
		os.Exit(0)
	}

	first, err := produce()
	if err != nil {
		fmt.Printf("Failed to produce ISO file: %s\n", err)
		os.Exit(1)
	}
	second, err := produce()
	if err != nil {
		fmt.Printf("Failed to produce second ISO file: %s\n", err)
		os.Exit(1)
	}

	if *rm {
		defer os.Remove(first)
		defer os.Remove(second)
	} else {
		fmt.Printf("Temporary files: %s %s\n", first, second)
	}

	// Identical options and tree must reproduce the image byte for byte.
	firstHash, err := generateFileMD5(first)
	if err != nil {
		fmt.Printf("Failed to generate MD5 hash for first image: %s\n", err)
		os.Exit(1)
	}
	secondHash, err := generateFileMD5(second)
	if err != nil {
		fmt.Printf("Failed to generate MD5 hash for second image: %s\n", err)
		os.Exit(1)
	}
	if firstHash != secondHash {
		fmt.Printf("MD5 hash of first image does not match second image:\n  First:  %s\n  Second: %s\n", firstHash, secondHash)
		os.Exit(1)
	}

	// Re-open the produced image with the reader and verify the tree survived.
	logger := logging.NewSimpleLogger(os.Stderr, logging.LEVEL_INFO, true)
	img, err := iso.Open(first,
		iso.WithParseOnOpen(true),
		iso.WithLogger(logger))
	if err != nil {
		fmt.Printf("Failed to open produced ISO file: %s\n", err)
		os.Exit(1)
	}
	defer img.Close()

	entries, err := img.GetAllEntries()
	if err != nil {
		fmt.Printf("Failed to list entries: %s\n", err)
		os.Exit(1)
	}

	want := map[string]bool{
		"docs":      false,
		"guide.txt": false,
		"readme.md": false,
		"latest":    false,
	}
	for _, entry := range entries {
		if _, ok := want[entry.Name()]; ok {
			want[entry.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			fmt.Printf("Entry %q missing from re-opened image\n", name)
			os.Exit(1)
		}
	}

	if !img.HasRockRidge() {
		fmt.Println("Re-opened image is missing Rock Ridge extensions")
		os.Exit(1)
	}

	fmt.Println("open_and_save: OK")
}
