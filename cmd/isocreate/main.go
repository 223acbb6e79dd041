package main

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	iso "github.com/bgrewell/isoforge"
	"github.com/bgrewell/isoforge/pkg/consts"
	"github.com/bgrewell/isoforge/pkg/iostream"
	"github.com/bgrewell/isoforge/pkg/logging"
	"github.com/bgrewell/isoforge/pkg/tree"
	"github.com/bgrewell/isoforge/pkg/writeopts"
	"github.com/bgrewell/usage"
	"github.com/google/renameio"
	"github.com/theckman/yacspin"
	"golang.org/x/term"
)

// localFile is the minimal iostream.FileSource a directory walk can supply: a path on the host
// filesystem, stat'd once at tree-build time.
type localFile struct {
	path string
}

func (l localFile) Open() (io.ReadCloser, error) { return os.Open(l.path) }

func (l localFile) Stat() (int64, iostream.Identity, error) {
	info, err := os.Stat(l.path)
	if err != nil {
		return 0, iostream.Identity{}, err
	}
	id := iostream.Identity{}
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		id = iostream.Identity{DeviceID: uint64(st.Dev), InodeID: st.Ino}
	}
	return info.Size(), id, nil
}

// buildTree walks root and returns a logical tree whose file nodes stream their content straight
// from disk via localFile/iostream.FileStream. Directory ingestion is CLI glue, not a library
// concern (pkg/tree's mutation API is intentionally out of scope for the module itself).
func buildTree(root string) (*tree.LogicalTree, error) {
	t := tree.NewTree()
	nodes := map[string]*tree.LogicalNode{".": t.Root}

	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, p)
		if err != nil || rel == "." {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}

		parentRel := filepath.Dir(rel)
		parent, ok := nodes[parentRel]
		if !ok {
			return fmt.Errorf("isocreate: walked %q before its parent %q", rel, parentRel)
		}

		node := &tree.LogicalNode{
			Name:  d.Name(),
			Mode:  uint32(info.Mode().Perm()),
			Mtime: info.ModTime(),
			Atime: info.ModTime(),
			Ctime: info.ModTime(),
		}

		switch {
		case d.IsDir():
			node.Type = tree.Directory
			nodes[rel] = node
		case info.Mode()&os.ModeSymlink != 0:
			target, err := os.Readlink(p)
			if err != nil {
				return err
			}
			node.Type = tree.Symlink
			node.LinkTarget = target
		case info.Mode().IsRegular():
			src := localFile{path: p}
			stream, err := iostream.NewFileStream(src)
			if err != nil {
				return err
			}
			node.Type = tree.File
			node.Stream = stream
			node.Identity = tree.StreamIdentity(stream.Identity())
		default:
			return nil // skip devices, fifos, sockets in this demo walker
		}

		tree.AddChild(parent, node)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("isocreate: walk %q: %w", root, err)
	}
	return t, nil
}

// progressWriter reports cumulative bytes written to a yacspin spinner at most every tick.
type progressWriter struct {
	spinner *yacspin.Spinner
	total   int64
	written int64
	last    time.Time
}

func (p *progressWriter) Write(b []byte) (int, error) {
	p.written += int64(len(b))
	if p.spinner != nil && time.Since(p.last) > 150*time.Millisecond {
		p.last = time.Now()
		if p.total > 0 {
			p.spinner.Message(fmt.Sprintf("%d/%d blocks", p.written/consts.ISO9660_SECTOR_SIZE, p.total/consts.ISO9660_SECTOR_SIZE))
		} else {
			p.spinner.Message(fmt.Sprintf("%d bytes", p.written))
		}
	}
	return len(b), nil
}

func main() {
	u := usage.NewUsage(
		usage.WithApplicationName("isocreate"),
		usage.WithApplicationDescription("isocreate masters an ISO 9660 image (with Rock Ridge, Joliet, and ISO 9660:1999 extensions) from a source directory."),
	)
	help := u.AddBooleanOption("h", "help", false, "Show this help message", "optional", nil)
	rockRidge := u.AddBooleanOption("r", "rockridge", true, "Enable Rock Ridge extensions", "optional", nil)
	joliet := u.AddBooleanOption("j", "joliet", true, "Enable a parallel Joliet name tree", "optional", nil)
	sourceDir := u.AddArgument(1, "source-dir", "Directory to master into an image", "")
	destPath := u.AddArgument(2, "dest-iso", "Path of the ISO image to write", "")
	volumeID := u.AddArgument(3, "volume-id", "Volume identifier (optional)", "")
	parsed := u.Parse()

	if !parsed {
		u.PrintError(fmt.Errorf("failed to parse arguments"))
		os.Exit(1)
	}
	if *help {
		u.PrintUsage()
		os.Exit(0)
	}
	if sourceDir == nil || *sourceDir == "" || destPath == nil || *destPath == "" {
		u.PrintError(fmt.Errorf("both <source-dir> and <dest-iso> must be provided"))
		os.Exit(1)
	}

	log := logging.NewSimpleLogger(os.Stderr, logging.LEVEL_INFO, term.IsTerminal(int(os.Stderr.Fd())))

	t, err := buildTree(*sourceDir)
	if err != nil {
		u.PrintError(err)
		os.Exit(1)
	}

	opts := []writeopts.Option{
		writeopts.WithIsoLevel(2),
		writeopts.WithRockRidge(*rockRidge),
		writeopts.WithJoliet(*joliet),
		writeopts.WithLogger(log),
	}
	if *volumeID != "" {
		opts = append(opts, writeopts.WithVolumeIdentifier(strings.ToUpper(*volumeID)))
	}

	w, err := iso.NewWriter(t, opts...)
	if err != nil {
		u.PrintError(fmt.Errorf("create writer: %w", err))
		os.Exit(1)
	}

	bs, err := w.Produce(context.Background())
	if err != nil {
		u.PrintError(fmt.Errorf("start production: %w", err))
		os.Exit(1)
	}

	var spinner *yacspin.Spinner
	if term.IsTerminal(int(os.Stdout.Fd())) {
		spinner, err = yacspin.New(yacspin.Config{
			Frequency:       150 * time.Millisecond,
			CharSet:         yacspin.CharSets[9],
			Suffix:          " mastering image",
			SuffixAutoColon: true,
			Message:         "sizing",
		})
		if err == nil {
			spinner.Start()
		} else {
			spinner = nil
		}
	}

	pending, err := renameio.TempFile("", *destPath)
	if err != nil {
		u.PrintError(fmt.Errorf("open destination: %w", err))
		os.Exit(1)
	}
	defer pending.Cleanup()

	total, sizeErr := bs.Size()
	if sizeErr != nil {
		u.PrintError(fmt.Errorf("production failed before sizing: %w", sizeErr))
		os.Exit(1)
	}

	pw := &progressWriter{spinner: spinner, total: total}
	if _, err := io.Copy(io.MultiWriter(pending, pw), bs); err != nil {
		bs.Cancel()
		if spinner != nil {
			_ = spinner.StopFail()
		}
		u.PrintError(fmt.Errorf("write image: %w", err))
		os.Exit(1)
	}

	if err := pending.CloseAtomicallyReplace(); err != nil {
		if spinner != nil {
			_ = spinner.StopFail()
		}
		u.PrintError(fmt.Errorf("finalize image: %w", err))
		os.Exit(1)
	}

	if spinner != nil {
		spinner.StopMessage(fmt.Sprintf("wrote %s (%d blocks)", *destPath, total/consts.ISO9660_SECTOR_SIZE))
		_ = spinner.Stop()
	}

	full, empty := bs.Stats()
	log.Info("production complete", "destination", *destPath, "blocks", total/consts.ISO9660_SECTOR_SIZE, "ring_full_events", full, "ring_empty_events", empty)
}
