// Package writeopts defines the production toggles accepted by the writer pipeline, mirroring
// the functional-options pattern pkg/options uses for the reader.
package writeopts

import (
	"time"

	"github.com/go-logr/logr"
)

// MD5Mode selects what, if anything, gets an MD5 checksum tag.
type MD5Mode uint8

const (
	MD5None MD5Mode = iota
	MD5Session
	MD5SessionAndFiles
)

// AttrReplace selects how a POSIX attribute (uid, gid, mode, timestamps) is carried from the
// logical tree into the image.
type AttrReplace uint8

const (
	AttrKeep    AttrReplace = iota // use the value already on the LogicalNode
	AttrDefault                    // use the WriteOpts default value
	AttrSupply                     // use a caller-supplied override, same as AttrDefault here
)

// SystemAreaMode selects how the first 16 blocks of the image are produced.
type SystemAreaMode uint8

const (
	SystemAreaOpaque      SystemAreaMode = iota // copy opts.SystemAreaData verbatim (or zero it)
	SystemAreaProtectiveMBR
	SystemAreaIsohybrid
)

// WriteOpts enumerates every production toggle named in the specification. A zero toggle leaves
// its extension or relaxation off; IsoLevel's zero value is not a valid level and must be set.
type WriteOpts struct {
	// Extension toggles.
	IsoLevel    int // 1, 2, or 3
	RockRidge   bool
	Joliet      bool
	Iso1999     bool
	AAIP        bool
	HardLinks   bool

	// Timestamp / name-mangling relaxations.
	AlwaysGMT             bool
	OmitVersionNumbers    uint8 // bit0 = ECMA+Joliet, bit1 = Joliet only
	AllowDeepPaths        bool
	AllowLongerPaths      bool
	Max37CharFilenames    bool
	NoForceDots           uint8 // 2-bit
	AllowLowercase        bool
	AllowFullAscii        bool
	RelaxedVolAtts        bool
	JolietLongerPaths     bool
	RRIPVersion110        bool
	RRIP110PXInode        bool
	AAIPSUSP110           bool
	DirRecordMtime        bool

	// Checksums.
	MD5Checksums MD5Mode

	SortFiles bool

	// Attribute replacement.
	ReplaceUID        AttrReplace
	ReplaceGID        AttrReplace
	ReplaceDirMode    AttrReplace
	ReplaceFileMode   AttrReplace
	ReplaceTimestamps AttrReplace
	DefaultUID        uint32
	DefaultGID        uint32
	DefaultDirMode    uint32
	DefaultFileMode   uint32
	DefaultTimestamp  time.Time

	OutputCharset string

	// Multi-session / appendable image support.
	Appendable bool
	MSBlock    uint32

	// OverwriteBuf, if non-nil, must be at least 64 KiB; after pass 1 the pipeline replays its
	// own volume descriptors into it.
	OverwriteBuf []byte

	// FifoSize is the ring buffer depth in 2048-byte blocks; must be >= 32.
	FifoSize int

	SystemAreaData    [32 * 1024]byte
	SystemAreaOptions SystemAreaMode

	// PVD timestamp / UUID overrides.
	CreationTime     time.Time
	ModificationTime time.Time
	VolumeUUID       string // 16 digits, verbatim into creation/modification fields when set

	VolumeIdentifier       string
	PublisherIdentifier    string
	DataPreparerIdentifier string
	ApplicationIdentifier  string
	SystemIdentifier       string

	Logger logr.Logger
}

// Option mutates a WriteOpts under construction.
type Option func(*WriteOpts)

func defaults() WriteOpts {
	return WriteOpts{
		IsoLevel:  2,
		FifoSize:  64,
		Logger:    logr.Discard(),
		MSBlock:   0,
		DefaultUID: 0,
		DefaultGID: 0,
		DefaultDirMode:  0755,
		DefaultFileMode: 0644,
	}
}

// New builds a WriteOpts from defaults plus the given options.
func New(opts ...Option) *WriteOpts {
	w := defaults()
	for _, opt := range opts {
		opt(&w)
	}
	return &w
}

// Basic is libisofs profile 0: level 1, no Rock Ridge, no Joliet — maximum interoperability.
func Basic(opts ...Option) *WriteOpts {
	w := defaults()
	w.IsoLevel = 1
	for _, opt := range opts {
		opt(&w)
	}
	return &w
}

// Backup is libisofs profile 1: level 3 with Rock Ridge, intended for lossless POSIX round-trips.
func Backup(opts ...Option) *WriteOpts {
	w := defaults()
	w.IsoLevel = 3
	w.RockRidge = true
	w.HardLinks = true
	for _, opt := range opts {
		opt(&w)
	}
	return &w
}

// Distribution is libisofs profile 2: level 2 with Rock Ridge + Joliet, normalized ownership and
// permissions, and UTC timestamps — the profile intended for mastering a shippable image.
func Distribution(opts ...Option) *WriteOpts {
	w := defaults()
	w.IsoLevel = 2
	w.RockRidge = true
	w.Joliet = true
	w.AlwaysGMT = true
	w.ReplaceUID = AttrDefault
	w.ReplaceGID = AttrDefault
	w.ReplaceDirMode = AttrDefault
	w.ReplaceFileMode = AttrDefault
	w.ReplaceTimestamps = AttrDefault
	for _, opt := range opts {
		opt(&w)
	}
	return &w
}

func WithIsoLevel(level int) Option        { return func(w *WriteOpts) { w.IsoLevel = level } }
func WithRockRidge(enabled bool) Option    { return func(w *WriteOpts) { w.RockRidge = enabled } }
func WithJoliet(enabled bool) Option       { return func(w *WriteOpts) { w.Joliet = enabled } }
func WithIso1999(enabled bool) Option      { return func(w *WriteOpts) { w.Iso1999 = enabled } }
func WithAAIP(enabled bool) Option         { return func(w *WriteOpts) { w.AAIP = enabled } }
func WithHardLinks(enabled bool) Option    { return func(w *WriteOpts) { w.HardLinks = enabled } }
func WithAlwaysGMT(enabled bool) Option    { return func(w *WriteOpts) { w.AlwaysGMT = enabled } }
func WithSortFiles(enabled bool) Option    { return func(w *WriteOpts) { w.SortFiles = enabled } }
func WithAllowDeepPaths(enabled bool) Option {
	return func(w *WriteOpts) { w.AllowDeepPaths = enabled }
}
func WithAllowLongerPaths(enabled bool) Option {
	return func(w *WriteOpts) { w.AllowLongerPaths = enabled }
}
func WithMax37CharFilenames(enabled bool) Option {
	return func(w *WriteOpts) { w.Max37CharFilenames = enabled }
}
func WithAllowLowercase(enabled bool) Option {
	return func(w *WriteOpts) { w.AllowLowercase = enabled }
}
func WithAllowFullAscii(enabled bool) Option {
	return func(w *WriteOpts) { w.AllowFullAscii = enabled }
}
func WithJolietLongerPaths(enabled bool) Option {
	return func(w *WriteOpts) { w.JolietLongerPaths = enabled }
}
func WithMD5Checksums(mode MD5Mode) Option {
	return func(w *WriteOpts) { w.MD5Checksums = mode }
}
func WithAppendable(msBlock uint32) Option {
	return func(w *WriteOpts) {
		w.Appendable = true
		w.MSBlock = msBlock
	}
}
func WithOverwriteBuf(buf []byte) Option { return func(w *WriteOpts) { w.OverwriteBuf = buf } }
func WithFifoSize(blocks int) Option     { return func(w *WriteOpts) { w.FifoSize = blocks } }
func WithSystemArea(data [32 * 1024]byte, mode SystemAreaMode) Option {
	return func(w *WriteOpts) {
		w.SystemAreaData = data
		w.SystemAreaOptions = mode
	}
}
func WithVolumeIdentifier(id string) Option {
	return func(w *WriteOpts) { w.VolumeIdentifier = id }
}
func WithPublisherIdentifier(id string) Option {
	return func(w *WriteOpts) { w.PublisherIdentifier = id }
}
func WithApplicationIdentifier(id string) Option {
	return func(w *WriteOpts) { w.ApplicationIdentifier = id }
}
func WithVolumeUUID(uuid string) Option { return func(w *WriteOpts) { w.VolumeUUID = uuid } }
func WithLogger(logger logr.Logger) Option {
	return func(w *WriteOpts) { w.Logger = logger }
}
func WithReplaceAttrs(uid, gid, dirMode, fileMode, timestamps AttrReplace) Option {
	return func(w *WriteOpts) {
		w.ReplaceUID = uid
		w.ReplaceGID = gid
		w.ReplaceDirMode = dirMode
		w.ReplaceFileMode = fileMode
		w.ReplaceTimestamps = timestamps
	}
}
func WithDefaultOwnership(uid, gid uint32) Option {
	return func(w *WriteOpts) {
		w.DefaultUID = uid
		w.DefaultGID = gid
	}
}
func WithDefaultModes(dirMode, fileMode uint32) Option {
	return func(w *WriteOpts) {
		w.DefaultDirMode = dirMode
		w.DefaultFileMode = fileMode
	}
}
func WithDefaultTimestamp(t time.Time) Option {
	return func(w *WriteOpts) { w.DefaultTimestamp = t }
}
