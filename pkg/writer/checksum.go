package writer

import (
	"io"

	"github.com/bgrewell/isoforge/pkg/consts"
	"github.com/bgrewell/isoforge/pkg/writeopts"
)

// ChecksumWriter appends the optional md5_session_checksum tag (spec §9(a)), always last in the
// pipeline since it needs the System Area, volume descriptors, and terminator already hashed.
//
// The source gates this tag on a checksum_rlsb_tag_pos computed from the descriptor layout that's
// only valid when the whole tag position falls in the image's first 32 blocks; outside that range
// the tag is silently skipped. That gating gap is preserved verbatim here, though the tag's own
// storage location is a freshly reserved block rather than a reused early LBA, since this
// pipeline's writer ordering (directories declared before the checksum writer runs) would
// otherwise collide with already-placed directory data.
type ChecksumWriter struct {
	enabled bool
}

func (w *ChecksumWriter) DeclareBlocks(s *BuildState) error {
	if s.Opts.MD5Checksums == writeopts.MD5None {
		return nil
	}
	tagPos := consts.ISO9660_SYSTEM_AREA_SECTORS + s.VolumeDescriptorCount + 1
	if tagPos >= 32 {
		return nil
	}
	w.enabled = true
	s.CurBlock++
	return nil
}

func (w *ChecksumWriter) WriteVolDesc(s *BuildState, out io.Writer) error { return nil }

func (w *ChecksumWriter) WriteBody(s *BuildState, out io.Writer) error {
	if !w.enabled {
		return nil
	}
	block := make([]byte, consts.ISO9660_SECTOR_SIZE)
	copy(block[0:2], "MD")
	copy(block[2:18], s.SuperblockHash.Sum(nil))
	_, err := out.Write(block)
	return err
}

func (w *ChecksumWriter) Free() error { return nil }
