package consts

const (
	// Number of system area sectors.
	ISO9660_SYSTEM_AREA_SECTORS = 16

	// Standard ISO9660 identifier.
	ISO9660_STD_IDENTIFIER = "CD001"

	// ISO9660 volume descriptor version (always 1).
	ISO9660_VOLUME_DESC_VERSION = 1

	// ISO9660 default sector size.
	ISO9660_SECTOR_SIZE = 2048

	// ISO9660 volume descriptor header size
	ISO9660_VOLUME_DESC_HEADER_SIZE = 7

	// ISO9660 application use area size
	ISO9660_APPLICATION_USE_SIZE = 512

	// JOLIET level 1, 2, and 3 escape sequences.
	JOLIET_LEVEL_1_ESCAPE = "%/@"
	JOLIET_LEVEL_2_ESCAPE = "%/C"
	JOLIET_LEVEL_3_ESCAPE = "%/E"

	// Aliases kept for call sites that spell these with the doubled underscore.
	JOLIET__LEVEL_1_ESCAPE = JOLIET_LEVEL_1_ESCAPE
	JOLIET__LEVEL_2_ESCAPE = JOLIET_LEVEL_2_ESCAPE
	JOLIET__LEVEL_3_ESCAPE = JOLIET_LEVEL_3_ESCAPE

	// El Torito bootable cdrom system identifier.
	EL_TORITO_BOOT_SYSTEM_ID = "EL TORITO SPECIFICATION"

	// a-characters set which are specified in the International Reference Version at the following positions.
	//   | 2/0 - 2/2
	//   | 2/5 - 2/15
	//   | 3/0 - 3/15
	//   | 4/1 - 4/15
	//   | 5/0 - 5/10
	//   | 5/15
	A_CHARACTERS = " !\"%&'()*+,-./0123456789:;<=>?ABCDEFGHIJKLMNOPQRSTUVWXYZ_"

	// c-characters set which are the coded graphic character sets identified by the escape sequences in a Joliet SVD.
	// | All code points between (00)(00) and (00)(1F), inclusive. (Control Characters)
	// | (00)(2A) '*'(Asterisk)
	// | (00)(2F) '/' (Forward Slash)
	// | (00)(3A) ':' (Colon)
	// | (00)(3B) ';' (Semicolon)
	// | (00)(3F) '?' (Question Mark)
	// | (00)(5C) '\' (Backslash)

	// a1-characters set which are a subset of the c-characters. This subset shall be subject to agreement between the
	// originator and the recipient of the volume.

	// d-characters: 37 characters in the following positions of the International Reference Version
	// | 3/0 - 3/9
	// | 4/1 - 5/10
	// | 5/15
	D_CHARACTERS = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ_"

	// Separators allowed by ISO9660 0x2E and 0x3B.
	ISO9660_SEPARATOR_1 = "."
	ISO9660_SEPARATOR_2 = ";"

	// ISO9660 Filler 0x20 (space)
	ISO9660_FILLER = " "

	// Standard UDF Identifier
	UDF_STD_IDENTIFIER = "BEA01"

	// UDF default sector size.
	UDF_SECTOR_SIZE = 2048

	// d1-characters: the Joliet/enhanced-volume analog of D_CHARACTERS. ECMA-119 leaves the
	// d1-character set to agreement between originator and recipient; libisofs and every
	// interoperable implementation treats it as the full a-character set.
	D1_CHARACTERS = A_CHARACTERS

	// ISO_EXTENT_SIZE is the largest size, in bytes, that a single directory record extent can
	// describe (4 GiB - 1 rounded down to a sector boundary). Files larger than this size are
	// split into multiple sections, legal only at ISO level 3.
	ISO_EXTENT_SIZE = 0xFFFFF800

	// RRMovedDirectory is the name of the hidden directory Rock Ridge deep-path relocation
	// creates at the root on demand.
	RRMovedDirectory = "RR_MOVED"

	// Deep-path relocation thresholds (ECMA-119 6.8.2.1 / Rock Ridge RRIP 4.1.5.1).
	MaxDirectoryDepth = 8
	MaxPathLength      = 255

	// ISO level 1/2/3 file identifier length limits, in bytes, excluding the ";version".
	Level1MaxFilename = 8
	Level1MaxExtension = 3
	Level2MaxIdentifier = 31
	Max37CharFilename = 37

	// Joliet per-component length limits, in UCS-2 characters.
	JolietMaxComponent       = 64
	JolietLongerMaxComponent = 103

	// ISO 9660:1999 per-path length limit, in bytes.
	ISO1999MaxPathLength = 207
)

// ISOType represents the type of ISO image recognized by this module.
type ISOType int

const (
	ISOTypeISO9660 ISOType = iota
	ISOTypeUDF
)
