package format

type (
	Mode            uint8
	CompressionType uint8
)

const (
	// ModeHBFGrouped sends one STF header plus one message per heartbeat
	// frame, repacking frames that straddle pages. Default when the data
	// stream carries raw data headers.
	ModeHBFGrouped Mode = 0

	// ModeRawPerPage sends one message per data page, payload only, no STF
	// header.
	ModeRawPerPage Mode = 1

	// ModeSTFPerPage sends one STF header plus one message per data page.
	ModeSTFPerPage Mode = 2

	// ModeDataBlockPerPage sends two messages per data page: the block
	// header followed by the payload.
	ModeDataBlockPerPage Mode = 3
)

const (
	CompressionNone CompressionType = 0x1 // CompressionNone represents no compression.
	CompressionZstd CompressionType = 0x2 // CompressionZstd represents Zstandard compression.
	CompressionS2   CompressionType = 0x3 // CompressionS2 represents S2 compression.
	CompressionLZ4  CompressionType = 0x4 // CompressionLZ4 represents LZ4 compression.
)

func (m Mode) String() string {
	switch m {
	case ModeHBFGrouped:
		return "HBFGrouped"
	case ModeRawPerPage:
		return "RawPerPage"
	case ModeSTFPerPage:
		return "STFPerPage"
	case ModeDataBlockPerPage:
		return "DataBlockPerPage"
	default:
		return "Unknown"
	}
}

// Valid reports whether m is one of the defined format modes.
func (m Mode) Valid() bool {
	return m <= ModeDataBlockPerPage
}

func (c CompressionType) String() string {
	switch c {
	case CompressionNone:
		return "None"
	case CompressionZstd:
		return "Zstd"
	case CompressionS2:
		return "S2"
	case CompressionLZ4:
		return "LZ4"
	default:
		return "Unknown"
	}
}
