package compress

// ZstdCompressor provides Zstandard compression for snapshot records where
// ratio matters more than speed.
//
// Two implementations are provided: a cgo binding (gozstd) selected by the
// "gozstd" build tag, and a pure-Go fallback used by default. Both produce
// interchangeable zstd frames.
type ZstdCompressor struct{}

var _ Codec = (*ZstdCompressor)(nil)

// NewZstdCompressor creates a new Zstd compressor with default settings.
func NewZstdCompressor() ZstdCompressor {
	return ZstdCompressor{}
}
