// Package compression provides block compression for finalized column files.
//
// # Overview
//
// A column file is compressed in one piece: the whole committed byte range
// is read, compressed into a single block, and written next to the raw file
// with a ".c" suffix. The raw length is recorded in table metadata, so
// decompression always knows the exact output size and no framing is
// stored in the artifact.
//
// Supported algorithms:
//   - LZ4: block format, the default
//   - Zstd, S2, Snappy: klauspost/compress block encoders
//   - Gzip, Deflate: klauspost/compress stream encoders over one buffer
//   - None: the artifact is a byte copy of the raw file
//
// # Basic Usage
//
//	comp, err := compression.NewCompressor(&compression.Config{
//	    Algorithm: compression.LZ4,
//	    Level:     compression.Default,
//	})
//	packed, err := comp.Compress(raw)
//	raw, err = comp.Decompress(packed, len(raw))
//
// # Pooled Usage
//
//	pool := compression.NewCompressorPool(config)
//	packed, err := pool.Compress(raw)
//
// Files are handled by Codec, which maps the raw column, verifies the
// artifact after writing it and reports corruption as a typed error.
package compression

import (
	"bytes"
	"io"
	"strings"
	"sync"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/ajitpratap0/strata/pkg/strataerrors"
)

// Algorithm represents a compression algorithm.
type Algorithm string

const (
	// None stores the raw bytes
	None Algorithm = "none"
	// LZ4 represents lz4 block compression
	LZ4 Algorithm = "lz4"
	// Zstd represents zstandard compression
	Zstd Algorithm = "zstd"
	// S2 represents s2 block compression (Snappy compatible)
	S2 Algorithm = "s2"
	// Snappy represents snappy block compression
	Snappy Algorithm = "snappy"
	// Gzip represents gzip compression
	Gzip Algorithm = "gzip"
	// Deflate represents deflate compression
	Deflate Algorithm = "deflate"
)

// Algorithms lists every supported algorithm.
func Algorithms() []Algorithm {
	return []Algorithm{None, LZ4, Zstd, S2, Snappy, Gzip, Deflate}
}

// ParseAlgorithm parses an algorithm name.
func ParseAlgorithm(s string) (Algorithm, error) {
	a := Algorithm(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Algorithms() {
		if a == known {
			return a, nil
		}
	}
	return "", strataerrors.Newf(strataerrors.ErrorTypeConfig, "unsupported compression algorithm: %s", s)
}

// Level represents compression level, controlling the trade-off between
// compression speed and compression ratio.
type Level int

const (
	// Fastest prioritizes speed over compression ratio.
	Fastest Level = 1
	// Default balances speed and compression.
	Default Level = 5
	// Better improves compression at cost of speed.
	Better Level = 7
	// Best maximizes compression ratio.
	Best Level = 9
)

// String returns the level name.
func (l Level) String() string {
	switch l {
	case Fastest:
		return "fastest"
	case Default:
		return "default"
	case Better:
		return "better"
	case Best:
		return "best"
	default:
		return "unknown"
	}
}

// ParseLevel parses a level name.
func ParseLevel(s string) (Level, error) {
	for _, l := range []Level{Fastest, Default, Better, Best} {
		if strings.EqualFold(strings.TrimSpace(s), l.String()) {
			return l, nil
		}
	}
	return 0, strataerrors.Newf(strataerrors.ErrorTypeConfig, "unknown compression level: %s", s)
}

// Compressor compresses whole buffers. The raw length is supplied to
// Decompress, so no size header is stored. All implementations are safe for
// concurrent use.
type Compressor interface {
	// Compress returns a new buffer; src is not modified.
	Compress(src []byte) ([]byte, error)

	// Decompress returns the decompressed bytes. It fails if the output
	// would not be exactly rawLen bytes.
	Decompress(src []byte, rawLen int) ([]byte, error)

	// Algorithm returns the compression algorithm used.
	Algorithm() Algorithm

	// Level returns the compression level configured.
	Level() Level
}

// Config represents compressor configuration.
type Config struct {
	Algorithm Algorithm `yaml:"algorithm" json:"algorithm"`
	Level     Level     `yaml:"level" json:"level"`
}

// DefaultConfig returns LZ4 at the default level.
func DefaultConfig() *Config {
	return &Config{
		Algorithm: LZ4,
		Level:     Default,
	}
}

// NewCompressor creates a new compressor based on the provided configuration.
// If config is nil, default configuration is used.
func NewCompressor(config *Config) (Compressor, error) {
	if config == nil {
		config = DefaultConfig()
	}
	base := baseCompressor{algorithm: config.Algorithm, level: config.Level}

	switch config.Algorithm {
	case None:
		return &noneCompressor{base}, nil
	case LZ4:
		return newLZ4Compressor(base), nil
	case Zstd:
		return newZstdCompressor(base), nil
	case S2:
		return &s2Compressor{base}, nil
	case Snappy:
		return &snappyCompressor{base}, nil
	case Gzip:
		return newGzipCompressor(base), nil
	case Deflate:
		return &deflateCompressor{baseCompressor: base, flateLevel: mapDeflateLevel(config.Level)}, nil
	default:
		return nil, strataerrors.Newf(strataerrors.ErrorTypeConfig,
			"unsupported compression algorithm: %s", config.Algorithm)
	}
}

// CompressorPool provides pooled compressors, reusing instances whose
// construction allocates encoder state.
//
// CompressorPool is safe for concurrent use.
type CompressorPool struct {
	pool   sync.Pool
	config *Config
}

// NewCompressorPool creates a pool. The configuration is validated once so
// that Get never returns nil.
func NewCompressorPool(config *Config) (*CompressorPool, error) {
	if config == nil {
		config = DefaultConfig()
	}
	first, err := NewCompressor(config)
	if err != nil {
		return nil, err
	}

	cp := &CompressorPool{config: config}
	cp.pool.New = func() interface{} {
		comp, _ := NewCompressor(config)
		return comp
	}
	cp.pool.Put(first)
	return cp, nil
}

// Get gets a compressor from pool
func (cp *CompressorPool) Get() Compressor {
	return cp.pool.Get().(Compressor)
}

// Put returns compressor to pool
func (cp *CompressorPool) Put(c Compressor) {
	cp.pool.Put(c)
}

// Algorithm returns the pool's algorithm.
func (cp *CompressorPool) Algorithm() Algorithm {
	return cp.config.Algorithm
}

// Compress compresses data using a pooled compressor
func (cp *CompressorPool) Compress(data []byte) ([]byte, error) {
	c := cp.Get()
	defer cp.Put(c)
	return c.Compress(data)
}

// Decompress decompresses data using a pooled compressor
func (cp *CompressorPool) Decompress(data []byte, rawLen int) ([]byte, error) {
	c := cp.Get()
	defer cp.Put(c)
	return c.Decompress(data, rawLen)
}

type baseCompressor struct {
	algorithm Algorithm
	level     Level
}

// Algorithm returns the compression algorithm
func (bc *baseCompressor) Algorithm() Algorithm {
	return bc.algorithm
}

// Level returns the compression level
func (bc *baseCompressor) Level() Level {
	return bc.level
}

func lengthMismatch(algorithm Algorithm, got, want int) error {
	return strataerrors.Newf(strataerrors.ErrorTypeCorruptArtifact,
		"%s: decompressed %d bytes, expected %d", algorithm, got, want)
}

func decodeFailed(algorithm Algorithm, err error) error {
	return strataerrors.Wrap(err, strataerrors.ErrorTypeCorruptArtifact, string(algorithm)+": decode failed")
}

// None compressor (no compression)
type noneCompressor struct {
	baseCompressor
}

func (nc *noneCompressor) Compress(data []byte) ([]byte, error) {
	return bytes.Clone(data), nil
}

func (nc *noneCompressor) Decompress(data []byte, rawLen int) ([]byte, error) {
	if len(data) != rawLen {
		return nil, lengthMismatch(None, len(data), rawLen)
	}
	return bytes.Clone(data), nil
}

// LZ4 block compressor. The fast level uses lz4.Compressor, higher levels
// the HC compressor; both are pooled because they carry hash tables.
type lz4Compressor struct {
	baseCompressor
	hcLevel lz4.CompressionLevel
	fast    sync.Pool
	hc      sync.Pool
}

func newLZ4Compressor(base baseCompressor) *lz4Compressor {
	lc := &lz4Compressor{baseCompressor: base, hcLevel: mapLZ4Level(base.level)}
	lc.fast.New = func() interface{} { return new(lz4.Compressor) }
	lc.hc.New = func() interface{} { return &lz4.CompressorHC{Level: lc.hcLevel} }
	return lc
}

func (lc *lz4Compressor) Compress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return []byte{}, nil
	}
	dst := make([]byte, lz4.CompressBlockBound(len(data)))

	var (
		n   int
		err error
	)
	if lc.hcLevel == lz4.Fast {
		c := lc.fast.Get().(*lz4.Compressor)
		n, err = c.CompressBlock(data, dst)
		lc.fast.Put(c)
	} else {
		c := lc.hc.Get().(*lz4.CompressorHC)
		n, err = c.CompressBlock(data, dst)
		lc.hc.Put(c)
	}
	if err != nil {
		return nil, strataerrors.Wrap(err, strataerrors.ErrorTypeIO, "lz4: compress failed")
	}
	if n == 0 {
		return nil, strataerrors.New(strataerrors.ErrorTypeIO, "lz4: block produced no output")
	}
	return dst[:n], nil
}

func (lc *lz4Compressor) Decompress(data []byte, rawLen int) ([]byte, error) {
	if rawLen == 0 {
		if len(data) != 0 {
			return nil, lengthMismatch(LZ4, len(data), 0)
		}
		return []byte{}, nil
	}
	dst := make([]byte, rawLen)
	n, err := lz4.UncompressBlock(data, dst)
	if err != nil {
		return nil, decodeFailed(LZ4, err)
	}
	if n != rawLen {
		return nil, lengthMismatch(LZ4, n, rawLen)
	}
	return dst, nil
}

// Zstd compressor
type zstdCompressor struct {
	baseCompressor
	encoderPool sync.Pool
	decoderPool sync.Pool
}

func newZstdCompressor(base baseCompressor) *zstdCompressor {
	level := mapZstdLevel(base.level)
	zc := &zstdCompressor{baseCompressor: base}

	zc.encoderPool.New = func() interface{} {
		enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(level), zstd.WithEncoderConcurrency(1))
		return enc
	}
	zc.decoderPool.New = func() interface{} {
		dec, _ := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
		return dec
	}
	return zc
}

func (zc *zstdCompressor) Compress(data []byte) ([]byte, error) {
	enc := zc.encoderPool.Get().(*zstd.Encoder)
	defer zc.encoderPool.Put(enc)

	return enc.EncodeAll(data, nil), nil
}

func (zc *zstdCompressor) Decompress(data []byte, rawLen int) ([]byte, error) {
	dec := zc.decoderPool.Get().(*zstd.Decoder)
	defer zc.decoderPool.Put(dec)

	out, err := dec.DecodeAll(data, make([]byte, 0, rawLen))
	if err != nil {
		return nil, decodeFailed(Zstd, err)
	}
	if len(out) != rawLen {
		return nil, lengthMismatch(Zstd, len(out), rawLen)
	}
	return out, nil
}

// S2 compressor (Snappy-compatible but better compression)
type s2Compressor struct {
	baseCompressor
}

func (sc *s2Compressor) Compress(data []byte) ([]byte, error) {
	switch sc.level {
	case Better:
		return s2.EncodeBetter(nil, data), nil
	case Best:
		return s2.EncodeBest(nil, data), nil
	default:
		return s2.Encode(nil, data), nil
	}
}

func (sc *s2Compressor) Decompress(data []byte, rawLen int) ([]byte, error) {
	n, err := s2.DecodedLen(data)
	if err != nil {
		return nil, decodeFailed(S2, err)
	}
	if n != rawLen {
		return nil, lengthMismatch(S2, n, rawLen)
	}
	out, err := s2.Decode(make([]byte, rawLen), data)
	if err != nil {
		return nil, decodeFailed(S2, err)
	}
	return out, nil
}

// Snappy compressor
type snappyCompressor struct {
	baseCompressor
}

func (sc *snappyCompressor) Compress(data []byte) ([]byte, error) {
	return snappy.Encode(nil, data), nil
}

func (sc *snappyCompressor) Decompress(data []byte, rawLen int) ([]byte, error) {
	n, err := snappy.DecodedLen(data)
	if err != nil {
		return nil, decodeFailed(Snappy, err)
	}
	if n != rawLen {
		return nil, lengthMismatch(Snappy, n, rawLen)
	}
	out, err := snappy.Decode(make([]byte, rawLen), data)
	if err != nil {
		return nil, decodeFailed(Snappy, err)
	}
	return out, nil
}

// Gzip compressor
type gzipCompressor struct {
	baseCompressor
	writerPool sync.Pool
	readerPool sync.Pool
}

func newGzipCompressor(base baseCompressor) *gzipCompressor {
	level := mapGzipLevel(base.level)
	gc := &gzipCompressor{baseCompressor: base}

	gc.writerPool.New = func() interface{} {
		w, _ := gzip.NewWriterLevel(nil, level)
		return w
	}
	gc.readerPool.New = func() interface{} {
		return new(gzip.Reader)
	}
	return gc
}

func (gc *gzipCompressor) Compress(data []byte) ([]byte, error) {
	w := gc.writerPool.Get().(*gzip.Writer)
	defer gc.writerPool.Put(w)

	var buf bytes.Buffer
	w.Reset(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, strataerrors.Wrap(err, strataerrors.ErrorTypeIO, "gzip: compress failed")
	}
	if err := w.Close(); err != nil {
		return nil, strataerrors.Wrap(err, strataerrors.ErrorTypeIO, "gzip: compress failed")
	}
	return buf.Bytes(), nil
}

func (gc *gzipCompressor) Decompress(data []byte, rawLen int) ([]byte, error) {
	r := gc.readerPool.Get().(*gzip.Reader)
	defer gc.readerPool.Put(r)

	if err := r.Reset(bytes.NewReader(data)); err != nil {
		return nil, decodeFailed(Gzip, err)
	}
	return readExactly(Gzip, r, rawLen)
}

// Deflate compressor
type deflateCompressor struct {
	baseCompressor
	flateLevel int
}

func (dc *deflateCompressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, dc.flateLevel)
	if err != nil {
		return nil, strataerrors.Wrap(err, strataerrors.ErrorTypeConfig, "deflate: invalid level")
	}
	if _, err := w.Write(data); err != nil {
		return nil, strataerrors.Wrap(err, strataerrors.ErrorTypeIO, "deflate: compress failed")
	}
	if err := w.Close(); err != nil {
		return nil, strataerrors.Wrap(err, strataerrors.ErrorTypeIO, "deflate: compress failed")
	}
	return buf.Bytes(), nil
}

func (dc *deflateCompressor) Decompress(data []byte, rawLen int) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(data))
	defer r.Close()
	return readExactly(Deflate, r, rawLen)
}

// readExactly drains a stream decoder into a buffer of rawLen bytes,
// reading at most one byte past it to detect overlong output.
func readExactly(algorithm Algorithm, r io.Reader, rawLen int) ([]byte, error) {
	out := make([]byte, rawLen)
	n, err := io.ReadFull(r, out)
	if err != nil {
		if err == io.ErrUnexpectedEOF || err == io.EOF {
			return nil, lengthMismatch(algorithm, n, rawLen)
		}
		return nil, decodeFailed(algorithm, err)
	}
	var extra [1]byte
	if m, _ := r.Read(extra[:]); m > 0 {
		return nil, lengthMismatch(algorithm, rawLen+m, rawLen)
	}
	return out, nil
}

// Helper functions to map compression levels

func mapGzipLevel(level Level) int {
	switch level {
	case Fastest:
		return gzip.BestSpeed
	case Best:
		return gzip.BestCompression
	default:
		return gzip.DefaultCompression
	}
}

func mapLZ4Level(level Level) lz4.CompressionLevel {
	switch level {
	case Fastest, Default:
		return lz4.Fast
	case Better:
		return lz4.Level5
	default:
		return lz4.Level9
	}
}

func mapZstdLevel(level Level) zstd.EncoderLevel {
	switch level {
	case Fastest:
		return zstd.SpeedFastest
	case Better:
		return zstd.SpeedBetterCompression
	case Best:
		return zstd.SpeedBestCompression
	default:
		return zstd.SpeedDefault
	}
}

func mapDeflateLevel(level Level) int {
	switch level {
	case Fastest:
		return flate.BestSpeed
	case Best:
		return flate.BestCompression
	default:
		return flate.DefaultCompression
	}
}
