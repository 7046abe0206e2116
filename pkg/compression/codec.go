package compression

import (
	"errors"
	"io/fs"
	"os"
	"sync"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"

	"github.com/ajitpratap0/strata/pkg/column"
	"github.com/ajitpratap0/strata/pkg/logger"
	"github.com/ajitpratap0/strata/pkg/metrics"
	"github.com/ajitpratap0/strata/pkg/mmap"
	"github.com/ajitpratap0/strata/pkg/pool"
	"github.com/ajitpratap0/strata/pkg/strataerrors"
)

// ArtifactSuffix is appended to a column file path to name its compressed
// artifact.
const ArtifactSuffix = ".c"

// ArtifactPath returns the artifact path for a raw column file.
func ArtifactPath(rawPath string) string {
	return rawPath + ArtifactSuffix
}

// Artifact describes a compressed column file.
type Artifact struct {
	Path             string    `json:"path"`
	Algorithm        Algorithm `json:"algorithm"`
	RawLength        int64     `json:"raw_length"`
	CompressedLength int64     `json:"compressed_length"`
	// Checksum is the xxhash64 of the raw bytes; zero means not recorded.
	Checksum uint64 `json:"checksum"`
}

// Ratio returns raw bytes per compressed byte, or 0 for an empty artifact.
func (a Artifact) Ratio() float64 {
	if a.CompressedLength == 0 {
		return 0
	}
	return float64(a.RawLength) / float64(a.CompressedLength)
}

// Codec compresses finalized column files into artifacts and reads them
// back. It never touches the raw file beyond reading it.
//
// Codec is safe for concurrent use.
type Codec struct {
	config *Config
	logger *zap.Logger

	mu    sync.Mutex
	pools map[Algorithm]*CompressorPool
}

// NewCodec creates a codec that compresses with config. Artifacts written
// with other algorithms can still be decompressed. A nil logger uses the
// global one.
func NewCodec(config *Config, log *zap.Logger) (*Codec, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if log == nil {
		log = logger.Named(logger.Get(), "codec")
	}
	c := &Codec{
		config: config,
		logger: log,
		pools:  make(map[Algorithm]*CompressorPool),
	}
	if _, err := c.poolFor(config.Algorithm); err != nil {
		return nil, err
	}
	return c, nil
}

// Algorithm returns the algorithm new artifacts are written with.
func (c *Codec) Algorithm() Algorithm {
	return c.config.Algorithm
}

func (c *Codec) poolFor(algorithm Algorithm) (*CompressorPool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if p, ok := c.pools[algorithm]; ok {
		return p, nil
	}
	level := Default
	if algorithm == c.config.Algorithm {
		level = c.config.Level
	}
	p, err := NewCompressorPool(&Config{Algorithm: algorithm, Level: level})
	if err != nil {
		return nil, err
	}
	c.pools[algorithm] = p
	return p, nil
}

// Compress writes the artifact for a finalized column and verifies it by
// decompressing and comparing length and checksum. On verification failure
// the artifact is removed and a corrupt_artifact error returned. The raw
// file is left in place either way.
func (c *Codec) Compress(f column.Finalized) (Artifact, error) {
	timer := metrics.NewTimer("compress")
	p, err := c.poolFor(c.config.Algorithm)
	if err != nil {
		return Artifact{}, err
	}

	raw := pool.GetBuffer(int(f.Length))
	defer pool.PutBuffer(raw)

	if f.Length > 0 {
		err = mmap.WithRegion(f.Path, mmap.ReadOnly, 0, f.Length, func(r *mmap.Region) error {
			if err := r.Advise(mmap.AdviceSequential); err != nil {
				return err
			}
			copy(raw, r.Bytes())
			return nil
		})
		if err != nil {
			return Artifact{}, err
		}
	}

	packed, err := p.Compress(raw)
	if err != nil {
		return Artifact{}, err
	}

	a := Artifact{
		Path:             ArtifactPath(f.Path),
		Algorithm:        c.config.Algorithm,
		RawLength:        f.Length,
		CompressedLength: int64(len(packed)),
		Checksum:         xxhash.Sum64(raw),
	}

	if err := writeArtifact(a.Path, packed); err != nil {
		return Artifact{}, err
	}

	if _, err := c.Decompress(a, f.Length); err != nil {
		_ = os.Remove(a.Path)
		c.logger.Error("artifact failed verification",
			zap.String("path", a.Path),
			zap.String("algorithm", string(a.Algorithm)),
			zap.Error(err))
		if strataerrors.IsCorruptArtifact(err) {
			return Artifact{}, err
		}
		return Artifact{}, strataerrors.Wrap(err, strataerrors.ErrorTypeCorruptArtifact, "artifact verification failed").
			WithDetail("path", a.Path)
	}

	alg := string(a.Algorithm)
	metrics.CompressionBytes.WithLabelValues(alg, "raw").Add(float64(a.RawLength))
	metrics.CompressionBytes.WithLabelValues(alg, "compressed").Add(float64(a.CompressedLength))
	metrics.CompressLatency.WithLabelValues(alg).Observe(timer.Stop().Seconds())

	c.logger.Info("column compressed",
		zap.String("path", f.Path),
		zap.String("type", f.Type.String()),
		zap.Int64("rows", f.Rows),
		zap.String("algorithm", alg),
		zap.Int64("raw_bytes", a.RawLength),
		zap.Int64("compressed_bytes", a.CompressedLength),
		zap.Float64("ratio", a.Ratio()))

	return a, nil
}

// writeArtifact replaces path with data through a read-write mapping that
// is synced before it is released.
func writeArtifact(path string, data []byte) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return strataerrors.Wrap(err, strataerrors.ErrorTypeIO, "failed to remove stale artifact").
			WithDetail("path", path)
	}
	if len(data) == 0 {
		f, err := os.Create(path) //nolint:gosec // G304: artifact paths derive from column paths
		if err != nil {
			return strataerrors.Wrap(err, strataerrors.ErrorTypeIO, "failed to create artifact").
				WithDetail("path", path)
		}
		return f.Close()
	}
	return mmap.WithRegion(path, mmap.ReadWrite, 0, int64(len(data)), func(r *mmap.Region) error {
		r.Write(0, data)
		return nil
	})
}

// Decompress reads an artifact back. The result has exactly
// expectedRawLength bytes, otherwise a corrupt_artifact error is returned.
func (c *Codec) Decompress(a Artifact, expectedRawLength int64) ([]byte, error) {
	timer := metrics.NewTimer("decompress")
	corrupt := func(msg string) error {
		metrics.CorruptArtifacts.WithLabelValues(string(a.Algorithm)).Inc()
		return strataerrors.New(strataerrors.ErrorTypeCorruptArtifact, msg).
			WithDetail("path", a.Path).
			WithDetail("expected_raw_length", expectedRawLength)
	}

	if a.RawLength != expectedRawLength {
		return nil, corrupt("artifact raw length does not match metadata")
	}
	p, err := c.poolFor(a.Algorithm)
	if err != nil {
		return nil, err
	}

	region, err := mmap.OpenFile(a.Path)
	if err != nil {
		return nil, err
	}
	defer region.Close(false)

	if region.Len() != a.CompressedLength {
		return nil, corrupt("artifact length does not match recorded length")
	}

	out, err := p.Decompress(region.Bytes(), int(expectedRawLength))
	if err != nil {
		metrics.CorruptArtifacts.WithLabelValues(string(a.Algorithm)).Inc()
		return nil, strataerrors.Wrap(err, strataerrors.ErrorTypeCorruptArtifact, "failed to decompress artifact").
			WithDetail("path", a.Path)
	}
	if int64(len(out)) != expectedRawLength {
		return nil, corrupt("decompressed length mismatch")
	}
	if a.Checksum != 0 && xxhash.Sum64(out) != a.Checksum {
		return nil, corrupt("decompressed checksum mismatch")
	}

	metrics.DecompressLatency.WithLabelValues(string(a.Algorithm)).Observe(timer.Stop().Seconds())
	return out, nil
}
