package compression

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ajitpratap0/strata/pkg/column"
	"github.com/ajitpratap0/strata/pkg/strataerrors"
)

func finalizedLongs(t *testing.T, values []int64) column.Finalized {
	t.Helper()
	path := filepath.Join(t.TempDir(), "l1.d")
	require.NoError(t, column.Create(path))
	f, err := column.OpenAppend(path, column.TypeLong, 0, 0)
	require.NoError(t, err)
	for _, v := range values {
		require.NoError(t, f.AppendLong(v))
	}
	require.NoError(t, f.Commit(true))
	fin, err := f.FinalizeForCompression()
	require.NoError(t, err)
	return fin
}

func sequence(n int) []int64 {
	values := make([]int64, n)
	for i := range values {
		values[i] = int64(i % 10)
	}
	return values
}

func TestCodecRoundTrip(t *testing.T) {
	for _, algo := range Algorithms() {
		t.Run(string(algo), func(t *testing.T) {
			codec, err := NewCodec(&Config{Algorithm: algo, Level: Default}, zap.NewNop())
			require.NoError(t, err)
			assert.Equal(t, algo, codec.Algorithm())

			fin := finalizedLongs(t, sequence(50000))
			a, err := codec.Compress(fin)
			require.NoError(t, err)
			assert.Equal(t, fin.Path+".c", a.Path)
			assert.Equal(t, fin.Length, a.RawLength)
			assert.NotZero(t, a.Checksum)

			stat, err := os.Stat(a.Path)
			require.NoError(t, err)
			assert.Equal(t, a.CompressedLength, stat.Size())

			// The raw file is retained.
			raw, err := os.ReadFile(fin.Path)
			require.NoError(t, err)

			out, err := codec.Decompress(a, fin.Length)
			require.NoError(t, err)
			assert.Equal(t, raw, out)

			r, err := column.FromBytes(column.TypeLong, fin.Rows, out)
			require.NoError(t, err)
			assert.Equal(t, int64(7), r.ValueAt(7))
		})
	}
}

func TestCodecEmptyColumn(t *testing.T) {
	codec, err := NewCodec(nil, zap.NewNop())
	require.NoError(t, err)

	fin := finalizedLongs(t, nil)
	a, err := codec.Compress(fin)
	require.NoError(t, err)
	assert.Zero(t, a.RawLength)
	assert.Zero(t, a.Ratio())

	out, err := codec.Decompress(a, 0)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestCodecRecompressReplacesArtifact(t *testing.T) {
	codec, err := NewCodec(&Config{Algorithm: None}, zap.NewNop())
	require.NoError(t, err)

	fin := finalizedLongs(t, sequence(1000))
	require.NoError(t, os.WriteFile(fin.Path+".c", make([]byte, 1<<16), 0o644))

	a, err := codec.Compress(fin)
	require.NoError(t, err)
	stat, err := os.Stat(a.Path)
	require.NoError(t, err)
	assert.Equal(t, fin.Length, stat.Size())
}

func TestCodecDetectsCorruption(t *testing.T) {
	codec, err := NewCodec(&Config{Algorithm: LZ4}, zap.NewNop())
	require.NoError(t, err)
	fin := finalizedLongs(t, sequence(20000))
	a, err := codec.Compress(fin)
	require.NoError(t, err)

	t.Run("expected length differs", func(t *testing.T) {
		_, err := codec.Decompress(a, a.RawLength+8)
		assert.True(t, strataerrors.IsCorruptArtifact(err))
	})

	t.Run("recorded length differs", func(t *testing.T) {
		bad := a
		bad.CompressedLength++
		_, err := codec.Decompress(bad, a.RawLength)
		assert.True(t, strataerrors.IsCorruptArtifact(err))
	})

	t.Run("checksum differs", func(t *testing.T) {
		bad := a
		bad.Checksum++
		_, err := codec.Decompress(bad, a.RawLength)
		assert.True(t, strataerrors.IsCorruptArtifact(err))
	})

	t.Run("bytes damaged", func(t *testing.T) {
		data, err := os.ReadFile(a.Path)
		require.NoError(t, err)
		for i := range data {
			data[i] ^= 0xA5
		}
		require.NoError(t, os.WriteFile(a.Path, data, 0o644))

		_, err = codec.Decompress(a, a.RawLength)
		assert.True(t, strataerrors.IsCorruptArtifact(err), "%v", err)
	})

	t.Run("artifact missing", func(t *testing.T) {
		require.NoError(t, os.Remove(a.Path))
		_, err := codec.Decompress(a, a.RawLength)
		assert.True(t, strataerrors.IsType(err, strataerrors.ErrorTypeIO))
	})
}

func TestCodecDecompressesOtherAlgorithms(t *testing.T) {
	writer, err := NewCodec(&Config{Algorithm: Zstd, Level: Best}, zap.NewNop())
	require.NoError(t, err)
	reader, err := NewCodec(&Config{Algorithm: LZ4}, zap.NewNop())
	require.NoError(t, err)

	fin := finalizedLongs(t, sequence(3000))
	a, err := writer.Compress(fin)
	require.NoError(t, err)

	out, err := reader.Decompress(a, fin.Length)
	require.NoError(t, err)
	assert.Len(t, out, int(fin.Length))
}
