// chunk/splitter_test.go
// Copyright(c) 2026 The forge authors
// BSD licensed; see LICENSE for details.

package chunk

import (
	"bytes"
	"io"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func splitAll(t *testing.T, strategy Strategy, b []byte, cfg Config) [][]byte {
	t.Helper()
	s, err := NewSplitter(strategy, bytes.NewReader(b), cfg)
	require.NoError(t, err)

	var chunks [][]byte
	for {
		c, err := s.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		require.NotEmpty(t, c)
		chunks = append(chunks, c)
	}
	return chunks
}

func concat(chunks [][]byte) []byte {
	var out []byte
	for _, c := range chunks {
		out = append(out, c...)
	}
	return out
}

// smallConfig keeps the statistical tests fast.
func smallConfig() Config {
	return Config{MinSize: 128, AvgSize: 512, MaxSize: 2048}
}

func TestSplitBoundsAndReassembly(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	b := make([]byte, 1<<20)
	rng.Read(b)

	cfg := smallConfig()
	chunks := splitAll(t, ContentDefined, b, cfg)

	require.True(t, bytes.Equal(b, concat(chunks)), "reassembled bytes differ from input")

	for i, c := range chunks {
		if i < len(chunks)-1 {
			require.GreaterOrEqual(t, len(c), cfg.MinSize, "chunk %d below MinSize", i)
		}
		require.LessOrEqual(t, len(c), cfg.MaxSize, "chunk %d above MaxSize", i)
	}

	// The expected chunk length is roughly MinSize + AvgSize; make sure
	// the count is in the right ballpark.
	expected := len(b) / (cfg.MinSize + cfg.AvgSize)
	require.Greater(t, len(chunks), expected/3)
	require.Less(t, len(chunks), expected*3)
}

// A 10 MiB stream of random bytes with the default 256K/1M/4M bounds
// should land near the average-size-driven chunk count.
func TestSplitTenMiBScenario(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	b := make([]byte, 10<<20)
	rng.Read(b)

	cfg := DefaultConfig()
	chunks := splitAll(t, ContentDefined, b, cfg)

	require.GreaterOrEqual(t, len(chunks), 3)
	require.LessOrEqual(t, len(chunks), 24)
	for i, c := range chunks {
		if i < len(chunks)-1 {
			require.GreaterOrEqual(t, len(c), cfg.MinSize)
		}
		require.LessOrEqual(t, len(c), cfg.MaxSize)
	}
	require.True(t, bytes.Equal(b, concat(chunks)))
}

func TestSplitDeterminism(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	b := make([]byte, 2<<20)
	rng.Read(b)

	first := splitAll(t, ContentDefined, b, smallConfig())
	second := splitAll(t, ContentDefined, b, smallConfig())

	require.Equal(t, len(first), len(second))
	for i := range first {
		require.Equal(t, Identify(first[i]), Identify(second[i]), "chunk %d differs", i)
	}
}

// Inserting a single byte must only perturb chunks near the edit; the
// identifiers of chunks elsewhere in the stream are unchanged.
func TestSplitEditLocality(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	b := make([]byte, 512*1024)
	rng.Read(b)

	baseline := make(map[ID]struct{})
	for _, c := range splitAll(t, ContentDefined, b, smallConfig()) {
		baseline[Identify(c)] = struct{}{}
	}

	totalExtra := 0
	for i := 0; i < 100; i++ {
		offset := rng.Intn(len(b))
		edited := make([]byte, 0, len(b)+1)
		edited = append(edited, b[:offset]...)
		edited = append(edited, byte(rng.Intn(256)))
		edited = append(edited, b[offset:]...)

		newChunks := 0
		for _, c := range splitAll(t, ContentDefined, edited, smallConfig()) {
			if _, ok := baseline[Identify(c)]; !ok {
				newChunks++
			}
		}
		// The edited chunk changes and the cut may move into the
		// following chunk; anything beyond that is a locality failure.
		if newChunks > 2 {
			totalExtra += newChunks - 2
		}
	}
	require.LessOrEqual(t, totalExtra, 5, "edits perturbed too many distant chunks")
}

func TestSplitShortStream(t *testing.T) {
	cfg := smallConfig()
	b := make([]byte, cfg.MinSize/2)
	rand.New(rand.NewSource(5)).Read(b)

	chunks := splitAll(t, ContentDefined, b, cfg)
	require.Len(t, chunks, 1)
	require.True(t, bytes.Equal(b, chunks[0]))
}

func TestSplitEmptyStream(t *testing.T) {
	chunks := splitAll(t, ContentDefined, nil, smallConfig())
	require.Empty(t, chunks)

	chunks = splitAll(t, Fixed, nil, smallConfig())
	require.Empty(t, chunks)
}

func TestSplitFixed(t *testing.T) {
	cfg := smallConfig()
	b := make([]byte, cfg.AvgSize*3+100)
	rand.New(rand.NewSource(6)).Read(b)

	chunks := splitAll(t, Fixed, b, cfg)
	require.Len(t, chunks, 4)
	for i := 0; i < 3; i++ {
		require.Len(t, chunks[i], cfg.AvgSize)
	}
	require.Len(t, chunks[3], 100)
	require.True(t, bytes.Equal(b, concat(chunks)))
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	bad := Config{MinSize: 1024, AvgSize: 512, MaxSize: 4096}
	require.Error(t, bad.Validate())

	bad = Config{MinSize: 128, AvgSize: 4096, MaxSize: 1024}
	require.Error(t, bad.Validate())

	bad = Config{MinSize: 128, AvgSize: 1000, MaxSize: 4096}
	require.Error(t, bad.Validate(), "non-power-of-two AvgSize must be rejected")

	bad = Config{MinSize: 16, AvgSize: 512, MaxSize: 4096}
	require.Error(t, bad.Validate(), "MinSize below the rolling window must be rejected")
}
