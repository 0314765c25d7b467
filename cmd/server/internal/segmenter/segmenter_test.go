package segmenter

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRate = 8000

// synthWAV renders a 16-bit mono 440Hz tone with silence over [silentFrom, silentTo).
func synthWAV(t *testing.T, seconds, silentFrom, silentTo float64) []byte {
	t.Helper()
	frames := int(seconds * testRate)
	data := make([]int, frames)
	for i := range data {
		ts := float64(i) / testRate
		if ts >= silentFrom && ts < silentTo {
			continue
		}
		data[i] = int(8000 * math.Sin(2*math.Pi*440*ts))
	}

	path := filepath.Join(t.TempDir(), "source.wav")
	f, err := os.Create(path)
	require.NoError(t, err)
	enc := wav.NewEncoder(f, testRate, 16, 1, 1)
	require.NoError(t, enc.Write(&audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: testRate},
		Data:           data,
		SourceBitDepth: 16,
	}))
	require.NoError(t, enc.Close())
	require.NoError(t, f.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	return raw
}

func TestSegmentSnapsToSilence(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ChunkSeconds = 5
	cfg.OverlapSeconds = 1
	cfg.SearchWindowSeconds = 1

	src := Source{Data: synthWAV(t, 12, 4.9, 5.5), Name: "standup.wav"}
	chunks, err := New(cfg, nil).Segment(context.Background(), src, t.TempDir())
	require.NoError(t, err)
	require.Len(t, chunks, 3)

	assert.True(t, chunks[0].HasSilenceCut)
	assert.InDelta(t, 5.2, chunks[0].EndTime, 1e-6)
	assert.InDelta(t, 4.2, chunks[1].StartTime, 1e-6)
	assert.InDelta(t, 12.0, chunks[2].EndTime, 1e-9)

	for i, c := range chunks {
		assert.Equal(t, i, c.Index)
		assert.Equal(t, "audio/wav", c.MimeType)
		assert.False(t, c.Raw)
		assert.Greater(t, c.MeanAmplitude, 0.0)
		assert.Equal(t, 1.0, c.Overlap)

		info, err := os.Stat(c.Path)
		require.NoError(t, err)
		assert.Equal(t, info.Size(), c.SizeBytes)
		assert.LessOrEqual(t, c.SizeBytes, cfg.MaxChunkBytes)

		raw, err := os.ReadFile(c.Path)
		require.NoError(t, err)
		decoded, err := DecodeWAV(raw)
		require.NoError(t, err)
		assert.InDelta(t, c.Duration(), decoded.Duration, 2.0/testRate)
	}
}

func TestSegmentRespectsByteCap(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ChunkSeconds = 5
	cfg.OverlapSeconds = 0.5
	cfg.SilenceAware = false
	cfg.MaxChunkBytes = wavHeaderSize + 2*testRate*2

	chunks, err := New(cfg, nil).Segment(context.Background(), Source{Data: synthWAV(t, 12, 0, 0)}, t.TempDir())
	require.NoError(t, err)
	require.Greater(t, len(chunks), 6)

	assert.Equal(t, 0.0, chunks[0].StartTime)
	assert.InDelta(t, 12.0, chunks[len(chunks)-1].EndTime, 1e-9)
	for i, c := range chunks {
		assert.LessOrEqual(t, c.SizeBytes, cfg.MaxChunkBytes, "chunk %d", i)
		assert.False(t, c.HasSilenceCut)
		if i > 0 {
			assert.LessOrEqual(t, c.StartTime, chunks[i-1].EndTime)
		}
	}
}

func TestSegmentCapTooSmall(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxChunkBytes = 1024

	_, err := New(cfg, nil).Segment(context.Background(), Source{Data: synthWAV(t, 3, 0, 0)}, t.TempDir())
	assert.ErrorIs(t, err, ErrChunkCapTooSmall)
}

func TestSegmentRawFallback(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ChunkSeconds = 4
	cfg.OverlapSeconds = 1

	data := bytes.Repeat([]byte("x"), 1000)
	chunks, err := New(cfg, nil).Segment(context.Background(),
		Source{Data: data, Name: "meeting.webm", DurationHint: 10}, t.TempDir())
	require.NoError(t, err)
	require.Len(t, chunks, ExpectedChunkCount(10, 4, 1))

	wantRanges := [][2]int{{0, 400}, {300, 700}, {600, 1000}}
	for i, c := range chunks {
		assert.True(t, c.Raw)
		assert.Equal(t, "audio/webm", c.MimeType)
		assert.Equal(t, ".webm", filepath.Ext(c.Path))
		assert.Equal(t, -1.0, c.MeanAmplitude)

		got, err := os.ReadFile(c.Path)
		require.NoError(t, err)
		assert.Equal(t, data[wantRanges[i][0]:wantRanges[i][1]], got)
		assert.Equal(t, int64(len(got)), c.SizeBytes)
	}
}

func TestSegmentSingleChunkWithoutHint(t *testing.T) {
	data := []byte("opaque compressed audio")
	chunks, err := New(DefaultConfig(), nil).Segment(context.Background(),
		Source{Data: data, MimeType: "audio/mpeg"}, t.TempDir())
	require.NoError(t, err)
	require.Len(t, chunks, 1)

	assert.True(t, chunks[0].Raw)
	assert.Equal(t, ".mp3", filepath.Ext(chunks[0].Path))
	got, err := os.ReadFile(chunks[0].Path)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestSegmentErrors(t *testing.T) {
	seg := New(DefaultConfig(), nil)

	_, err := seg.Segment(context.Background(), Source{}, t.TempDir())
	assert.ErrorIs(t, err, ErrEmptyInput)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = seg.Segment(ctx, Source{Data: synthWAV(t, 1, 0, 0)}, t.TempDir())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestProbe(t *testing.T) {
	duration, rate, channels, err := Probe(synthWAV(t, 2.5, 0, 0))
	require.NoError(t, err)
	assert.InDelta(t, 2.5, duration, 1.0/testRate)
	assert.Equal(t, testRate, rate)
	assert.Equal(t, 1, channels)

	_, _, _, err = Probe([]byte("RIFFnope"))
	assert.Error(t, err)
}

// stereoWAV renders frames whose left sample is i%1000 and right sample its
// negation, followed by a LIST chunk after the PCM data.
func stereoWAV(t *testing.T, frames int) []byte {
	t.Helper()
	data := make([]int, 2*frames)
	for i := 0; i < frames; i++ {
		data[2*i] = i % 1000
		data[2*i+1] = -(i % 1000)
	}

	path := filepath.Join(t.TempDir(), "stereo.wav")
	f, err := os.Create(path)
	require.NoError(t, err)
	enc := wav.NewEncoder(f, testRate, 16, 2, 1)
	enc.Metadata = &wav.Metadata{Title: "weekly sync"}
	require.NoError(t, enc.Write(&audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 2, SampleRate: testRate},
		Data:           data,
		SourceBitDepth: 16,
	}))
	require.NoError(t, enc.Close())
	require.NoError(t, f.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	return raw
}

func TestDecodeWAVStopsAtDataChunk(t *testing.T) {
	frames := 5 * testRate
	decoded, err := DecodeWAV(stereoWAV(t, frames))
	require.NoError(t, err)
	assert.Equal(t, frames, decoded.Frames)
	assert.Equal(t, 2, decoded.Channels)
	assert.InDelta(t, 5.0, decoded.Duration, 1e-9)

	levels, err := decoded.WindowLevels(context.Background(), 1)
	require.NoError(t, err)
	assert.Len(t, levels, 5)
	for _, l := range levels {
		assert.Greater(t, l, 0.0)
	}
}

func TestWriteChunksAcrossBlocks(t *testing.T) {
	frames := 5 * testRate
	require.Greater(t, frames, 2*pcmBlockFrames)
	decoded, err := DecodeWAV(stereoWAV(t, frames))
	require.NoError(t, err)

	bounds := []Boundary{
		{Index: 0, Start: 0, End: 2.5},
		{Index: 1, Start: 2, End: 4.5},
		{Index: 2, Start: 4, End: 5},
	}
	dir := t.TempDir()
	pathFor := func(b Boundary) string { return filepath.Join(dir, fmt.Sprintf("chunk_%d.wav", b.Index)) }
	sizes, err := decoded.WriteChunks(context.Background(), bounds, pathFor)
	require.NoError(t, err)
	require.Len(t, sizes, 3)

	for i, b := range bounds {
		raw, err := os.ReadFile(pathFor(b))
		require.NoError(t, err)
		assert.Equal(t, int64(len(raw)), sizes[i])

		buf, err := wav.NewDecoder(bytes.NewReader(raw)).FullPCMBuffer()
		require.NoError(t, err)
		first := int(b.Start * testRate)
		want := int((b.End - b.Start) * testRate)
		require.Len(t, buf.Data, 2*want, "chunk %d", i)
		for k := 0; k < want; k++ {
			require.Equal(t, (first+k)%1000, buf.Data[2*k], "chunk %d frame %d", i, k)
			require.Equal(t, -((first + k) % 1000), buf.Data[2*k+1], "chunk %d frame %d", i, k)
		}
	}
}

func TestWriteChunksCancelled(t *testing.T) {
	decoded, err := DecodeWAV(stereoWAV(t, testRate))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = decoded.WriteChunks(ctx, []Boundary{{End: 1}}, func(Boundary) string {
		return filepath.Join(t.TempDir(), "chunk.wav")
	})
	assert.ErrorIs(t, err, context.Canceled)
}
