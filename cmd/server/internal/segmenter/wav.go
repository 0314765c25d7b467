package segmenter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const (
	// wavHeaderSize is the canonical PCM header written by wav.Encoder.
	wavHeaderSize = 44

	// pcmBlockFrames is how many frames one PCMBuffer call decodes.
	pcmBlockFrames = 16384
)

// Decoded describes a PCM WAV recording. Samples are decoded block by block
// from the source bytes on every pass; only one block is held at a time.
type Decoded struct {
	data       []byte
	SampleRate int
	Channels   int
	BitDepth   int
	Frames     int
	Duration   float64
}

// DecodeWAV reads the header of a PCM WAV byte stream. data is not copied
// and must not change while the Decoded is in use.
func DecodeWAV(data []byte) (*Decoded, error) {
	if len(data) == 0 {
		return nil, ErrEmptyInput
	}
	dec, err := openPCM(data)
	if err != nil {
		return nil, err
	}

	channels := int(dec.NumChans)
	rate := int(dec.SampleRate)
	depth := int(dec.BitDepth)
	if channels <= 0 || rate <= 0 || depth <= 0 {
		return nil, fmt.Errorf("unsupported wav format: channels=%d rate=%d depth=%d", channels, rate, depth)
	}

	// the header may claim more PCM than the stream holds
	pos, err := dec.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, fmt.Errorf("locate pcm: %w", err)
	}
	pcmBytes := min(dec.PCMLen(), int64(len(data))-pos)
	bytesPerFrame := int64(channels * ((depth + 7) / 8))
	frames := int(pcmBytes / bytesPerFrame)
	if frames <= 0 {
		return nil, errors.New("wav stream has no samples")
	}

	return &Decoded{
		data:       data,
		SampleRate: rate,
		Channels:   channels,
		BitDepth:   depth,
		Frames:     frames,
		Duration:   float64(frames) / float64(rate),
	}, nil
}

func openPCM(data []byte) (*wav.Decoder, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return nil, errors.New("not a valid PCM wav stream")
	}
	if err := dec.FwdToPCM(); err != nil {
		return nil, fmt.Errorf("locate pcm: %w", err)
	}
	return dec, nil
}

// eachBlock decodes the recording in blocks and calls fn with the samples
// and the index of the first one. The slice is reused between calls.
func (d *Decoded) eachBlock(ctx context.Context, fn func(samples []int, first int) error) error {
	dec, err := openPCM(d.data)
	if err != nil {
		return err
	}
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: d.Channels, SampleRate: d.SampleRate},
		Data:           make([]int, pcmBlockFrames*d.Channels),
		SourceBitDepth: d.BitDepth,
	}

	total := d.Frames * d.Channels
	for pos := 0; pos < total; {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := dec.PCMBuffer(buf)
		if err != nil {
			return fmt.Errorf("read pcm: %w", err)
		}
		if n == 0 {
			break
		}
		// the data chunk reader is not bounded; trailing chunks are not PCM
		n = min(n, total-pos)
		if err := fn(buf.Data[:n], pos); err != nil {
			return err
		}
		pos += n
	}
	return nil
}

func (d *Decoded) bytesPerFrame() int64 {
	return int64(d.Channels * ((d.BitDepth + 7) / 8))
}

// SizeOf returns an upper bound of the encoded WAV size for the given duration.
func (d *Decoded) SizeOf(durationSeconds float64) int64 {
	frames := int64(math.Ceil(durationSeconds*float64(d.SampleRate))) + 1
	return wavHeaderSize + frames*d.bytesPerFrame()
}

func (d *Decoded) frameAt(seconds float64) int {
	return clampInt(int(math.Round(seconds*float64(d.SampleRate))), 0, d.Frames)
}

// frameRange maps [start, end) seconds to frames, at least one frame wide.
func (d *Decoded) frameRange(start, end float64) (int, int) {
	sf := d.frameAt(start)
	ef := d.frameAt(end)
	if ef <= sf {
		ef = min(sf+1, d.Frames)
		sf = ef - 1
	}
	return sf, ef
}

// WindowLevels returns the mean absolute amplitude per window, normalized to [0,1].
func (d *Decoded) WindowLevels(ctx context.Context, windowSeconds float64) ([]float64, error) {
	if windowSeconds <= 0 {
		return nil, nil
	}
	win := max(1, int(math.Round(windowSeconds*float64(d.SampleRate))))
	n := (d.Frames + win - 1) / win
	sums := make([]float64, n)
	counts := make([]int, n)

	err := d.eachBlock(ctx, func(samples []int, first int) error {
		for i, s := range samples {
			w := (first + i) / d.Channels / win
			sums[w] += math.Abs(float64(s))
			counts[w]++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	fullScale := math.Pow(2, float64(d.BitDepth-1))
	for w := range sums {
		if counts[w] > 0 {
			sums[w] = sums[w] / float64(counts[w]) / fullScale
		}
	}
	return sums, nil
}

// chunkWriter encodes one sample range [lo, hi) to a WAV file.
type chunkWriter struct {
	path    string
	lo, hi  int
	f       *os.File
	enc     *wav.Encoder
	written int
}

func (w *chunkWriter) open(d *Decoded) error {
	f, err := os.Create(w.path)
	if err != nil {
		return err
	}
	w.f = f
	w.enc = wav.NewEncoder(f, d.SampleRate, d.BitDepth, d.Channels, 1)
	return nil
}

func (w *chunkWriter) write(buf *audio.IntBuffer, samples []int, first int) error {
	lo := max(w.lo, first)
	hi := min(w.hi, first+len(samples))
	if hi <= lo {
		return nil
	}
	buf.Data = samples[lo-first : hi-first]
	w.written += hi - lo
	return w.enc.Write(buf)
}

func (w *chunkWriter) close() (int64, error) {
	if w.written == 0 {
		w.f.Close()
		return 0, fmt.Errorf("no samples for %s", w.path)
	}
	if err := w.enc.Close(); err != nil {
		w.f.Close()
		return 0, err
	}
	if err := w.f.Close(); err != nil {
		return 0, err
	}
	info, err := os.Stat(w.path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// WriteChunks encodes every boundary to the file named by pathFor in a single
// decoding pass and returns the file sizes in boundary order. Boundaries must
// be sorted by start time.
func (d *Decoded) WriteChunks(ctx context.Context, bounds []Boundary, pathFor func(Boundary) string) ([]int64, error) {
	writers := make([]*chunkWriter, len(bounds))
	for i, b := range bounds {
		sf, ef := d.frameRange(b.Start, b.End)
		writers[i] = &chunkWriter{path: pathFor(b), lo: sf * d.Channels, hi: ef * d.Channels}
	}
	sizes := make([]int64, len(bounds))

	var active []int
	next := 0
	defer func() {
		for _, i := range active {
			writers[i].f.Close()
		}
	}()

	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: d.Channels, SampleRate: d.SampleRate},
		SourceBitDepth: d.BitDepth,
	}
	err := d.eachBlock(ctx, func(samples []int, first int) error {
		end := first + len(samples)
		for next < len(writers) && writers[next].lo < end {
			if err := writers[next].open(d); err != nil {
				return err
			}
			active = append(active, next)
			next++
		}

		still := make([]int, 0, len(active))
		for _, i := range active {
			w := writers[i]
			if err := w.write(buf, samples, first); err != nil {
				return fmt.Errorf("chunk %d: %w", bounds[i].Index, err)
			}
			if w.hi > end {
				still = append(still, i)
				continue
			}
			size, err := w.close()
			if err != nil {
				return fmt.Errorf("chunk %d: %w", bounds[i].Index, err)
			}
			sizes[i] = size
		}
		active = still
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(active) > 0 {
		return nil, fmt.Errorf("pcm stream ended before chunk %d was complete", bounds[active[0]].Index)
	}
	if next < len(writers) {
		return nil, fmt.Errorf("pcm stream ended before chunk %d was complete", bounds[next].Index)
	}
	return sizes, nil
}

// Probe reads the header of data and reports its duration, sample rate and
// channel count.
func Probe(data []byte) (duration float64, sampleRate, channels int, err error) {
	d, err := DecodeWAV(data)
	if err != nil {
		return 0, 0, 0, err
	}
	return d.Duration, d.SampleRate, d.Channels, nil
}
