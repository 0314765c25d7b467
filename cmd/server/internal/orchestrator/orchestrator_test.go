package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/houzhh15/meetscribe/cmd/server/internal/cache"
	"github.com/houzhh15/meetscribe/cmd/server/internal/dedup"
	"github.com/houzhh15/meetscribe/cmd/server/internal/orchestrator/orcherr"
	"github.com/houzhh15/meetscribe/cmd/server/internal/orchestrator/whisper"
	"github.com/houzhh15/meetscribe/cmd/server/internal/overlap"
	"github.com/houzhh15/meetscribe/cmd/server/internal/segmenter"
)

// reply is one scripted transcriber answer.
type reply struct {
	text  string
	err   error
	delay time.Duration
	// block waits for the call context to end and returns its error
	block bool
	// before runs when the call starts
	before func()
}

type call struct {
	path        string
	prompt      string
	temperature float64
}

// fakeTranscriber answers from a per-path script; the last reply repeats.
type fakeTranscriber struct {
	mu      sync.Mutex
	scripts map[string][]reply
	calls   []call
	text    func(path string) string
}

func newFake() *fakeTranscriber {
	return &fakeTranscriber{scripts: make(map[string][]reply)}
}

func (f *fakeTranscriber) script(path string, replies ...reply) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts[path] = replies
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, audioPath string, options *whisper.TranscribeOptions) (*whisper.TranscriptionResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, call{path: audioPath, prompt: options.Prompt, temperature: options.Temperature})
	var r reply
	if s := f.scripts[audioPath]; len(s) > 0 {
		r = s[0]
		if len(s) > 1 {
			f.scripts[audioPath] = s[1:]
		}
	} else if f.text != nil {
		r = reply{text: f.text(audioPath)}
	}
	f.mu.Unlock()

	if r.before != nil {
		r.before()
	}
	if r.block {
		<-ctx.Done()
		return nil, orcherr.NewWhisperUnavailableError(ctx.Err())
	}
	if r.delay > 0 {
		select {
		case <-time.After(r.delay):
		case <-ctx.Done():
			return nil, orcherr.NewWhisperUnavailableError(ctx.Err())
		}
	}
	if r.err != nil {
		return nil, r.err
	}
	return &whisper.TranscriptionResult{Text: r.text, Language: "en"}, nil
}

func (f *fakeTranscriber) HealthCheck(ctx context.Context) (bool, error) { return true, nil }
func (f *fakeTranscriber) Name() string                                  { return "fake" }

func (f *fakeTranscriber) callsFor(path string) []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []call
	for _, c := range f.calls {
		if c.path == path {
			out = append(out, c)
		}
	}
	return out
}

// makeChunks lays out n chunks of chunkSec with overlapSec and writes a small
// file for each so the cache can key them.
func makeChunks(t *testing.T, n int, chunkSec, overlapSec float64) []segmenter.AudioChunk {
	t.Helper()
	dir := t.TempDir()
	chunks := make([]segmenter.AudioChunk, n)
	for i := range chunks {
		path := filepath.Join(dir, fmt.Sprintf("chunk_%04d.wav", i))
		require.NoError(t, os.WriteFile(path, []byte(fmt.Sprintf("RIFF-chunk-%d", i)), 0o644))
		start := float64(i) * (chunkSec - overlapSec)
		chunks[i] = segmenter.AudioChunk{
			Index:         i,
			StartTime:     start,
			EndTime:       start + chunkSec,
			Overlap:       overlapSec,
			SizeBytes:     1000,
			Path:          path,
			MimeType:      "audio/wav",
			MeanAmplitude: -1,
		}
	}
	return chunks
}

type recordedSleeps struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordedSleeps) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return ctx.Err()
}

func testConfig(parallel int) Config {
	cfg := DefaultConfig()
	cfg.MaxParallel = parallel
	cfg.DispatchDelay = 0
	cfg.RetryBaseDelay = time.Second
	return cfg
}

func newTestOrchestrator(t *testing.T, cfg Config, tr whisper.WhisperTranscriber, opts ...Option) (*Orchestrator, *recordedSleeps) {
	t.Helper()
	engine, err := dedup.NewEngine(dedup.DefaultConfig(), nil)
	require.NoError(t, err)
	o, err := New(cfg, Static(tr), engine, opts...)
	require.NoError(t, err)
	sleeps := &recordedSleeps{}
	o.sleep = sleeps.sleep
	return o, sleeps
}

func TestRunSequentialResolvesOverlap(t *testing.T) {
	chunks := makeChunks(t, 3, 30, 5)
	fake := newFake()
	fake.script(chunks[0].Path, reply{text: "The quarterly results were strong."})
	fake.script(chunks[1].Path, reply{text: "were strong, and the outlook for next year is positive."})
	fake.script(chunks[2].Path, reply{text: "next year is positive. Hiring will resume in March."})

	o, _ := newTestOrchestrator(t, testConfig(1), fake)
	res, err := o.Run(context.Background(), chunks)
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, res.State)
	assert.Equal(t,
		"The quarterly results were strong.\n\nand the outlook for next year is positive.\n\nHiring will resume in March.",
		res.Transcript)
	assert.Equal(t, 1, strings.Count(strings.ToLower(res.Transcript), "were strong"))
	require.Len(t, res.Results, 3)
	assert.Equal(t, overlap.MethodNone, res.Results[0].OverlapMethod)
	assert.Equal(t, overlap.MethodAlignment, res.Results[1].OverlapMethod)
	assert.Equal(t, overlap.MethodWindow, res.Results[2].OverlapMethod)

	// chunk 0 gets the domain prompt, later chunks quote the transcript so far
	assert.Equal(t, whisper.DefaultDomainPrompt, fake.callsFor(chunks[0].Path)[0].prompt)
	assert.Contains(t, fake.callsFor(chunks[1].Path)[0].prompt, "The quarterly results were strong.")
	assert.Contains(t, fake.callsFor(chunks[2].Path)[0].prompt, "positive.")
}

func TestRunSequentialDispatchDelay(t *testing.T) {
	chunks := makeChunks(t, 3, 30, 5)
	fake := newFake()
	fake.text = func(path string) string { return "text for " + filepath.Base(path) }

	cfg := testConfig(1)
	cfg.DispatchDelay = 500 * time.Millisecond
	o, sleeps := newTestOrchestrator(t, cfg, fake)
	_, err := o.Run(context.Background(), chunks)
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{500 * time.Millisecond, 500 * time.Millisecond}, sleeps.delays)
}

// overlappingWords returns a transcriber text function where each chunk says
// the words of one long stream spoken between its start and end times.
func overlappingWords(chunks []segmenter.AudioChunk, wordsPerSecond float64) func(string) string {
	byPath := make(map[string]segmenter.AudioChunk, len(chunks))
	for _, c := range chunks {
		byPath[c.Path] = c
	}
	return func(path string) string {
		c := byPath[path]
		from, to := int(c.StartTime*wordsPerSecond), int(c.EndTime*wordsPerSecond)
		words := make([]string, 0, to-from)
		for w := from; w < to; w++ {
			words = append(words, fmt.Sprintf("w%d", w))
		}
		return strings.Join(words, " ")
	}
}

func TestRunParallelMatchesSequential(t *testing.T) {
	chunks := makeChunks(t, 12, 30, 5)
	words := overlappingWords(chunks, 2)

	run := func(parallel int) *JobResult {
		fake := newFake()
		for i, c := range chunks {
			// later chunks finish first in parallel mode
			fake.script(c.Path, reply{text: words(c.Path), delay: time.Duration(len(chunks)-i) * 3 * time.Millisecond})
		}
		o, _ := newTestOrchestrator(t, testConfig(parallel), fake)
		res, err := o.Run(context.Background(), chunks)
		require.NoError(t, err)
		return res
	}

	seq := run(1)
	par := run(4)

	assert.Equal(t, seq.Transcript, par.Transcript)
	assert.Equal(t, seq.RawTranscript, par.RawTranscript)
	require.Len(t, par.Results, len(chunks))
	for i, r := range par.Results {
		assert.Equal(t, i, r.ChunkIndex, "results are in chunk order")
	}
}

func TestRunRetriesWithRisingTemperature(t *testing.T) {
	chunks := makeChunks(t, 1, 30, 5)
	fake := newFake()
	fake.script(chunks[0].Path,
		reply{err: orcherr.NewWhisperHTTPError(502, "bad gateway")},
		reply{err: orcherr.NewEmptyTranscriptionError()},
		reply{text: "third time lucky"},
	)

	o, sleeps := newTestOrchestrator(t, testConfig(1), fake)
	res, err := o.Run(context.Background(), chunks)
	require.NoError(t, err)

	require.Len(t, res.Results, 1)
	assert.Equal(t, 2, res.Results[0].RetryCount)
	assert.False(t, res.Results[0].Failed())
	assert.Equal(t, "third time lucky", res.Transcript)

	calls := fake.callsFor(chunks[0].Path)
	require.Len(t, calls, 3)
	assert.InDelta(t, 0.0, calls[0].temperature, 1e-9)
	assert.InDelta(t, 0.2, calls[1].temperature, 1e-9)
	assert.InDelta(t, 0.4, calls[2].temperature, 1e-9)
	assert.NotEmpty(t, calls[0].prompt)
	assert.Empty(t, calls[1].prompt)
	assert.Empty(t, calls[2].prompt)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, sleeps.delays)
}

func TestRunRateLimitDoublesDelay(t *testing.T) {
	chunks := makeChunks(t, 1, 30, 5)
	fake := newFake()
	fake.script(chunks[0].Path,
		reply{err: orcherr.NewRateLimitError("slow down")},
		reply{err: orcherr.NewRateLimitError("slow down")},
		reply{text: "ok"},
	)
	o, sleeps := newTestOrchestrator(t, testConfig(1), fake)
	_, err := o.Run(context.Background(), chunks)
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, sleeps.delays)
}

func TestRunTemperatureCapped(t *testing.T) {
	cfg := testConfig(1)
	cfg.Temperature = 0.8
	o, _ := newTestOrchestrator(t, cfg, newFake())
	assert.InDelta(t, 1.0, o.options(2, "p").Temperature, 1e-9)
	assert.Equal(t, "p", o.options(0, "p").Prompt)
	assert.Empty(t, o.options(1, "p").Prompt)
}

func TestRunRetryExhaustionLeavesMarker(t *testing.T) {
	chunks := makeChunks(t, 3, 30, 5)
	fake := newFake()
	fake.script(chunks[0].Path, reply{text: "Welcome everyone to the planning session."})
	fake.script(chunks[1].Path, reply{err: orcherr.NewWhisperUnavailableError(errors.New("connection refused"))})
	fake.script(chunks[2].Path, reply{text: "Let us review the open action items."})

	o, _ := newTestOrchestrator(t, testConfig(1), fake)
	res, err := o.Run(context.Background(), chunks)
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, res.State)
	assert.Equal(t, 1, res.FailedChunks)
	assert.Len(t, fake.callsFor(chunks[1].Path), 3)

	failed := res.Results[1]
	assert.True(t, failed.Failed())
	assert.Equal(t, orcherr.WHISPER_UNAVAILABLE, failed.ErrorCode)
	assert.Equal(t, 2, failed.RetryCount)
	assert.Equal(t, "[segment 1 failed: WHISPER_UNAVAILABLE after 3 attempts]", failed.Text)
	assert.Equal(t,
		"Welcome everyone to the planning session.\n\n[segment 1 failed: WHISPER_UNAVAILABLE after 3 attempts]\n\nLet us review the open action items.",
		res.Transcript)
}

func TestRunNonRetryableError(t *testing.T) {
	chunks := makeChunks(t, 1, 30, 5)
	fake := newFake()
	fake.script(chunks[0].Path, reply{err: orcherr.NewPayloadTooLargeError(30 << 20)})

	o, sleeps := newTestOrchestrator(t, testConfig(1), fake)
	res, err := o.Run(context.Background(), chunks)
	require.NoError(t, err)
	assert.Len(t, fake.callsFor(chunks[0].Path), 1)
	assert.Empty(t, sleeps.delays)
	assert.Equal(t, orcherr.PAYLOAD_TOO_LARGE, res.Results[0].ErrorCode)
	assert.Equal(t, "[segment 0 failed: PAYLOAD_TOO_LARGE]", res.Transcript)
}

func TestRunInvalidChunkSkipsProvider(t *testing.T) {
	chunks := makeChunks(t, 2, 30, 5)
	chunks[0].SizeBytes = whisper.ProviderMaxBytes + 1
	chunks[1].SizeBytes = 0
	fake := newFake()

	o, _ := newTestOrchestrator(t, testConfig(1), fake)
	res, err := o.Run(context.Background(), chunks)
	require.NoError(t, err)

	assert.Empty(t, fake.callsFor(chunks[0].Path))
	assert.Empty(t, fake.callsFor(chunks[1].Path))
	assert.Equal(t, orcherr.PAYLOAD_TOO_LARGE, res.Results[0].ErrorCode)
	assert.Equal(t, orcherr.CHUNK_INVALID, res.Results[1].ErrorCode)
	assert.Equal(t, 2, res.FailedChunks)
}

func TestRunSkipsSilentChunk(t *testing.T) {
	for _, parallel := range []int{1, 3} {
		t.Run(fmt.Sprintf("parallel=%d", parallel), func(t *testing.T) {
			chunks := makeChunks(t, 3, 30, 5)
			chunks[1].MeanAmplitude = 0
			fake := newFake()
			fake.script(chunks[0].Path, reply{text: "We opened the meeting with the quarterly numbers."})
			fake.script(chunks[2].Path, reply{text: "Then the team discussed the hiring plan for spring."})

			o, _ := newTestOrchestrator(t, testConfig(parallel), fake)
			res, err := o.Run(context.Background(), chunks)
			require.NoError(t, err)

			assert.Equal(t, StateCompleted, res.State)
			assert.Zero(t, res.FailedChunks)
			assert.Equal(t, 1, res.SilentChunks)
			assert.Empty(t, fake.callsFor(chunks[1].Path))

			silent := res.Results[1]
			assert.True(t, silent.Silent)
			assert.False(t, silent.Failed())
			assert.Empty(t, silent.Text)
			assert.NotContains(t, res.Transcript, "failed")
			assert.Equal(t,
				"We opened the meeting with the quarterly numbers.\n\nThen the team discussed the hiring plan for spring.",
				res.Transcript)
		})
	}
}

func TestRunFatalStopsDispatch(t *testing.T) {
	t.Run("sequential", func(t *testing.T) {
		chunks := makeChunks(t, 5, 30, 5)
		fake := newFake()
		fake.text = func(path string) string { return "spoken words in " + filepath.Base(path) }
		fake.script(chunks[1].Path, reply{err: orcherr.NewAuthError("invalid api key")})

		o, _ := newTestOrchestrator(t, testConfig(1), fake)
		res, err := o.Run(context.Background(), chunks)
		require.Error(t, err)

		var oe *orcherr.OrchError
		require.True(t, errors.As(err, &oe))
		assert.Equal(t, orcherr.AUTH_INVALID, oe.Code)
		assert.Equal(t, 1, oe.ChunkIndex)
		assert.True(t, orcherr.IsFatal(err))

		require.NotNil(t, res)
		assert.Equal(t, StateFailed, res.State)
		assert.Len(t, res.Results, 2)
		assert.Len(t, fake.callsFor(chunks[1].Path), 1, "fatal errors are not retried")
		for _, c := range chunks[2:] {
			assert.Empty(t, fake.callsFor(c.Path))
		}
		assert.Contains(t, res.Transcript, "spoken words in chunk_0000.wav")
	})

	t.Run("parallel", func(t *testing.T) {
		chunks := makeChunks(t, 6, 30, 5)
		fake := newFake()
		fake.script(chunks[0].Path, reply{err: orcherr.NewQuotaError("insufficient_quota"), delay: 10 * time.Millisecond})
		fake.script(chunks[1].Path, reply{text: "still in flight when the quota ran out", delay: 50 * time.Millisecond})

		o, _ := newTestOrchestrator(t, testConfig(2), fake)
		res, err := o.Run(context.Background(), chunks)
		require.Error(t, err)
		assert.Equal(t, orcherr.QUOTA_EXHAUSTED, orcherr.CodeOf(err))
		assert.Equal(t, StateFailed, res.State)
		assert.Len(t, res.Results, 2)
		for _, c := range chunks[2:] {
			assert.Empty(t, fake.callsFor(c.Path))
		}
		assert.Contains(t, res.Transcript, "still in flight")
	})
}

func TestRunCancellationDrainsInFlight(t *testing.T) {
	chunks := makeChunks(t, 4, 30, 5)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fake := newFake()
	fake.script(chunks[0].Path, reply{text: "Opening remarks from the chair."})
	fake.script(chunks[1].Path, reply{text: "This call finishes after the cancel.", before: cancel, delay: 10 * time.Millisecond})

	o, _ := newTestOrchestrator(t, testConfig(1), fake)
	res, err := o.Run(ctx, chunks)

	require.Error(t, err)
	assert.Equal(t, orcherr.JOB_CANCELLED, orcherr.CodeOf(err))
	assert.Equal(t, StateCancelled, res.State)
	assert.Len(t, res.Results, 2)
	assert.Contains(t, res.Transcript, "This call finishes after the cancel.")
	assert.Empty(t, fake.callsFor(chunks[2].Path))
}

func TestRunDrainTimeoutMarksInFlight(t *testing.T) {
	chunks := makeChunks(t, 3, 30, 5)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fake := newFake()
	fake.script(chunks[0].Path, reply{text: "Only this part made it."})
	fake.script(chunks[1].Path, reply{block: true, before: cancel})

	cfg := testConfig(1)
	cfg.DrainTimeout = 20 * time.Millisecond
	o, _ := newTestOrchestrator(t, cfg, fake)

	done := make(chan struct{})
	var res *JobResult
	go func() {
		res, _ = o.Run(ctx, chunks)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after the drain timeout")
	}

	assert.Equal(t, StateCancelled, res.State)
	require.Len(t, res.Results, 2)
	assert.Equal(t, orcherr.JOB_CANCELLED, res.Results[1].ErrorCode)
	assert.Equal(t, "Only this part made it.\n\n[segment 1 failed: JOB_CANCELLED]", res.Transcript)
	assert.Len(t, fake.callsFor(chunks[1].Path), 1)
}

func TestRunUsesCache(t *testing.T) {
	chunks := makeChunks(t, 3, 30, 5)
	c, err := cache.New(t.TempDir(), time.Hour, 10)
	require.NoError(t, err)

	fake := newFake()
	fake.text = overlappingWords(chunks, 2)

	o, _ := newTestOrchestrator(t, testConfig(2), fake, WithCache(c))
	first, err := o.Run(context.Background(), chunks)
	require.NoError(t, err)
	assert.Zero(t, first.CachedChunks)

	second, err := o.Run(context.Background(), chunks)
	require.NoError(t, err)
	assert.Equal(t, 3, second.CachedChunks)
	assert.Equal(t, first.Transcript, second.Transcript)
	for _, ch := range chunks {
		assert.Len(t, fake.callsFor(ch.Path), 1, "second run is served from the cache")
	}
	assert.Equal(t, int64(3), c.Stats().Hits)
}

func TestRunProgress(t *testing.T) {
	chunks := makeChunks(t, 4, 30, 5)
	fake := newFake()
	fake.text = overlappingWords(chunks, 2)
	fake.script(chunks[2].Path, reply{err: orcherr.NewChunkInvalidError("broken")})

	var states []ProgressState
	o, _ := newTestOrchestrator(t, testConfig(2), fake)
	_, err := o.RunWithProgress(context.Background(), chunks, func(p ProgressState) {
		states = append(states, p)
	})
	require.NoError(t, err)

	require.NotEmpty(t, states)
	assert.Equal(t, StateTranscribing, states[0].Phase)
	last := states[len(states)-1]
	assert.Equal(t, StateCompleted, last.Phase)
	assert.Equal(t, 4, last.CompletedChunks)
	assert.Equal(t, 4, last.TotalChunks)
	assert.Equal(t, 1, last.FailedChunks)
	assert.Zero(t, last.EstimatedTimeRemaining)
	assert.InDelta(t, 100.0, last.Percent(), 1e-9)

	done := 0
	for _, s := range states {
		assert.GreaterOrEqual(t, s.CompletedChunks, done, "completed count never decreases")
		done = s.CompletedChunks
		assert.GreaterOrEqual(t, s.EstimatedTimeRemaining, 0.0)
	}
}

func TestProgressTrackerETA(t *testing.T) {
	now := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	p := newProgressTracker(5, 1, nil)
	p.now = func() time.Time { return now }
	p.last = now

	now = now.Add(10 * time.Second)
	p.chunkDone(ChunkResult{ChunkIndex: 0}, 0, false)
	assert.InDelta(t, 40.0, p.state.EstimatedTimeRemaining, 1e-9)

	now = now.Add(20 * time.Second)
	p.chunkDone(ChunkResult{ChunkIndex: 1}, 0, false)
	// 0.3*20 + 0.7*10 = 13 seconds per chunk, 3 left
	assert.InDelta(t, 39.0, p.state.EstimatedTimeRemaining, 1e-9)
	assert.Equal(t, 1, p.state.CurrentChunk)
}

func TestRunEndToEndNinetySixChunks(t *testing.T) {
	cfg := segmenter.DefaultConfig()
	cfg.ChunkSeconds, cfg.OverlapSeconds = 30, 5
	bounds, err := segmenter.PlanChunks(2400, cfg, nil, nil)
	require.NoError(t, err)
	require.Len(t, bounds, 96)

	chunks := makeChunks(t, len(bounds), 30, 5)
	for i, b := range bounds {
		chunks[i].StartTime, chunks[i].EndTime = b.Start, b.End
	}

	fake := newFake()
	fake.text = overlappingWords(chunks, 2)
	o, _ := newTestOrchestrator(t, testConfig(6), fake)
	res, err := o.Run(context.Background(), chunks)
	require.NoError(t, err)

	assert.Equal(t, 96, res.TotalChunks)
	assert.Zero(t, res.FailedChunks)
	assert.Zero(t, res.RejectedChunks)

	got := strings.Fields(res.Transcript)
	require.Len(t, got, 4800)
	for i, w := range got {
		if w != fmt.Sprintf("w%d", i) {
			t.Fatalf("word %d = %q, overlap was not removed cleanly", i, w)
		}
	}
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.MaxParallel = 0
	cfg.Temperature = 2
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_parallel")
	assert.Contains(t, err.Error(), "temperature")

	engine, _ := dedup.NewEngine(dedup.DefaultConfig(), nil)
	_, err = New(DefaultConfig(), nil, engine)
	assert.Error(t, err)
}
