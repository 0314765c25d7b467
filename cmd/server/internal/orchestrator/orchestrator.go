package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/houzhh15/meetscribe/cmd/server/internal/cache"
	"github.com/houzhh15/meetscribe/cmd/server/internal/dedup"
	"github.com/houzhh15/meetscribe/cmd/server/internal/metrics"
	"github.com/houzhh15/meetscribe/cmd/server/internal/orchestrator/orcherr"
	"github.com/houzhh15/meetscribe/cmd/server/internal/orchestrator/whisper"
	"github.com/houzhh15/meetscribe/cmd/server/internal/overlap"
	"github.com/houzhh15/meetscribe/cmd/server/internal/segmenter"
	"github.com/houzhh15/meetscribe/pkg/logger"
)

// Config holds runtime adjustable parameters.
type Config struct {
	MaxParallel     int           `yaml:"max_parallel" json:"max_parallel"` // 1: sequential, >1: bounded parallel
	MaxRetries      int           `yaml:"max_retries" json:"max_retries"`   // attempts per chunk, including the first
	RetryBaseDelay  time.Duration `yaml:"retry_base_delay" json:"retry_base_delay"`
	DispatchDelay   time.Duration `yaml:"dispatch_delay" json:"dispatch_delay"` // sequential mode only
	DrainTimeout    time.Duration `yaml:"drain_timeout" json:"drain_timeout"`
	CallTimeout     time.Duration `yaml:"call_timeout" json:"call_timeout"`
	Model           string        `yaml:"model" json:"model"`
	Language        string        `yaml:"language" json:"language"` // empty: provider auto-detect
	Temperature     float64       `yaml:"temperature" json:"temperature"`
	TemperatureStep float64       `yaml:"temperature_step" json:"temperature_step"`

	Prompt  whisper.PromptConfig `yaml:"prompt" json:"prompt"`
	Limits  whisper.Limits       `yaml:"limits" json:"limits"`
	Overlap overlap.Config       `yaml:"overlap" json:"overlap"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		MaxParallel:     6,
		MaxRetries:      3,
		RetryBaseDelay:  time.Second,
		DispatchDelay:   500 * time.Millisecond,
		DrainTimeout:    90 * time.Second,
		CallTimeout:     10 * time.Minute,
		Model:           whisper.DefaultModel,
		Temperature:     0,
		TemperatureStep: 0.2,
		Prompt:          whisper.DefaultPromptConfig(),
		Limits:          whisper.DefaultLimits(),
		Overlap:         overlap.DefaultConfig(),
	}
}

// Validate checks the parameters.
func (c Config) Validate() error {
	var problems []string
	if c.MaxParallel < 1 {
		problems = append(problems, "max_parallel must be >= 1")
	}
	if c.MaxRetries < 1 {
		problems = append(problems, "max_retries must be >= 1")
	}
	if c.RetryBaseDelay < 0 || c.DispatchDelay < 0 {
		problems = append(problems, "delays must be >= 0")
	}
	if c.DrainTimeout <= 0 {
		problems = append(problems, "drain_timeout must be > 0")
	}
	if c.Temperature < 0 || c.Temperature > 1 {
		problems = append(problems, "temperature must be in [0,1]")
	}
	if c.TemperatureStep < 0 {
		problems = append(problems, "temperature_step must be >= 0")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid orchestrator config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// State values
type State string

const (
	StatePending      State = "pending"
	StateSplitting    State = "splitting"
	StateTranscribing State = "transcribing"
	StateMerging      State = "merging"
	StateCompleted    State = "completed"
	StateCancelled    State = "cancelled"
	StateFailed       State = "failed"
)

// Terminal reports whether no further transitions happen.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateCancelled || s == StateFailed
}

// ChunkResult is the outcome of one dispatched chunk.
type ChunkResult struct {
	ChunkIndex  int                            `json:"chunk_index"`
	Text        string                         `json:"text"`
	Segments    []whisper.TranscriptionSegment `json:"segments,omitempty"`
	Error       string                         `json:"error,omitempty"`
	ErrorCode   orcherr.ErrorCode              `json:"error_code,omitempty"`
	RetryCount  int                            `json:"retry_count"`
	Transcriber string                         `json:"transcriber"`
	DurationMs  int64                          `json:"duration_ms"`
	Cached      bool                           `json:"cached"`
	Rejected    bool                           `json:"rejected"`
	// Silent chunks are not sent to the transcriber and contribute no text.
	Silent bool `json:"silent,omitempty"`

	OverlapMethod overlap.Method `json:"overlap_method,omitempty"`
	DroppedWords  int            `json:"dropped_words,omitempty"`
}

// Failed reports whether the chunk ended as a failure marker.
func (r ChunkResult) Failed() bool {
	return r.Error != ""
}

// JobResult is what Run produces, also on fatal errors and cancellation.
type JobResult struct {
	Transcript     string        `json:"transcript"`
	RawTranscript  string        `json:"raw_transcript"`
	Results        []ChunkResult `json:"results"`
	TotalChunks    int           `json:"total_chunks"`
	FailedChunks   int           `json:"failed_chunks"`
	RejectedChunks int           `json:"rejected_chunks"`
	CachedChunks   int           `json:"cached_chunks"`
	SilentChunks   int           `json:"silent_chunks"`
	State          State         `json:"state"`
	Degraded       bool          `json:"degraded"`
	DurationMs     int64         `json:"duration_ms"`
}

// TranscriberProvider hands out the transcriber to use for the next call.
// *degradation.DegradationController implements it.
type TranscriberProvider interface {
	GetTranscriber() whisper.WhisperTranscriber
	IsDegraded() bool
}

type staticProvider struct {
	t whisper.WhisperTranscriber
}

func (s staticProvider) GetTranscriber() whisper.WhisperTranscriber { return s.t }
func (s staticProvider) IsDegraded() bool                           { return false }

// Static wraps a single transcriber as a TranscriberProvider.
func Static(t whisper.WhisperTranscriber) TranscriberProvider {
	return staticProvider{t: t}
}

// Orchestrator dispatches chunks to a transcriber, retries failures and merges
// the results in chunk order. It holds no per-job state; Run may be called
// concurrently for different jobs.
type Orchestrator struct {
	cfg      Config
	provider TranscriberProvider
	engine   *dedup.Engine
	resolver *overlap.Resolver
	cache    *cache.ChunkCache
	logger   *slog.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithCache enables the chunk transcription cache.
func WithCache(c *cache.ChunkCache) Option {
	return func(o *Orchestrator) { o.cache = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// New creates an Orchestrator.
func New(cfg Config, provider TranscriberProvider, engine *dedup.Engine, opts ...Option) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if provider == nil || engine == nil {
		return nil, errors.New("orchestrator: transcriber provider and dedup engine are required")
	}
	o := &Orchestrator{
		cfg:      cfg,
		provider: provider,
		engine:   engine,
		resolver: overlap.NewResolver(cfg.Overlap),
		sleep:    sleepContext,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = logger.OrDefault(o.logger).With("component", "orchestrator")
	return o, nil
}

// Config returns the parameters in use.
func (o *Orchestrator) Config() Config {
	return o.cfg
}

// Engine returns the dedup engine used for merging.
func (o *Orchestrator) Engine() *dedup.Engine {
	return o.engine
}

// Run transcribes chunks and returns the merged, finalized transcript.
func (o *Orchestrator) Run(ctx context.Context, chunks []segmenter.AudioChunk) (*JobResult, error) {
	return o.RunWithProgress(ctx, chunks, nil)
}

// RunWithProgress is Run with a callback invoked after every finished chunk
// and on phase changes. The callback runs under the job lock and must not
// block.
//
// A fatal provider error (AUTH_INVALID, QUOTA_EXHAUSTED) stops dispatching;
// the partial result is returned with the error. Cancelling ctx stops
// dispatching too; in-flight calls keep running for up to DrainTimeout and
// the result is returned in state cancelled with a JOB_CANCELLED error.
func (o *Orchestrator) RunWithProgress(ctx context.Context, chunks []segmenter.AudioChunk, onProgress func(ProgressState)) (*JobResult, error) {
	started := time.Now()
	j := newJob(o, chunks, onProgress)
	j.setPhase(StateTranscribing)

	drainCtx, stopDrain := drainContext(ctx, o.cfg.DrainTimeout)
	defer stopDrain()

	var runErr error
	if o.cfg.MaxParallel <= 1 {
		runErr = o.runSequential(ctx, drainCtx, j)
	} else {
		runErr = o.runParallel(ctx, drainCtx, j)
	}

	j.setPhase(StateMerging)
	res := j.finish()
	res.DurationMs = time.Since(started).Milliseconds()

	switch {
	case runErr != nil:
		res.State = StateFailed
	case ctx.Err() != nil:
		res.State = StateCancelled
		runErr = orcherr.NewCancelledError(context.Cause(ctx))
	default:
		res.State = StateCompleted
	}
	j.setPhase(res.State)

	o.logger.Info("job finished",
		"state", res.State,
		"chunks", res.TotalChunks,
		"dispatched", len(res.Results),
		"failed", res.FailedChunks,
		"rejected", res.RejectedChunks,
		"cached", res.CachedChunks,
		"silent", res.SilentChunks,
		"duration_ms", res.DurationMs)
	return res, runErr
}

func (o *Orchestrator) runSequential(ctx, drainCtx context.Context, j *job) error {
	for pos, chunk := range j.chunks {
		if pos > 0 && o.cfg.DispatchDelay > 0 {
			if o.sleep(ctx, o.cfg.DispatchDelay) != nil {
				return nil
			}
		}
		if ctx.Err() != nil {
			return nil
		}
		prompt := whisper.BuildPrompt(chunk.Index, j.contextTail(), o.cfg.Prompt)
		res, err := o.transcribeChunk(ctx, drainCtx, chunk, prompt)
		j.complete(pos, res)
		if err != nil {
			return err
		}
	}
	return nil
}

// runParallel caps in-flight calls with a semaphore and dispatches in index
// order. Prompts carry only the domain context, so output does not depend on
// completion order.
func (o *Orchestrator) runParallel(ctx, drainCtx context.Context, j *job) error {
	sem := semaphore.NewWeighted(int64(o.cfg.MaxParallel))
	var g errgroup.Group

	for pos, chunk := range j.chunks {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		if j.isFatal() {
			sem.Release(1)
			break
		}

		pos, chunk := pos, chunk
		prompt := whisper.BuildPrompt(chunk.Index, "", o.cfg.Prompt)
		g.Go(func() error {
			defer sem.Release(1)
			res, err := o.transcribeChunk(ctx, drainCtx, chunk, prompt)
			if err != nil {
				j.markFatal()
			}
			j.complete(pos, res)
			return err
		})
	}
	return g.Wait()
}

// transcribeChunk validates, consults the cache and calls the transcriber
// with retries. It always returns a result; the error is non-nil only for a
// fatal failure. jobCtx cancellation stops further attempts, callCtx bounds
// the calls themselves.
func (o *Orchestrator) transcribeChunk(jobCtx, callCtx context.Context, chunk segmenter.AudioChunk, prompt string) (ChunkResult, error) {
	started := time.Now()
	res := ChunkResult{ChunkIndex: chunk.Index}
	logger.LogChunkProcessing(o.logger, "asr", "start", chunk.Index, 0, "")

	metrics.InflightChunks.Inc()
	defer metrics.InflightChunks.Dec()

	v := whisper.ValidateChunk(chunk, o.cfg.Limits)
	for _, w := range v.Warnings {
		o.logger.Warn("chunk validation warning", "chunk_id", chunk.Index, "warning", w)
	}
	if err := v.Err(); err != nil {
		return o.fail(res, chunk, err, 0, started)
	}
	if v.Silent {
		res.Silent = true
		res.DurationMs = time.Since(started).Milliseconds()
		o.logger.Info("silent chunk skipped", "chunk_id", chunk.Index, "mean_amplitude", chunk.MeanAmplitude)
		metrics.RecordChunkStatus("asr", "silent")
		return res, nil
	}

	cacheKey := o.cacheKey(chunk)
	if cacheKey != "" {
		if entry, ok := o.cache.Get(cacheKey); ok {
			res.Text, res.Segments, res.Transcriber, res.Cached = entry.Text, entry.Segments, entry.Transcriber, true
			res.DurationMs = time.Since(started).Milliseconds()
			logger.LogChunkProcessing(o.logger, "asr", "cached", chunk.Index, res.DurationMs, "")
			metrics.RecordChunkStatus("asr", "cached")
			return res, nil
		}
	}

	var lastErr error
	attempts := 0
	for attempt := 0; attempt < o.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			if jobCtx.Err() != nil {
				lastErr = orcherr.NewCancelledError(lastErr)
				break
			}
			delay := o.retryDelay(attempt, lastErr)
			metrics.RecordRetry()
			logger.LogChunkProcessing(o.logger, "asr", "retry", chunk.Index, delay.Milliseconds(), string(orcherr.CodeOf(lastErr)))
			if o.sleep(jobCtx, delay) != nil {
				lastErr = orcherr.NewCancelledError(lastErr)
				break
			}
		}

		t := o.provider.GetTranscriber()
		res.Transcriber = t.Name()
		attempts = attempt + 1

		out, err := t.Transcribe(callCtx, chunk.Path, o.options(attempt, prompt))
		if err == nil {
			res.Text = strings.TrimSpace(out.Text)
			res.Segments = out.Segments
			res.RetryCount = attempt
			res.DurationMs = time.Since(started).Milliseconds()
			logger.LogChunkProcessing(o.logger, "asr", "success", chunk.Index, res.DurationMs, "")
			metrics.RecordChunkProcessed("asr", true)
			metrics.RecordDuration("asr", time.Since(started).Seconds())
			if cacheKey != "" && res.Text != "" && !o.provider.IsDegraded() {
				if perr := o.cache.Put(cacheKey, cache.Entry{
					Text: res.Text, Segments: res.Segments, Language: out.Language, Transcriber: res.Transcriber,
				}); perr != nil {
					o.logger.Warn("cache store failed", "chunk_id", chunk.Index, "error", perr)
				}
			}
			return res, nil
		}

		lastErr = err
		code := orcherr.CodeOf(err)
		metrics.RecordError("asr", errorLabel(code))
		o.logger.Warn("transcription attempt failed",
			"chunk_id", chunk.Index, "attempt", attempt+1, "transcriber", res.Transcriber, "error", err)

		if callCtx.Err() != nil {
			lastErr = orcherr.NewCancelledError(err)
			break
		}
		if !orcherr.IsRetryable(err) {
			break
		}
	}
	return o.fail(res, chunk, lastErr, max(attempts-1, 0), started)
}

// fail turns res into a failure marker. Fatal errors are returned tagged
// with the chunk index.
func (o *Orchestrator) fail(res ChunkResult, chunk segmenter.AudioChunk, err error, retries int, started time.Time) (ChunkResult, error) {
	code := orcherr.CodeOf(err)
	res.RetryCount = retries
	res.Error = err.Error()
	res.ErrorCode = code
	res.Text = dedup.FailureMarker(chunk.Index, failureReason(err, retries+1))
	res.DurationMs = time.Since(started).Milliseconds()

	logger.LogChunkProcessing(o.logger, "asr", "error", chunk.Index, res.DurationMs, errorLabel(code))
	metrics.RecordChunkProcessed("asr", false)

	if orcherr.IsFatal(err) {
		var oe *orcherr.OrchError
		errors.As(err, &oe)
		return res, oe.WithChunk(chunk.Index)
	}
	return res, nil
}

func (o *Orchestrator) options(attempt int, prompt string) *whisper.TranscribeOptions {
	opts := &whisper.TranscribeOptions{
		Model:       o.cfg.Model,
		Language:    o.cfg.Language,
		Temperature: min(o.cfg.Temperature+float64(attempt)*o.cfg.TemperatureStep, 1.0),
		Timeout:     o.cfg.CallTimeout,
	}
	if attempt == 0 {
		opts.Prompt = prompt
	}
	return opts
}

// retryDelay is RetryBaseDelay × attempt, doubled after a rate limit.
func (o *Orchestrator) retryDelay(attempt int, lastErr error) time.Duration {
	d := o.cfg.RetryBaseDelay * time.Duration(attempt)
	if orcherr.IsRateLimited(lastErr) {
		d *= 2
	}
	return d
}

func (o *Orchestrator) cacheKey(chunk segmenter.AudioChunk) string {
	if o.cache == nil || o.provider.IsDegraded() {
		return ""
	}
	key, err := cache.KeyFor(chunk, o.cfg.Model, o.cfg.Language)
	if err != nil {
		o.logger.Debug("cache key unavailable", "chunk_id", chunk.Index, "error", err)
		return ""
	}
	return key
}

func failureReason(err error, attempts int) string {
	var oe *orcherr.OrchError
	if errors.As(err, &oe) {
		if attempts > 1 {
			return fmt.Sprintf("%s after %d attempts", oe.Code, attempts)
		}
		return string(oe.Code)
	}
	msg := err.Error()
	if len(msg) > 80 {
		msg = msg[:80]
	}
	return msg
}

func errorLabel(code orcherr.ErrorCode) string {
	if code == "" {
		return "UNKNOWN"
	}
	return string(code)
}

// drainContext returns a context that ignores ctx's cancellation for up to
// timeout after it happens.
func drainContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	dctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(ctx, func() {
		time.AfterFunc(timeout, cancel)
	})
	return dctx, func() {
		stop()
		cancel()
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
