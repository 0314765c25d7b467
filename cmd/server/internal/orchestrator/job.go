package orchestrator

import (
	"sync"
	"time"

	"github.com/houzhh15/meetscribe/cmd/server/internal/dedup"
	"github.com/houzhh15/meetscribe/cmd/server/internal/metrics"
	"github.com/houzhh15/meetscribe/cmd/server/internal/overlap"
	"github.com/houzhh15/meetscribe/cmd/server/internal/segmenter"
	"github.com/houzhh15/meetscribe/pkg/logger"
)

// contextParagraphs is how much of the accumulated text the overlap
// resolver and the continuity prompt look at.
const contextParagraphs = 2

// job is the state of one Run: the ordered-merge buffer, the accumulator and
// the progress tracker. Every field is guarded by mu.
type job struct {
	o      *Orchestrator
	chunks []segmenter.AudioChunk

	mu       sync.Mutex
	acc      *dedup.Accumulator
	pending  map[int]ChunkResult // finished but not yet merged, by position
	next     int                 // position of the next chunk to merge
	results  []ChunkResult
	prev     *overlap.PreviousChunk
	fatal    bool
	degraded bool
	rejected int
	progress *progressTracker
}

func newJob(o *Orchestrator, chunks []segmenter.AudioChunk, onProgress func(ProgressState)) *job {
	return &job{
		o:        o,
		chunks:   chunks,
		acc:      dedup.NewAccumulator(),
		pending:  make(map[int]ChunkResult),
		results:  make([]ChunkResult, 0, len(chunks)),
		progress: newProgressTracker(len(chunks), o.cfg.MaxParallel, onProgress),
	}
}

func (j *job) setPhase(s State) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.progress.setPhase(s, j.o.provider.IsDegraded())
}

func (j *job) markFatal() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.fatal = true
}

func (j *job) isFatal() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.fatal
}

// contextTail returns the end of the transcript merged so far.
func (j *job) contextTail() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.acc.Tail(contextParagraphs)
}

// complete buffers a finished chunk and merges every buffered chunk whose
// predecessors are all merged. Dispatch is in position order and every
// dispatched chunk completes, so the buffer never waits on a gap forever.
func (j *job) complete(pos int, res ChunkResult) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.o.provider.IsDegraded() {
		j.degraded = true
	}
	j.pending[pos] = res
	for {
		r, ok := j.pending[j.next]
		if !ok {
			break
		}
		delete(j.pending, j.next)
		j.results = append(j.results, j.merge(j.next, r))
		j.next++
	}
	j.progress.chunkDone(res, j.rejected, j.degraded)
}

// merge runs the overlap resolver and then the dedup engine for one chunk.
// Caller holds mu.
func (j *job) merge(pos int, r ChunkResult) ChunkResult {
	if r.Failed() {
		j.o.engine.MergeAndClean(j.acc, r.Text)
		j.prev = nil
		return r
	}
	if r.Text == "" {
		if r.Silent {
			j.prev = nil
		}
		return r
	}

	chunk := j.chunks[pos]
	shared := 0.0
	if pos > 0 {
		shared = max(0, j.chunks[pos-1].EndTime-chunk.StartTime)
	}
	resolved := j.o.resolver.Resolve(r.Text, r.Segments, j.prev, j.acc.Tail(contextParagraphs), shared)
	r.OverlapMethod = resolved.Method
	r.DroppedWords = resolved.DroppedWords
	if resolved.Method != overlap.MethodNone {
		logger.LogChunkProcessing(j.o.logger, "overlap", "success", r.ChunkIndex, 0, "")
	}

	out := j.o.engine.MergeAndClean(j.acc, resolved.Text)
	if out.Rejected {
		r.Rejected = true
		j.rejected++
		metrics.RecordRejected()
		metrics.RecordChunkStatus("merge", "rejected")
		logger.LogChunkProcessing(j.o.logger, "merge", "rejected", r.ChunkIndex, 0, "")
	} else if out.Accepted {
		metrics.RecordChunkProcessed("merge", true)
	}
	j.prev = &overlap.PreviousChunk{Index: r.ChunkIndex, Text: r.Text}
	return r
}

// finish finalizes the transcript from everything merged so far.
func (j *job) finish() *JobResult {
	j.mu.Lock()
	defer j.mu.Unlock()

	started := time.Now()
	raw := j.acc.Text()
	final := j.o.engine.FinalizeCleaning(raw)
	elapsed := time.Since(started)
	logger.LogChunkProcessing(j.o.logger, "finalize", "success", len(j.results), elapsed.Milliseconds(), "")
	metrics.RecordDuration("finalize", elapsed.Seconds())

	res := &JobResult{
		RawTranscript: raw,
		Transcript:    final,
		Results:       j.results,
		TotalChunks:   len(j.chunks),
		Degraded:      j.degraded,
	}
	for _, r := range j.results {
		switch {
		case r.Failed():
			res.FailedChunks++
		case r.Rejected:
			res.RejectedChunks++
		}
		if r.Cached {
			res.CachedChunks++
		}
		if r.Silent {
			res.SilentChunks++
		}
	}
	return res
}
