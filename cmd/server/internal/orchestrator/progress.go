package orchestrator

import "time"

// etaAlpha is the smoothing factor of the per-chunk time average.
const etaAlpha = 0.3

// ProgressState is a snapshot of a running job. Observational only.
type ProgressState struct {
	Phase                  State     `json:"phase"`
	CurrentChunk           int       `json:"current_chunk"` // index of the last finished chunk, -1 before any
	CompletedChunks        int       `json:"completed_chunks"`
	TotalChunks            int       `json:"total_chunks"`
	FailedChunks           int       `json:"failed_chunks"`
	RejectedChunks         int       `json:"rejected_chunks"`
	EstimatedTimeRemaining float64   `json:"estimated_time_remaining"` // seconds
	Degraded               bool      `json:"degraded"`
	UpdatedAt              time.Time `json:"updated_at"`
}

// Percent returns the completed share in [0,100].
func (p ProgressState) Percent() float64 {
	if p.TotalChunks == 0 {
		return 0
	}
	return 100 * float64(p.CompletedChunks) / float64(p.TotalChunks)
}

// progressTracker keeps the ETA estimate. It is not synchronized; the job
// lock guards it.
type progressTracker struct {
	state       ProgressState
	parallelism int
	avgSeconds  float64 // smoothed wall time between finished chunks
	last        time.Time
	onUpdate    func(ProgressState)
	now         func() time.Time
}

func newProgressTracker(total, parallelism int, onUpdate func(ProgressState)) *progressTracker {
	now := time.Now
	return &progressTracker{
		state: ProgressState{
			Phase:        StatePending,
			CurrentChunk: -1,
			TotalChunks:  total,
			UpdatedAt:    now(),
		},
		parallelism: max(parallelism, 1),
		last:        now(),
		onUpdate:    onUpdate,
		now:         now,
	}
}

func (p *progressTracker) setPhase(s State, degraded bool) {
	p.state.Phase = s
	p.state.Degraded = p.state.Degraded || degraded
	if s.Terminal() {
		p.state.EstimatedTimeRemaining = 0
	}
	p.publish()
}

// chunkDone records one finished chunk. Each chunk's time is the wall time
// since the previous one finished multiplied by the parallelism, so the
// average approximates the time a single call takes.
func (p *progressTracker) chunkDone(res ChunkResult, rejected int, degraded bool) {
	now := p.now()
	sample := now.Sub(p.last).Seconds() * float64(p.effectiveParallelism())
	p.last = now
	if p.state.CompletedChunks == 0 {
		p.avgSeconds = sample
	} else {
		p.avgSeconds = etaAlpha*sample + (1-etaAlpha)*p.avgSeconds
	}

	p.state.CompletedChunks++
	p.state.CurrentChunk = res.ChunkIndex
	if res.Failed() {
		p.state.FailedChunks++
	}
	p.state.RejectedChunks = rejected
	p.state.Degraded = p.state.Degraded || degraded

	remaining := p.state.TotalChunks - p.state.CompletedChunks
	p.state.EstimatedTimeRemaining = 0
	if remaining > 0 {
		p.state.EstimatedTimeRemaining = float64(remaining) * p.avgSeconds / float64(min(p.parallelism, remaining))
	}
	p.publish()
}

// effectiveParallelism is the number of calls that were running while the
// last chunk finished.
func (p *progressTracker) effectiveParallelism() int {
	remaining := p.state.TotalChunks - p.state.CompletedChunks
	return max(1, min(p.parallelism, remaining))
}

func (p *progressTracker) publish() {
	p.state.UpdatedAt = p.now()
	if p.onUpdate != nil {
		p.onUpdate(p.state)
	}
}
