package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/houzhh15/meetscribe/cmd/server/internal/metrics"
	"github.com/houzhh15/meetscribe/cmd/server/internal/segmenter"
	"github.com/houzhh15/meetscribe/pkg/logger"
)

// Pipeline runs a recording end to end: segment, transcribe, merge, finalize.
type Pipeline struct {
	seg  *segmenter.Segmenter
	orch *Orchestrator
}

// NewPipeline ties a segmenter to an orchestrator.
func NewPipeline(seg *segmenter.Segmenter, orch *Orchestrator) *Pipeline {
	return &Pipeline{seg: seg, orch: orch}
}

// Orchestrator returns the orchestrator the pipeline dispatches to.
func (p *Pipeline) Orchestrator() *Orchestrator {
	return p.orch
}

// Process segments src into workDir and runs the chunks. The returned result
// is nil only when segmentation itself failed.
func (p *Pipeline) Process(ctx context.Context, src segmenter.Source, workDir string, onProgress func(ProgressState)) (*JobResult, error) {
	if onProgress != nil {
		onProgress(ProgressState{Phase: StateSplitting, CurrentChunk: -1, UpdatedAt: time.Now()})
	}

	started := time.Now()
	chunks, err := p.seg.Segment(ctx, src, workDir)
	elapsed := time.Since(started)
	if err != nil {
		logger.LogChunkProcessing(p.orch.logger, "segment", "error", -1, elapsed.Milliseconds(), "SEGMENT_FAILED")
		metrics.RecordChunkProcessed("segment", false)
		return nil, fmt.Errorf("segment %q: %w", src.Name, err)
	}
	logger.LogChunkProcessing(p.orch.logger, "segment", "success", len(chunks), elapsed.Milliseconds(), "")
	metrics.RecordChunkProcessed("segment", true)
	metrics.RecordDuration("segment", elapsed.Seconds())

	return p.orch.RunWithProgress(ctx, chunks, onProgress)
}

// WriteReport writes res as indented JSON next to the transcript outputs.
func WriteReport(path string, res *JobResult) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
