// Package degradation switches between a primary transcription provider and
// the degraded fallback based on health status.
package degradation

import (
	"log/slog"
	"sync"

	"github.com/houzhh15/meetscribe/cmd/server/internal/metrics"
	"github.com/houzhh15/meetscribe/cmd/server/internal/orchestrator/health"
	"github.com/houzhh15/meetscribe/cmd/server/internal/orchestrator/whisper"
	"github.com/houzhh15/meetscribe/pkg/logger"
	pkgmetrics "github.com/houzhh15/meetscribe/pkg/metrics"
)

// DegradationController hands out the transcriber jobs should use. While the
// primary (OpenAIHTTPImpl or OpenAISDKImpl) is unhealthy it returns the
// fallback (typically MockTranscriber), and it switches back on recovery.
//
// Thread-safety: All public methods are thread-safe via sync.RWMutex.
type DegradationController struct {
	primaryTranscriber  whisper.WhisperTranscriber
	fallbackTranscriber whisper.WhisperTranscriber
	healthChecker       *health.HealthChecker
	currentTranscriber  whisper.WhisperTranscriber // protected by mu
	mu                  sync.RWMutex
	isDegraded          bool // protected by mu
	logger              *slog.Logger
}

// NewDegradationController creates a controller that starts on the primary.
// All arguments must be non-nil.
func NewDegradationController(
	primary whisper.WhisperTranscriber,
	fallback whisper.WhisperTranscriber,
	hc *health.HealthChecker,
) *DegradationController {
	metrics.SetDegraded(false)
	return &DegradationController{
		primaryTranscriber:  primary,
		fallbackTranscriber: fallback,
		healthChecker:       hc,
		currentTranscriber:  primary,
		logger:              logger.OrDefault(nil).With("component", "degradation"),
	}
}

// GetTranscriber returns the active transcriber, switching to the fallback
// when the health checker reports the primary unhealthy and back when it
// recovers. Each switch is logged and counted.
func (dc *DegradationController) GetTranscriber() whisper.WhisperTranscriber {
	status := dc.healthChecker.GetStatus()

	dc.mu.Lock()
	defer dc.mu.Unlock()

	if !status.IsHealthy && !dc.isDegraded {
		dc.logger.Warn("degrading to fallback transcriber",
			"fallback", dc.fallbackTranscriber.Name(),
			"primary", dc.primaryTranscriber.Name(),
			"reason", status.ErrorMessage)
		dc.currentTranscriber = dc.fallbackTranscriber
		dc.isDegraded = true
		metrics.SetDegraded(true)
		pkgmetrics.RecordDegradationEvent(dc.primaryTranscriber.Name(), dc.fallbackTranscriber.Name())
	}

	if status.IsHealthy && dc.isDegraded {
		dc.logger.Info("recovering to primary transcriber", "primary", dc.primaryTranscriber.Name())
		dc.currentTranscriber = dc.primaryTranscriber
		dc.isDegraded = false
		metrics.SetDegraded(false)
		pkgmetrics.RecordDegradationEvent(dc.fallbackTranscriber.Name(), dc.primaryTranscriber.Name())
	}

	return dc.currentTranscriber
}

// IsDegraded reports whether the fallback is active.
func (dc *DegradationController) IsDegraded() bool {
	dc.mu.RLock()
	defer dc.mu.RUnlock()
	return dc.isDegraded
}

// Primary returns the preferred transcriber regardless of health.
func (dc *DegradationController) Primary() whisper.WhisperTranscriber {
	return dc.primaryTranscriber
}

// HealthChecker returns the checker monitoring the primary.
func (dc *DegradationController) HealthChecker() *health.HealthChecker {
	return dc.healthChecker
}
