// Package health provides health checking for transcription providers.
// It implements periodic probes with configurable intervals and failure thresholds.
package health

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/houzhh15/meetscribe/cmd/server/internal/orchestrator/whisper"
	"github.com/houzhh15/meetscribe/pkg/logger"
)

// checkTimeout bounds a single probe.
const checkTimeout = 10 * time.Second

// ServiceStatus represents the current health state of a transcription provider.
// All fields are safe for JSON serialization and are exposed via the API.
type ServiceStatus struct {
	// Transcriber is the Name() of the monitored implementation
	Transcriber string `json:"transcriber"`

	// IsHealthy indicates whether the provider passed recent health checks
	IsHealthy bool `json:"is_healthy"`

	// LastCheckTime records when the most recent health check was performed
	LastCheckTime time.Time `json:"last_check_time"`

	// ConsecutiveFails counts how many health checks have failed in a row.
	// Reset to 0 when a check succeeds
	ConsecutiveFails int `json:"consecutive_fails"`

	// ErrorMessage contains the last error message, empty if healthy
	ErrorMessage string `json:"error_message"`
}

// HealthChecker performs periodic health checks on a WhisperTranscriber.
// It tracks consecutive failures and flips to unhealthy at failThreshold.
//
// Thread-safety: All public methods are thread-safe via sync.RWMutex.
type HealthChecker struct {
	transcriber   whisper.WhisperTranscriber
	status        *ServiceStatus // protected by mu
	mu            sync.RWMutex
	checkInterval time.Duration
	failThreshold int
	stopChan      chan struct{}
	stopOnce      sync.Once
	logger        *slog.Logger
}

// NewHealthChecker creates a new HealthChecker.
//
// Parameters:
//   - transcriber: The WhisperTranscriber implementation to monitor
//   - checkInterval: Duration between health checks (e.g., 5*time.Minute)
//   - failThreshold: Number of consecutive failures before marking unhealthy (e.g., 3)
//
// The health checker starts in a healthy state (optimistic assumption).
// Call Start() to begin periodic health checks.
func NewHealthChecker(transcriber whisper.WhisperTranscriber, checkInterval time.Duration, failThreshold int) *HealthChecker {
	if failThreshold < 1 {
		failThreshold = 1
	}
	return &HealthChecker{
		transcriber:   transcriber,
		checkInterval: checkInterval,
		failThreshold: failThreshold,
		stopChan:      make(chan struct{}),
		logger:        logger.OrDefault(nil).With("component", "health", "transcriber", transcriber.Name()),
		status: &ServiceStatus{
			Transcriber:   transcriber.Name(),
			IsHealthy:     true, // Start optimistic
			LastCheckTime: time.Now(),
		},
	}
}

// Start performs an immediate check, then checks at regular intervals until
// Stop is called or ctx is cancelled. It blocks; run it in a goroutine.
func (hc *HealthChecker) Start(ctx context.Context) {
	ticker := time.NewTicker(hc.checkInterval)
	defer ticker.Stop()

	hc.CheckNow(ctx)

	for {
		select {
		case <-ticker.C:
			hc.CheckNow(ctx)
		case <-hc.stopChan:
			hc.logger.Info("health checker stopped")
			return
		case <-ctx.Done():
			hc.logger.Info("health checker context cancelled")
			return
		}
	}
}

// CheckNow runs a single probe, updates the status and returns a copy of it.
func (hc *HealthChecker) CheckNow(ctx context.Context) ServiceStatus {
	checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	isHealthy, err := hc.transcriber.HealthCheck(checkCtx)

	hc.mu.Lock()
	defer hc.mu.Unlock()

	hc.status.LastCheckTime = time.Now()

	if isHealthy {
		if !hc.status.IsHealthy {
			hc.logger.Info("provider recovered", "previous_fails", hc.status.ConsecutiveFails)
		}
		hc.status.IsHealthy = true
		hc.status.ConsecutiveFails = 0
		hc.status.ErrorMessage = ""
		return *hc.status
	}

	hc.status.ConsecutiveFails++
	errMsg := "unknown error"
	if err != nil {
		errMsg = err.Error()
	}
	hc.status.ErrorMessage = fmt.Sprintf("Health check failed: %s", errMsg)

	if hc.status.ConsecutiveFails >= hc.failThreshold {
		if hc.status.IsHealthy {
			hc.logger.Error("provider marked unhealthy", "consecutive_fails", hc.status.ConsecutiveFails, "error", errMsg)
		}
		hc.status.IsHealthy = false
	} else {
		hc.logger.Warn("health check failed",
			"consecutive_fails", hc.status.ConsecutiveFails, "threshold", hc.failThreshold, "error", errMsg)
	}
	return *hc.status
}

// GetStatus returns a copy of the current health status.
func (hc *HealthChecker) GetStatus() ServiceStatus {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	return *hc.status
}

// Stop terminates the checking goroutine. Safe to call multiple times.
func (hc *HealthChecker) Stop() {
	hc.stopOnce.Do(func() { close(hc.stopChan) })
}
