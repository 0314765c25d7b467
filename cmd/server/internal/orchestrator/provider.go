package orchestrator

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/houzhh15/meetscribe/cmd/server/internal/orchestrator/degradation"
	"github.com/houzhh15/meetscribe/cmd/server/internal/orchestrator/health"
	"github.com/houzhh15/meetscribe/cmd/server/internal/orchestrator/whisper"
	"github.com/houzhh15/meetscribe/pkg/logger"
)

// ProviderConfig selects and wires the transcription provider.
type ProviderConfig struct {
	BaseURL      string `yaml:"base_url" json:"base_url"`
	APIKey       string `yaml:"api_key" json:"-"`
	Organization string `yaml:"organization" json:"organization,omitempty"`
	// SDK selects OpenAISDKImpl instead of the plain multipart client.
	SDK bool `yaml:"sdk" json:"sdk"`

	// Whisper degradation and health check configuration
	EnableDegradation        bool          `yaml:"enable_degradation" json:"enable_degradation"`
	HealthCheckInterval      time.Duration `yaml:"health_check_interval" json:"health_check_interval"`
	HealthCheckFailThreshold int           `yaml:"health_check_fail_threshold" json:"health_check_fail_threshold"`
}

// DefaultProviderConfig targets the OpenAI cloud API with degradation on.
func DefaultProviderConfig() ProviderConfig {
	return ProviderConfig{
		BaseURL:                  whisper.DefaultBaseURL,
		EnableDegradation:        true,
		HealthCheckInterval:      5 * time.Minute,
		HealthCheckFailThreshold: 3,
	}
}

// Provider is the wired transcription stack: the primary implementation and,
// when degradation is enabled, the controller that swaps in the fallback.
type Provider struct {
	TranscriberProvider
	Primary    whisper.WhisperTranscriber
	Controller *degradation.DegradationController // nil when degradation is disabled
}

// HealthChecker returns the checker driving degradation, nil when disabled.
func (p *Provider) HealthChecker() *health.HealthChecker {
	if p.Controller == nil {
		return nil
	}
	return p.Controller.HealthChecker()
}

// NewProvider builds the primary transcriber and, if enabled, the health
// checker and degradation controller around it. The caller starts the
// health checker.
func NewProvider(cfg ProviderConfig, httpClient *http.Client, l *slog.Logger) (*Provider, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = whisper.DefaultBaseURL
	}
	if cfg.APIKey == "" && cfg.BaseURL == whisper.DefaultBaseURL {
		return nil, errors.New("provider: api key is required for the OpenAI cloud endpoint")
	}
	l = logger.OrDefault(l)

	// 1. Create Primary Transcriber
	var primary whisper.WhisperTranscriber
	if cfg.SDK {
		primary = whisper.NewOpenAISDKImpl(cfg.BaseURL, cfg.APIKey, cfg.Organization, httpClient, l)
	} else {
		opts := []whisper.HTTPOption{whisper.WithLogger(l), whisper.WithOrganization(cfg.Organization)}
		if httpClient != nil {
			opts = append(opts, whisper.WithHTTPClient(httpClient))
		}
		primary = whisper.NewOpenAIHTTPImpl(cfg.BaseURL, cfg.APIKey, opts...)
	}
	l.Info("transcription provider configured", "transcriber", primary.Name(), "base_url", cfg.BaseURL)

	if !cfg.EnableDegradation {
		return &Provider{TranscriberProvider: Static(primary), Primary: primary}, nil
	}

	// 2. Create HealthChecker
	checkInterval := cfg.HealthCheckInterval
	if checkInterval <= 0 {
		checkInterval = 5 * time.Minute
	}
	failThreshold := cfg.HealthCheckFailThreshold
	if failThreshold <= 0 {
		failThreshold = 3
	}
	hc := health.NewHealthChecker(primary, checkInterval, failThreshold)

	// 3. Create DegradationController with the mock fallback
	dc := degradation.NewDegradationController(primary, whisper.NewMockTranscriber(), hc)
	return &Provider{TranscriberProvider: dc, Primary: primary, Controller: dc}, nil
}
