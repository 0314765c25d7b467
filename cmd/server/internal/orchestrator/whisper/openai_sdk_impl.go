package whisper

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/houzhh15/meetscribe/cmd/server/internal/orchestrator/orcherr"
	"github.com/houzhh15/meetscribe/pkg/logger"
	"github.com/houzhh15/meetscribe/pkg/metrics"
)

// OpenAISDKImpl implements WhisperTranscriber with the go-openai client.
type OpenAISDKImpl struct {
	client *openai.Client
	logger *slog.Logger
}

// NewOpenAISDKImpl creates an SDK-backed transcriber. An empty baseURL keeps
// the SDK default; httpClient may be nil.
func NewOpenAISDKImpl(baseURL, apiKey, organization string, httpClient *http.Client, l *slog.Logger) *OpenAISDKImpl {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	cfg.OrgID = organization
	if httpClient != nil {
		cfg.HTTPClient = httpClient
	}
	impl := &OpenAISDKImpl{client: openai.NewClientWithConfig(cfg)}
	impl.logger = logger.OrDefault(l).With("component", "asr", "transcriber", impl.Name())
	return impl
}

// Transcribe calls CreateTranscription with the chunk file.
func (s *OpenAISDKImpl) Transcribe(ctx context.Context, audioPath string, options *TranscribeOptions) (*TranscriptionResult, error) {
	ctx, cancel := options.withTimeout(ctx)
	defer cancel()

	req := openai.AudioRequest{
		Model:       options.model(),
		FilePath:    audioPath,
		Temperature: float32(options.temperature()),
		Format:      openai.AudioResponseFormat(options.responseFormat()),
	}
	if options != nil {
		req.Prompt = options.Prompt
		req.Language = options.Language
	}

	started := time.Now()
	resp, err := s.client.CreateTranscription(ctx, req)
	metrics.RecordProviderDuration(s.Name(), "transcribe", time.Since(started).Seconds())
	if err != nil {
		mapped := classifySDKError(err, fileSize(audioPath))
		metrics.RecordProviderCall(s.Name(), "transcribe", string(orcherr.CodeOf(mapped)))
		s.logger.Warn("transcription request failed", "file", audioPath, "error", mapped)
		return nil, mapped
	}
	metrics.RecordProviderCall(s.Name(), "transcribe", "ok")

	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return nil, orcherr.NewEmptyTranscriptionError()
	}

	segments := make([]TranscriptionSegment, 0, len(resp.Segments))
	for _, seg := range resp.Segments {
		segments = append(segments, TranscriptionSegment{
			ID:    seg.ID,
			Start: seg.Start,
			End:   seg.End,
			Text:  seg.Text,
		})
	}
	return &TranscriptionResult{
		Segments: segments,
		Text:     text,
		Language: resp.Language,
		Duration: resp.Duration,
	}, nil
}

// HealthCheck lists models through the SDK.
func (s *OpenAISDKImpl) HealthCheck(ctx context.Context) (bool, error) {
	if _, err := s.client.ListModels(ctx); err != nil {
		metrics.RecordProviderCall(s.Name(), "health", "error")
		return false, classifySDKError(err, 0)
	}
	metrics.RecordProviderCall(s.Name(), "health", "ok")
	return true, nil
}

// Name returns "openai-sdk".
func (s *OpenAISDKImpl) Name() string {
	return "openai-sdk"
}

// classifySDKError maps go-openai errors onto the same codes as classifyStatus.
func classifySDKError(err error, sizeBytes int64) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		body := apiErr.Message
		if code, ok := apiErr.Code.(string); ok && code == "insufficient_quota" {
			body = `{"error":{"code":"insufficient_quota","message":` + strconv.Quote(apiErr.Message) + `}}`
		} else if apiErr.Type == "insufficient_quota" {
			body = "insufficient_quota: " + apiErr.Message
		}
		e := classifyStatus(apiErr.HTTPStatusCode, []byte(body), sizeBytes)
		e.Cause = err
		return e
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		e := classifyStatus(reqErr.HTTPStatusCode, reqErr.Body, sizeBytes)
		e.Cause = err
		return e
	}

	return orcherr.NewWhisperUnavailableError(err)
}
