package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/houzhh15/meetscribe/cmd/server/internal/orchestrator/orcherr"
	"github.com/houzhh15/meetscribe/pkg/logger"
	"github.com/houzhh15/meetscribe/pkg/metrics"
)

// DefaultBaseURL is the OpenAI API root.
const DefaultBaseURL = "https://api.openai.com/v1"

// maxErrorBody bounds how much of an error response is kept in error messages.
const maxErrorBody = 512

// OpenAIHTTPImpl implements WhisperTranscriber against any OpenAI-compatible
// /audio/transcriptions endpoint (the OpenAI cloud, or a self-hosted whisper
// server exposing the same API) using plain multipart/form-data requests.
type OpenAIHTTPImpl struct {
	baseURL      string
	apiKey       string
	organization string
	httpClient   *http.Client
	logger       *slog.Logger
}

// HTTPOption customizes an OpenAIHTTPImpl.
type HTTPOption func(*OpenAIHTTPImpl)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(o *OpenAIHTTPImpl) { o.httpClient = c }
}

// WithOrganization sets the OpenAI-Organization header.
func WithOrganization(org string) HTTPOption {
	return func(o *OpenAIHTTPImpl) { o.organization = org }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) HTTPOption {
	return func(o *OpenAIHTTPImpl) { o.logger = l }
}

// NewOpenAIHTTPImpl creates a client for baseURL (DefaultBaseURL when empty).
//
// The HTTP client is configured with a 10-minute timeout: a chunk of several
// minutes can take about as long to transcribe on a self-hosted server.
func NewOpenAIHTTPImpl(baseURL, apiKey string, opts ...HTTPOption) *OpenAIHTTPImpl {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	impl := &OpenAIHTTPImpl{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 10 * time.Minute},
	}
	for _, opt := range opts {
		opt(impl)
	}
	impl.logger = logger.OrDefault(impl.logger).With("component", "asr", "transcriber", impl.Name())
	return impl
}

// Transcribe uploads one chunk to POST {baseURL}/audio/transcriptions.
//
// Request fields: file, model, response_format, temperature and the optional
// language and prompt. Non-200 replies are classified into orcherr codes
// (see classifyStatus); an empty transcript is TRANSCRIPTION_EMPTY.
func (o *OpenAIHTTPImpl) Transcribe(ctx context.Context, audioPath string, options *TranscribeOptions) (*TranscriptionResult, error) {
	ctx, cancel := options.withTimeout(ctx)
	defer cancel()

	body, contentType, err := o.buildForm(audioPath, options)
	if err != nil {
		return nil, err
	}

	endpoint := o.baseURL + "/audio/transcriptions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	o.authorize(req)

	started := time.Now()
	o.logger.Debug("sending transcription request",
		"endpoint", endpoint, "file", filepath.Base(audioPath), "model", options.model())

	resp, err := o.httpClient.Do(req)
	metrics.RecordProviderDuration(o.Name(), "transcribe", time.Since(started).Seconds())
	if err != nil {
		metrics.RecordProviderCall(o.Name(), "transcribe", "error")
		return nil, orcherr.NewWhisperUnavailableError(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.RecordProviderCall(o.Name(), "transcribe", "error")
		return nil, orcherr.NewWhisperUnavailableError(fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		metrics.RecordProviderCall(o.Name(), "transcribe", strconv.Itoa(resp.StatusCode))
		o.logger.Warn("transcription request rejected",
			"status", resp.StatusCode, "body", truncate(string(raw), maxErrorBody))
		return nil, classifyStatus(resp.StatusCode, raw, fileSize(audioPath))
	}
	metrics.RecordProviderCall(o.Name(), "transcribe", "ok")

	result, err := parseTranscription(raw, options.responseFormat())
	if err != nil {
		return nil, orcherr.NewOrchError(orcherr.WHISPER_HTTP_ERROR, "failed to parse transcription response", err)
	}
	if strings.TrimSpace(result.Text) == "" {
		return nil, orcherr.NewEmptyTranscriptionError()
	}
	result.Text = strings.TrimSpace(result.Text)
	return result, nil
}

func (o *OpenAIHTTPImpl) buildForm(audioPath string, options *TranscribeOptions) (io.Reader, string, error) {
	file, err := os.Open(audioPath)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open audio file: %w", err)
	}
	defer file.Close()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, "", fmt.Errorf("failed to copy file data: %w", err)
	}

	fields := [][2]string{
		{"model", options.model()},
		{"response_format", options.responseFormat()},
		{"temperature", strconv.FormatFloat(options.temperature(), 'f', -1, 64)},
	}
	if options != nil && options.Language != "" {
		fields = append(fields, [2]string{"language", options.Language})
	}
	if options != nil && options.Prompt != "" {
		fields = append(fields, [2]string{"prompt", options.Prompt})
	}
	for _, f := range fields {
		if err := writer.WriteField(f[0], f[1]); err != nil {
			return nil, "", fmt.Errorf("failed to write %s field: %w", f[0], err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}
	return body, writer.FormDataContentType(), nil
}

func (o *OpenAIHTTPImpl) authorize(req *http.Request) {
	if o.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+o.apiKey)
	}
	if o.organization != "" {
		req.Header.Set("OpenAI-Organization", o.organization)
	}
}

// HealthCheck lists models via GET {baseURL}/models, which also verifies the credential.
func (o *OpenAIHTTPImpl) HealthCheck(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+"/models", nil)
	if err != nil {
		return false, fmt.Errorf("failed to create health check request: %w", err)
	}
	o.authorize(req)

	resp, err := o.httpClient.Do(req)
	if err != nil {
		metrics.RecordProviderCall(o.Name(), "health", "error")
		return false, orcherr.NewWhisperUnavailableError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		metrics.RecordProviderCall(o.Name(), "health", "ok")
		return true, nil
	}
	metrics.RecordProviderCall(o.Name(), "health", strconv.Itoa(resp.StatusCode))
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return false, classifyStatus(resp.StatusCode, raw, 0)
}

// Name returns "openai-http".
func (o *OpenAIHTTPImpl) Name() string {
	return "openai-http"
}

// apiErrorBody is the OpenAI error envelope.
type apiErrorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error"`
}

// classifyStatus maps a non-200 provider reply to an orcherr code.
//
//	401                         -> AUTH_INVALID
//	413                         -> PAYLOAD_TOO_LARGE
//	429 + insufficient_quota    -> QUOTA_EXHAUSTED
//	429                         -> RATE_LIMITED
//	any + insufficient_quota    -> QUOTA_EXHAUSTED
//	other                       -> WHISPER_HTTP_ERROR
func classifyStatus(status int, body []byte, sizeBytes int64) *orcherr.OrchError {
	msg := truncate(strings.TrimSpace(string(body)), maxErrorBody)
	quota := isQuotaBody(body)

	var e *orcherr.OrchError
	switch {
	case status == http.StatusUnauthorized:
		e = orcherr.NewAuthError(msg)
	case status == http.StatusRequestEntityTooLarge:
		e = orcherr.NewPayloadTooLargeError(sizeBytes)
	case quota:
		e = orcherr.NewQuotaError(msg)
	case status == http.StatusTooManyRequests:
		e = orcherr.NewRateLimitError(msg)
	default:
		return orcherr.NewWhisperHTTPError(status, msg)
	}
	e.StatusCode = status
	return e
}

func isQuotaBody(body []byte) bool {
	var env apiErrorBody
	if err := json.Unmarshal(body, &env); err == nil {
		if code, ok := env.Error.Code.(string); ok && code == "insufficient_quota" {
			return true
		}
		if env.Error.Type == "insufficient_quota" {
			return true
		}
	}
	return bytes.Contains(body, []byte("insufficient_quota"))
}

// verboseResponse covers both json and verbose_json reply shapes.
type verboseResponse struct {
	Text     string                 `json:"text"`
	Language string                 `json:"language"`
	Duration float64                `json:"duration"`
	Segments []TranscriptionSegment `json:"segments"`
}

func parseTranscription(raw []byte, format string) (*TranscriptionResult, error) {
	if format == ResponseFormatText {
		return &TranscriptionResult{Text: string(raw), Segments: []TranscriptionSegment{}}, nil
	}
	var v verboseResponse
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	if v.Segments == nil {
		v.Segments = []TranscriptionSegment{}
	}
	return &TranscriptionResult{
		Segments: v.Segments,
		Text:     v.Text,
		Language: v.Language,
		Duration: v.Duration,
	}, nil
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
