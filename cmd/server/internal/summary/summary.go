// Package summary turns a finished transcript into structured meeting minutes
// with a chat completion model.
package summary

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/houzhh15/meetscribe/cmd/server/internal/metrics"
	"github.com/houzhh15/meetscribe/cmd/server/internal/orchestrator/orcherr"
	"github.com/houzhh15/meetscribe/cmd/server/internal/textnorm"
	"github.com/houzhh15/meetscribe/pkg/logger"
	pmetrics "github.com/houzhh15/meetscribe/pkg/metrics"
)

const (
	DefaultModel       = "gpt-3.5-turbo"
	DefaultTemperature = 0.3
	DefaultMaxTokens   = 4000

	NoParticipants = "Participants not identified"
	DefaultOwner   = "TBD"
	DefaultDue     = "Not set"

	providerName = "openai-chat"
)

// Config holds the chat client settings.
type Config struct {
	BaseURL      string  `yaml:"base_url" json:"base_url,omitempty"`
	APIKey       string  `yaml:"api_key" json:"-"`
	Organization string  `yaml:"organization" json:"organization,omitempty"`
	Model        string  `yaml:"model" json:"model"`
	Temperature  float32 `yaml:"temperature" json:"temperature"`
	MaxTokens    int     `yaml:"max_tokens" json:"max_tokens"`
}

// DefaultConfig returns the summarization defaults.
func DefaultConfig() Config {
	return Config{
		Model:       DefaultModel,
		Temperature: DefaultTemperature,
		MaxTokens:   DefaultMaxTokens,
	}
}

// Options override the configured model settings for one call. Zero values
// keep the configuration.
type Options struct {
	Model       string
	Temperature *float32
	MaxTokens   int
	// Language the minutes are written in. Empty follows the transcript.
	Language string
}

// Topic is one discussed subject.
type Topic struct {
	Subtitle string   `json:"subtitle"`
	Points   []string `json:"points"`
}

// ActionItem is a task agreed in the meeting.
type ActionItem struct {
	Description string `json:"description"`
	Owner       string `json:"owner"`
	Due         string `json:"due"`
	Done        bool   `json:"done"`
}

// Summary is the structured result.
type Summary struct {
	Title        string       `json:"meeting_title"`
	Context      string       `json:"context_and_objective"`
	Participants []string     `json:"participants"`
	Topics       []Topic      `json:"main_points"`
	ActionItems  []ActionItem `json:"action_items"`
	Decisions    []string     `json:"decisions"`
	NextSteps    []string     `json:"next_steps"`

	// Raw is the model reply as received.
	Raw string `json:"raw,omitempty"`
	// Fallback is set when the reply could not be used and the summary was
	// built locally from the transcript.
	Fallback   bool   `json:"fallback"`
	Model      string `json:"model,omitempty"`
	TokensUsed int    `json:"tokens_used,omitempty"`
}

// Summarizer calls the chat completion API.
type Summarizer struct {
	client *openai.Client
	cfg    Config
	logger *slog.Logger
}

// New creates a Summarizer. httpClient may be nil.
func New(cfg Config, httpClient *http.Client, l *slog.Logger) (*Summarizer, error) {
	cloud := cfg.BaseURL == "" || strings.TrimRight(cfg.BaseURL, "/") == strings.TrimRight(openai.DefaultConfig("").BaseURL, "/")
	if cfg.APIKey == "" && cloud {
		return nil, errors.New("summary: api key is required for the OpenAI cloud endpoint")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	oc.OrgID = cfg.Organization
	if httpClient != nil {
		oc.HTTPClient = httpClient
	}
	return &Summarizer{
		client: openai.NewClientWithConfig(oc),
		cfg:    cfg,
		logger: logger.OrDefault(l).With("component", "summary"),
	}, nil
}

// Summarize generates the minutes for transcript. A reply that is not the
// expected JSON yields LocalFallback with Raw set to the reply.
func (s *Summarizer) Summarize(ctx context.Context, transcript string, opts Options) (*Summary, error) {
	if strings.TrimSpace(transcript) == "" {
		return nil, errors.New("summary: transcript is empty")
	}

	req := s.request(transcript, opts)
	started := time.Now()
	resp, err := s.client.CreateChatCompletion(ctx, req)
	elapsed := time.Since(started)
	pmetrics.RecordProviderDuration(providerName, "summarize", elapsed.Seconds())
	if err != nil {
		mapped := classify(err)
		code := string(orcherr.CodeOf(mapped))
		if code == "" {
			code = "SUMMARY_FAILED"
		}
		pmetrics.RecordProviderCall(providerName, "summarize", code)
		metrics.RecordError("summary", code)
		logger.LogChunkProcessing(s.logger, "summary", "error", orcherr.NoChunk, elapsed.Milliseconds(), code)
		return nil, mapped
	}
	pmetrics.RecordProviderCall(providerName, "summarize", "ok")
	metrics.RecordDuration("summary", elapsed.Seconds())

	if len(resp.Choices) == 0 {
		return nil, errors.New("summary: model returned no choices")
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return nil, errors.New("summary: model returned an empty summary")
	}

	sum, perr := Parse(content)
	if perr != nil {
		s.logger.Warn("summary reply unusable, building local fallback", "error", perr)
		metrics.RecordChunkProcessed("summary", false)
		sum = LocalFallback(transcript)
		sum.Raw = content
	} else {
		metrics.RecordChunkProcessed("summary", true)
	}
	sum.Model = req.Model
	sum.TokensUsed = resp.Usage.TotalTokens
	logger.LogChunkProcessing(s.logger, "summary", "success", orcherr.NoChunk, elapsed.Milliseconds(), "")
	return sum, nil
}

func (s *Summarizer) request(transcript string, opts Options) openai.ChatCompletionRequest {
	model := s.cfg.Model
	if opts.Model != "" {
		model = opts.Model
	}
	temperature := s.cfg.Temperature
	if opts.Temperature != nil {
		temperature = *opts.Temperature
	}
	maxTokens := s.cfg.MaxTokens
	if opts.MaxTokens > 0 {
		maxTokens = opts.MaxTokens
	}
	return openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: buildPrompt(transcript, opts.Language)},
		},
		Temperature: temperature,
		MaxTokens:   maxTokens,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}
}

// ListChatModels returns the chat-capable model IDs the endpoint offers.
func (s *Summarizer) ListChatModels(ctx context.Context) ([]string, error) {
	list, err := s.client.ListModels(ctx)
	if err != nil {
		pmetrics.RecordProviderCall(providerName, "models", "error")
		return nil, classify(err)
	}
	pmetrics.RecordProviderCall(providerName, "models", "ok")

	var ids []string
	for _, m := range list.Models {
		if strings.Contains(m.ID, "gpt-") && !strings.Contains(m.ID, "instruct") {
			ids = append(ids, m.ID)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

// Parse decodes a model reply. It fails when the reply is not a JSON object
// or lacks the title or the main points.
func Parse(content string) (*Summary, error) {
	content = stripFence(content)
	var sum Summary
	if err := json.Unmarshal([]byte(content), &sum); err != nil {
		return nil, fmt.Errorf("decode summary: %w", err)
	}
	if strings.TrimSpace(sum.Title) == "" {
		return nil, errors.New("summary has no meeting_title")
	}
	if len(sum.Topics) == 0 {
		return nil, errors.New("summary has no main_points")
	}
	sum.normalize()
	return &sum, nil
}

func (s *Summary) normalize() {
	s.Title = strings.TrimSpace(s.Title)
	if len(s.Participants) == 0 {
		s.Participants = []string{NoParticipants}
	}
	for i := range s.ActionItems {
		if strings.TrimSpace(s.ActionItems[i].Owner) == "" {
			s.ActionItems[i].Owner = DefaultOwner
		}
		if strings.TrimSpace(s.ActionItems[i].Due) == "" {
			s.ActionItems[i].Due = DefaultDue
		}
	}
	if s.ActionItems == nil {
		s.ActionItems = []ActionItem{}
	}
	if s.Decisions == nil {
		s.Decisions = []string{}
	}
	if s.NextSteps == nil {
		s.NextSteps = []string{}
	}
}

// stripFence removes a ```json fence some models wrap around the object.
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

const (
	fallbackContextSentences = 2
	fallbackPoints           = 5
)

// LocalFallback builds the minimal structure from the transcript itself.
func LocalFallback(transcript string) *Summary {
	var sentences []string
	for _, p := range textnorm.Paragraphs(transcript) {
		sentences = append(sentences, textnorm.Sentences(p)...)
	}

	sum := &Summary{
		Title:        "Meeting summary",
		Participants: []string{NoParticipants},
		ActionItems:  []ActionItem{},
		Decisions:    []string{},
		NextSteps:    []string{},
		Fallback:     true,
	}
	sum.Context = strings.Join(sentences[:min(fallbackContextSentences, len(sentences))], " ")
	points := sentences[:min(fallbackPoints, len(sentences))]
	sum.Topics = []Topic{{Subtitle: "Transcript highlights", Points: append([]string{}, points...)}}
	return sum
}

// classify maps chat API failures onto the error taxonomy.
//
//	context_length_exceeded -> TRANSCRIPT_TOO_LONG
//	401                     -> AUTH_INVALID
//	insufficient_quota      -> QUOTA_EXHAUSTED
//	429                     -> RATE_LIMITED
func classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		code, _ := apiErr.Code.(string)
		var e *orcherr.OrchError
		switch {
		case code == "context_length_exceeded":
			e = orcherr.NewTranscriptTooLongError(err)
		case apiErr.HTTPStatusCode == http.StatusUnauthorized:
			e = orcherr.NewAuthError(apiErr.Message)
		case code == "insufficient_quota" || apiErr.Type == "insufficient_quota":
			e = orcherr.NewQuotaError(apiErr.Message)
		case apiErr.HTTPStatusCode == http.StatusTooManyRequests:
			e = orcherr.NewRateLimitError(apiErr.Message)
		default:
			return fmt.Errorf("summary request: %w", err)
		}
		e.StatusCode = apiErr.HTTPStatusCode
		if e.Cause == nil {
			e.Cause = err
		}
		return e
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode == http.StatusUnauthorized {
		e := orcherr.NewAuthError(string(reqErr.Body))
		e.StatusCode = reqErr.HTTPStatusCode
		e.Cause = err
		return e
	}
	return fmt.Errorf("summary request: %w", err)
}
