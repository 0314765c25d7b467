package summary

import "math"

// TranscriptionRatePerMinute is the provider price of whisper-1 in USD.
const TranscriptionRatePerMinute = 0.006

// Pricing is a chat model price in USD per 1K tokens.
type Pricing struct {
	Input  float64 `json:"input"`
	Output float64 `json:"output"`
}

var modelPricing = map[string]Pricing{
	"gpt-3.5-turbo": {Input: 0.0010, Output: 0.0020},
	"gpt-4":         {Input: 0.03, Output: 0.06},
	"gpt-4-turbo":   {Input: 0.01, Output: 0.03},
}

// PricingFor returns the price table entry for model, falling back to
// gpt-3.5-turbo for unknown models.
func PricingFor(model string) (Pricing, bool) {
	p, ok := modelPricing[model]
	if !ok {
		return modelPricing[DefaultModel], false
	}
	return p, true
}

// TranscriptionEstimate is the expected transcription cost of a recording.
type TranscriptionEstimate struct {
	Model           string  `json:"model"`
	DurationMinutes float64 `json:"duration_minutes"`
	DurationHours   float64 `json:"duration_hours"`
	CostUSD         float64 `json:"cost_usd"`
}

// EstimateTranscriptionCost prices durationSeconds of audio.
func EstimateTranscriptionCost(durationSeconds float64) TranscriptionEstimate {
	minutes := max(durationSeconds, 0) / 60
	return TranscriptionEstimate{
		Model:           "whisper-1",
		DurationMinutes: minutes,
		DurationHours:   minutes / 60,
		CostUSD:         minutes * TranscriptionRatePerMinute,
	}
}

// SummaryEstimate is the expected cost of one summarization call.
type SummaryEstimate struct {
	Model         string  `json:"model"`
	InputTokens   int     `json:"input_tokens"`
	OutputTokens  int     `json:"output_tokens"`
	TotalTokens   int     `json:"total_tokens"`
	InputCostUSD  float64 `json:"input_cost_usd"`
	OutputCostUSD float64 `json:"output_cost_usd"`
	TotalCostUSD  float64 `json:"total_cost_usd"`
}

// EstimateSummaryCost prices a transcript of textLength characters. Tokens
// are estimated at three characters each and the reply at a fifth of the
// input.
func EstimateSummaryCost(textLength int, model string) SummaryEstimate {
	if model == "" {
		model = DefaultModel
	}
	pricing, _ := PricingFor(model)

	in := int(math.Ceil(float64(max(textLength, 0)) / 3))
	out := int(math.Ceil(float64(in) * 0.2))
	inCost := float64(in) / 1000 * pricing.Input
	outCost := float64(out) / 1000 * pricing.Output
	return SummaryEstimate{
		Model:         model,
		InputTokens:   in,
		OutputTokens:  out,
		TotalTokens:   in + out,
		InputCostUSD:  inCost,
		OutputCostUSD: outCost,
		TotalCostUSD:  inCost + outCost,
	}
}
