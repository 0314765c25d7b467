package main

import (
	"errors"
	"fmt"
	"os"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"github.com/houzhh15/meetscribe/cmd/server/internal/segmenter"
	"github.com/houzhh15/meetscribe/cmd/server/internal/summary"
)

type costEstimate struct {
	Transcription *summary.TranscriptionEstimate `json:"transcription,omitempty"`
	Summary       *summary.SummaryEstimate       `json:"summary,omitempty"`
	TotalCostUSD  float64                        `json:"total_cost_usd"`
}

func newEstimateCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "estimate",
		Short: "估算转写与摘要费用",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			duration, _ := cmd.Flags().GetFloat64("duration")
			audioFile, _ := cmd.Flags().GetString("audio")
			chars, _ := cmd.Flags().GetInt("chars")
			transcriptFile, _ := cmd.Flags().GetString("transcript")
			model, _ := cmd.Flags().GetString("summary-model")
			if model == "" {
				model = cfg.Summary.Model
			}

			if audioFile != "" {
				data, err := os.ReadFile(audioFile)
				if err != nil {
					return fmt.Errorf("read audio: %w", err)
				}
				duration, _, _, err = segmenter.Probe(data)
				if err != nil {
					return fmt.Errorf("probe audio (use --duration for non-WAV input): %w", err)
				}
			}
			if transcriptFile != "" {
				raw, err := os.ReadFile(transcriptFile)
				if err != nil {
					return fmt.Errorf("read transcript: %w", err)
				}
				chars = utf8.RuneCount(raw)
			}
			if duration <= 0 && chars <= 0 {
				return errors.New("nothing to estimate: pass --duration, --audio, --chars or --transcript")
			}

			var est costEstimate
			if duration > 0 {
				t := summary.EstimateTranscriptionCost(duration)
				est.Transcription = &t
				est.TotalCostUSD += t.CostUSD
			}
			if chars > 0 {
				s := summary.EstimateSummaryCost(chars, model)
				est.Summary = &s
				est.TotalCostUSD += s.TotalCostUSD
			}

			if outputFormat(cmd) == "json" {
				return printJSON(cmd.OutOrStdout(), est)
			}
			w := cmd.OutOrStdout()
			if t := est.Transcription; t != nil {
				fmt.Fprintf(w, "Transcription (%s): %.1f min -> $%.4f\n", t.Model, t.DurationMinutes, t.CostUSD)
			}
			if s := est.Summary; s != nil {
				fmt.Fprintf(w, "Summary (%s): ~%d tokens in, ~%d out -> $%.4f\n", s.Model, s.InputTokens, s.OutputTokens, s.TotalCostUSD)
			}
			fmt.Fprintf(w, "Total: $%.4f\n", est.TotalCostUSD)
			return nil
		},
	}
	c.Flags().Float64("duration", 0, "音频时长 (秒)")
	c.Flags().String("audio", "", "WAV 文件，读取其时长")
	c.Flags().Int("chars", 0, "转写文本字符数")
	c.Flags().String("transcript", "", "转写文本文件，读取其字符数")
	c.Flags().String("summary-model", "", "摘要模型 (默认取配置)")
	return c
}
