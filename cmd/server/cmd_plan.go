package main

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/houzhh15/meetscribe/cmd/server/internal/segmenter"
)

type plannedChunk struct {
	Index      int     `json:"index"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Duration   float64 `json:"duration"`
	SilenceCut bool    `json:"silence_cut"`
}

type chunkPlan struct {
	DurationSeconds float64        `json:"duration_seconds"`
	Expected        int            `json:"expected_chunks"`
	Chunks          []plannedChunk `json:"chunks"`
}

func newPlanCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "plan",
		Short: "打印给定时长或 WAV 文件的切片计划",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			duration, _ := cmd.Flags().GetFloat64("duration")
			file, _ := cmd.Flags().GetString("file")

			segCfg := cfg.Segmenter
			var silences []float64
			var sizeOf segmenter.SizeFunc
			switch {
			case file != "":
				data, err := os.ReadFile(file)
				if err != nil {
					return fmt.Errorf("read audio: %w", err)
				}
				decoded, err := segmenter.DecodeWAV(data)
				if err != nil {
					return fmt.Errorf("plan needs a decodable WAV file: %w", err)
				}
				duration = decoded.Duration
				sizeOf = decoded.SizeOf
				if segCfg.SilenceAware {
					levels, err := decoded.WindowLevels(cmd.Context(), segCfg.WindowSeconds)
					if err != nil {
						return fmt.Errorf("measure levels: %w", err)
					}
					silences = segmenter.DetectSilences(levels, segCfg)
				}
			case duration <= 0:
				return errors.New("either --duration or --file is required")
			}

			bounds, err := segmenter.PlanChunks(duration, segCfg, silences, sizeOf)
			if err != nil {
				return err
			}
			plan := chunkPlan{
				DurationSeconds: duration,
				Expected:        segmenter.ExpectedChunkCount(duration, segCfg.ChunkSeconds, segCfg.OverlapSeconds),
				Chunks:          make([]plannedChunk, 0, len(bounds)),
			}
			for _, b := range bounds {
				plan.Chunks = append(plan.Chunks, plannedChunk{
					Index: b.Index, Start: b.Start, End: b.End, Duration: b.End - b.Start, SilenceCut: b.SilenceCut,
				})
			}

			if outputFormat(cmd) == "json" {
				return printJSON(cmd.OutOrStdout(), plan)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "INDEX\tSTART\tEND\tDURATION\tSILENCE CUT")
			for _, ch := range plan.Chunks {
				fmt.Fprintf(tw, "%d\t%.2f\t%.2f\t%.2f\t%t\n", ch.Index, ch.Start, ch.End, ch.Duration, ch.SilenceCut)
			}
			fmt.Fprintf(tw, "\n%d chunks for %.1fs\n", len(plan.Chunks), duration)
			return tw.Flush()
		},
	}
	c.Flags().Float64("duration", 0, "音频时长 (秒)")
	c.Flags().String("file", "", "WAV 文件，按实际静音点规划")
	return c
}
