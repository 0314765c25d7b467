package main

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/houzhh15/meetscribe/cmd/server/internal/orchestrator"
	"github.com/houzhh15/meetscribe/cmd/server/internal/segmenter"
)

func newTranscribeCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "transcribe <audio-file>",
		Short: "转写音频文件，输出文本和 JSON 报告",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, l, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read audio: %w", err)
			}
			hint, _ := cmd.Flags().GetFloat64("duration-hint")
			out, _ := cmd.Flags().GetString("out")
			reportPath, _ := cmd.Flags().GetString("report")
			keep, _ := cmd.Flags().GetBool("keep-chunks")

			st, err := buildStack(cfg, l)
			if err != nil {
				return err
			}

			if err := os.MkdirAll(cfg.WorkDir, 0o755); err != nil {
				return fmt.Errorf("create work dir: %w", err)
			}
			workDir, err := os.MkdirTemp(cfg.WorkDir, "cli-")
			if err != nil {
				return fmt.Errorf("create chunk dir: %w", err)
			}
			if !keep {
				defer os.RemoveAll(workDir)
			}

			src := segmenter.Source{
				Data:         data,
				Name:         filepath.Base(args[0]),
				MimeType:     mime.TypeByExtension(filepath.Ext(args[0])),
				DurationHint: hint,
			}
			stderr := cmd.ErrOrStderr()
			res, runErr := st.pipeline.Process(cmd.Context(), src, workDir, func(p orchestrator.ProgressState) {
				fmt.Fprintf(stderr, "\r[%s] %d/%d chunks (%.0f%%)", p.Phase, p.CompletedChunks, p.TotalChunks, p.Percent())
			})
			fmt.Fprintln(stderr)
			if res == nil {
				return runErr
			}

			// 部分失败时仍输出已得到的文本
			if err := writeText(cmd.OutOrStdout(), out, res.Transcript); err != nil {
				return fmt.Errorf("write transcript: %w", err)
			}
			if reportPath != "" {
				if err := orchestrator.WriteReport(reportPath, res); err != nil {
					return fmt.Errorf("write report: %w", err)
				}
			}
			l.Info("transcription finished",
				"state", res.State,
				"chunks", res.TotalChunks,
				"failed", res.FailedChunks,
				"rejected", res.RejectedChunks,
				"cached", res.CachedChunks,
				"degraded", res.Degraded,
				"duration_ms", res.DurationMs)
			return runErr
		},
	}
	c.Flags().String("out", "", "转写文本输出路径 (默认 stdout)")
	c.Flags().String("report", "", "JSON 报告输出路径")
	c.Flags().Float64("duration-hint", 0, "无法解码时使用的音频时长 (秒)")
	c.Flags().Bool("keep-chunks", false, "保留切片文件")
	return c
}
