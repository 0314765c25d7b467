package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/houzhh15/meetscribe/cmd/server/internal/dedup"
)

func newCleanCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "clean <transcript-file>",
		Short: "对已有转写文本执行最终去重清理",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, l, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read transcript: %w", err)
			}
			engine, err := dedup.NewEngine(cfg.Dedup, l)
			if err != nil {
				return err
			}
			cleaned := engine.FinalizeCleaning(string(raw))

			if outputFormat(cmd) == "json" {
				return printJSON(cmd.OutOrStdout(), map[string]any{
					"text":         cleaned,
					"input_chars":  len(raw),
					"output_chars": len(cleaned),
				})
			}
			out, _ := cmd.Flags().GetString("out")
			return writeText(cmd.OutOrStdout(), out, cleaned)
		},
	}
	c.Flags().String("out", "", "输出路径 (默认 stdout)")
	return c
}
