package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/houzhh15/meetscribe/cmd/server/internal/summary"
)

func newSummarizeCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "summarize <transcript-file>",
		Short: "根据转写文本生成结构化会议纪要",
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

			opts := summary.Options{}
			opts.Model, _ = cmd.Flags().GetString("summary-model")
			opts.Language, _ = cmd.Flags().GetString("summary-language")
			opts.MaxTokens, _ = cmd.Flags().GetInt("max-tokens")
			if cmd.Flags().Changed("temperature") {
				t, _ := cmd.Flags().GetFloat32("temperature")
				opts.Temperature = &t
			}

			s, err := summary.New(cfg.Summary, nil, l)
			if err != nil {
				return err
			}
			minutes, err := s.Summarize(cmd.Context(), string(raw), opts)
			if err != nil {
				return err
			}
			if minutes.Fallback {
				l.Warn("model reply was not valid minutes, printed a local fallback")
			}

			if outputFormat(cmd) == "json" {
				return printJSON(cmd.OutOrStdout(), minutes)
			}
			return writeText(cmd.OutOrStdout(), "", renderMinutes(minutes))
		},
	}
	c.Flags().String("summary-model", "", "摘要模型 (覆盖配置)")
	c.Flags().String("summary-language", "", "纪要语言，空为跟随转写文本")
	c.Flags().Float32("temperature", 0, "采样温度")
	c.Flags().Int("max-tokens", 0, "最大输出 token 数")
	return c
}

// renderMinutes formats minutes as Markdown.
func renderMinutes(s *summary.Summary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n", s.Title)
	if s.Context != "" {
		fmt.Fprintf(&b, "\n%s\n", s.Context)
	}
	if len(s.Participants) > 0 {
		fmt.Fprintf(&b, "\n**Participants:** %s\n", strings.Join(s.Participants, ", "))
	}
	for _, t := range s.Topics {
		fmt.Fprintf(&b, "\n## %s\n", t.Subtitle)
		for _, p := range t.Points {
			fmt.Fprintf(&b, "- %s\n", p)
		}
	}
	if len(s.ActionItems) > 0 {
		b.WriteString("\n## Action items\n")
		for _, a := range s.ActionItems {
			box := " "
			if a.Done {
				box = "x"
			}
			fmt.Fprintf(&b, "- [%s] %s (%s, due %s)\n", box, a.Description, a.Owner, a.Due)
		}
	}
	list := func(title string, items []string) {
		if len(items) == 0 {
			return
		}
		fmt.Fprintf(&b, "\n## %s\n", title)
		for _, it := range items {
			fmt.Fprintf(&b, "- %s\n", it)
		}
	}
	list("Decisions", s.Decisions)
	list("Next steps", s.NextSteps)
	return strings.TrimRight(b.String(), "\n")
}
