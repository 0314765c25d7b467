package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/houzhh15/meetscribe/cmd/server/internal/orchestrator"
	"github.com/houzhh15/meetscribe/cmd/server/internal/orchestrator/whisper"
)

func newEnvCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "env",
		Short: "检查 API Key、转写服务与目录是否就绪",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, l, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			var primary whisper.WhisperTranscriber
			if p, err := orchestrator.NewProvider(cfg.Provider, nil, l); err == nil {
				primary = p.Primary
			}
			status := orchestrator.NewEnvironmentChecker(cfg.Provider, primary, cfg.WorkDir, cacheDir(cfg)).Check(cmd.Context())

			if outputFormat(cmd) == "json" {
				if err := printJSON(cmd.OutOrStdout(), status); err != nil {
					return err
				}
			} else {
				w := cmd.OutOrStdout()
				fmt.Fprintf(w, "API key:  configured=%t %s\n", status.Details.APIKey.Configured, status.Details.APIKey.Masked)
				p := status.Details.Provider
				fmt.Fprintf(w, "Provider: %s reachable=%t %s%s\n", p.URL, p.Reachable, p.Latency, p.Error)
				fmt.Fprintf(w, "Work dir: %s writable=%t\n", status.Details.WorkDir.Path, status.Details.WorkDir.Writable)
				if d := status.Details.CacheDir; d != nil {
					fmt.Fprintf(w, "Cache:    %s writable=%t\n", d.Path, d.Writable)
				}
				for _, issue := range status.Issues {
					fmt.Fprintf(w, "ISSUE:   %s\n", issue)
				}
				for _, warn := range status.Warnings {
					fmt.Fprintf(w, "WARNING: %s\n", warn)
				}
			}
			if !status.Ready {
				return errors.New("environment is not ready")
			}
			return nil
		},
	}
}
