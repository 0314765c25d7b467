package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/houzhh15/meetscribe/cmd/server/internal/middleware"
)

func newTokenCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "token",
		Short: "用配置的 jwt_secret 签发 API 访问令牌",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.Server.JWTSecret == "" {
				return errors.New("jwt_secret is not configured (set MEETSCRIBE_JWT_SECRET)")
			}
			subject, _ := cmd.Flags().GetString("subject")
			scopes, _ := cmd.Flags().GetStringSlice("scopes")
			ttl, _ := cmd.Flags().GetDuration("ttl")

			tok, err := middleware.IssueToken([]byte(cfg.Server.JWTSecret), subject, scopes, ttl)
			if err != nil {
				return err
			}
			if outputFormat(cmd) == "json" {
				return printJSON(cmd.OutOrStdout(), map[string]any{
					"token":   tok,
					"subject": subject,
					"scopes":  scopes,
					"ttl":     ttl.String(),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			cmd.PrintErrf("scopes: %s\n", strings.Join(scopes, ","))
			return nil
		},
	}
	c.Flags().String("subject", "cli", "令牌主体")
	c.Flags().StringSlice("scopes", []string{middleware.ScopeJobsRead, middleware.ScopeJobsWrite}, "授权范围")
	c.Flags().Duration("ttl", 0, "有效期，0 表示不过期")
	return c
}
