package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/houzhh15/meetscribe/cmd/server/internal/config"
	"github.com/houzhh15/meetscribe/pkg/logger"
)

// addGlobalFlags 注册所有子命令共享的标志，命令行优先级最高
func addGlobalFlags(cmd *cobra.Command) {
	pf := cmd.PersistentFlags()
	pf.String("config", "", "YAML 配置文件 (默认读取 MEETSCRIBE_CONFIG)")
	pf.String("log-level", "", "日志级别: debug, info, warn, error")
	pf.String("api-key", "", "OpenAI API Key (默认读取 OPENAI_API_KEY)")
	pf.String("base-url", "", "OpenAI 兼容服务地址")
	pf.String("model", "", "转写模型")
	pf.String("language", "", "音频语言 (ISO-639-1，空为自动检测)")
	pf.String("work-dir", "", "任务与切片工作目录")
	pf.Bool("no-cache", false, "禁用切片转写缓存")
	pf.StringP("output", "o", "text", "输出格式: text, json")
}

// loadConfig 按 默认值 -> 文件 -> 环境变量 -> 标志 合并配置并创建 logger。
// 日志写到 stderr，stdout 只留给命令输出。
func loadConfig(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, nil, err
	}

	flags := cmd.Flags()
	override := func(flag string, dst *string) {
		if flags.Changed(flag) {
			*dst, _ = flags.GetString(flag)
		}
	}
	override("log-level", &cfg.Log.Level)
	override("api-key", &cfg.Provider.APIKey)
	override("base-url", &cfg.Provider.BaseURL)
	override("model", &cfg.Orchestrator.Model)
	override("language", &cfg.Orchestrator.Language)
	override("work-dir", &cfg.WorkDir)
	if flags.Changed("api-key") {
		cfg.Summary.APIKey = cfg.Provider.APIKey
	}
	if flags.Changed("base-url") {
		cfg.Summary.BaseURL = cfg.Provider.BaseURL
	}
	if noCache, _ := flags.GetBool("no-cache"); noCache {
		cfg.Cache.Enabled = false
	}

	if err := config.ValidateConfig(cfg); err != nil {
		return nil, nil, err
	}

	lc := cfg.LoggerConfig()
	lc.Output = cmd.ErrOrStderr()
	l, err := logger.New(lc)
	if err != nil {
		return nil, nil, fmt.Errorf("logger init failed: %w", err)
	}
	return cfg, l, nil
}

func outputFormat(cmd *cobra.Command) string {
	f, _ := cmd.Flags().GetString("output")
	return f
}
