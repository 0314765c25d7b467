package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/houzhh15/meetscribe/cmd/server/internal/cache"
	"github.com/houzhh15/meetscribe/cmd/server/internal/dedup"
	"github.com/houzhh15/meetscribe/cmd/server/internal/orchestrator"
	"github.com/houzhh15/meetscribe/cmd/server/internal/segmenter"
	"github.com/houzhh15/meetscribe/cmd/server/internal/summary"
	"github.com/houzhh15/meetscribe/pkg/logger"
)

// Config 统一配置结构
type Config struct {
	Server       ServerConfig                `yaml:"server"`
	Log          LogConfig                   `yaml:"log"`
	Provider     orchestrator.ProviderConfig `yaml:"provider"`
	Segmenter    segmenter.Config            `yaml:"segmenter"`
	Orchestrator orchestrator.Config         `yaml:"orchestrator"`
	Dedup        dedup.Config                `yaml:"dedup"`
	Summary      summary.Config              `yaml:"summary"`
	Cache        CacheConfig                 `yaml:"cache"`
	WorkDir      string                      `yaml:"work_dir"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Env            string   `yaml:"env"` // dev, staging, production
	Port           string   `yaml:"port"`
	JWTSecret      string   `yaml:"jwt_secret"`
	MaxUploadBytes int64    `yaml:"max_upload_bytes"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // console, json
	File   string `yaml:"file"`   // 非空时写入滚动日志文件
}

// CacheConfig 切片转写缓存配置
type CacheConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Dir      string        `yaml:"dir"`
	TTL      time.Duration `yaml:"ttl"`
	Capacity int           `yaml:"capacity"`
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Env:            "dev",
			Port:           "8000",
			MaxUploadBytes: 1 << 30,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Provider:     orchestrator.DefaultProviderConfig(),
		Segmenter:    segmenter.DefaultConfig(),
		Orchestrator: orchestrator.DefaultConfig(),
		Dedup:        dedup.DefaultConfig(),
		Summary:      summary.DefaultConfig(),
		Cache: CacheConfig{
			Enabled:  true,
			Dir:      "./data/cache",
			TTL:      cache.DefaultTTL,
			Capacity: cache.DefaultCapacity,
		},
		WorkDir: "./data/jobs",
	}
}

// LoadConfig 按 默认值 -> YAML 文件 -> 环境变量 的顺序加载配置
// path 为空时读取 MEETSCRIBE_CONFIG；两者都为空则只用默认值和环境变量。
// 当前目录存在 .env 时先加载它（不覆盖已有环境变量）。
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()
	if path == "" {
		path = os.Getenv("MEETSCRIBE_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	var problems []string

	c.Server.Env = getEnv("MEETSCRIBE_ENV", c.Server.Env)
	c.Server.Port = getEnv("MEETSCRIBE_PORT", c.Server.Port)
	c.Server.JWTSecret = getEnv("MEETSCRIBE_JWT_SECRET", c.Server.JWTSecret)
	if v := os.Getenv("MEETSCRIBE_ALLOWED_ORIGINS"); v != "" {
		c.Server.AllowedOrigins = parseStringList(v)
	}

	c.Log.Level = getEnv("MEETSCRIBE_LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("MEETSCRIBE_LOG_FORMAT", c.Log.Format)
	c.Log.File = getEnv("MEETSCRIBE_LOG_FILE", c.Log.File)

	c.Provider.APIKey = getEnv("OPENAI_API_KEY", c.Provider.APIKey)
	c.Provider.APIKey = getEnv("MEETSCRIBE_API_KEY", c.Provider.APIKey)
	c.Provider.BaseURL = getEnv("MEETSCRIBE_BASE_URL", c.Provider.BaseURL)
	c.Provider.Organization = getEnv("OPENAI_ORGANIZATION", c.Provider.Organization)
	c.Orchestrator.Model = getEnv("MEETSCRIBE_MODEL", c.Orchestrator.Model)
	c.Orchestrator.Language = getEnv("MEETSCRIBE_LANGUAGE", c.Orchestrator.Language)

	if v := os.Getenv("MEETSCRIBE_MAX_PARALLEL"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			problems = append(problems, fmt.Sprintf("MEETSCRIBE_MAX_PARALLEL: %s is not an integer", v))
		} else {
			c.Orchestrator.MaxParallel = n
		}
	}
	if v := os.Getenv("MEETSCRIBE_CHUNK_SECONDS"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			problems = append(problems, fmt.Sprintf("MEETSCRIBE_CHUNK_SECONDS: %s is not a number", v))
		} else {
			c.Segmenter.ChunkSeconds = f
		}
	}
	if v := os.Getenv("MEETSCRIBE_CACHE_ENABLED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			problems = append(problems, fmt.Sprintf("MEETSCRIBE_CACHE_ENABLED: %s is not a boolean", v))
		} else {
			c.Cache.Enabled = b
		}
	}
	c.Cache.Dir = getEnv("MEETSCRIBE_CACHE_DIR", c.Cache.Dir)
	c.WorkDir = getEnv("MEETSCRIBE_WORK_DIR", c.WorkDir)

	c.Summary.Model = getEnv("MEETSCRIBE_SUMMARY_MODEL", c.Summary.Model)
	// 摘要默认与转写共用同一账号
	if c.Summary.APIKey == "" {
		c.Summary.APIKey = c.Provider.APIKey
	}
	if c.Summary.BaseURL == "" && c.Provider.BaseURL != "" {
		c.Summary.BaseURL = c.Provider.BaseURL
	}
	if c.Summary.Organization == "" {
		c.Summary.Organization = c.Provider.Organization
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid environment:\n  - %s", strings.Join(problems, "\n  - "))
	}
	return nil
}

// ValidateConfig 验证配置的有效性，所有问题合并为一个错误返回
func ValidateConfig(cfg *Config) error {
	var errs []string

	// 1. JWT Secret：生产环境必须配置且足够长
	if cfg.IsProduction() {
		if cfg.Server.JWTSecret == "" {
			errs = append(errs, "MEETSCRIBE_JWT_SECRET is required in production environment")
		}
	}
	if cfg.Server.JWTSecret != "" && len(cfg.Server.JWTSecret) < 32 {
		errs = append(errs, "jwt_secret must be at least 32 characters long")
	}

	// 2. 端口验证
	if port, err := strconv.Atoi(cfg.Server.Port); err != nil || port < 1 || port > 65535 {
		errs = append(errs, fmt.Sprintf("invalid port value: %s (must be 1-65535)", cfg.Server.Port))
	}

	// 3. 日志级别 / 格式
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Log.Level] {
		errs = append(errs, fmt.Sprintf("invalid log level: %s (must be: debug, info, warn, error)", cfg.Log.Level))
	}
	validLogFormats := map[string]bool{"console": true, "json": true}
	if !validLogFormats[cfg.Log.Format] {
		errs = append(errs, fmt.Sprintf("invalid log format: %s (must be: console, json)", cfg.Log.Format))
	}

	// 4. 环境验证
	validEnvs := map[string]bool{"dev": true, "development": true, "staging": true, "production": true}
	if !validEnvs[cfg.Server.Env] {
		errs = append(errs, fmt.Sprintf("invalid env: %s (must be: dev, development, staging, production)", cfg.Server.Env))
	}

	// 5. 各组件自身的约束
	for _, v := range []interface{ Validate() error }{cfg.Segmenter, cfg.Orchestrator, cfg.Dedup} {
		if err := v.Validate(); err != nil {
			errs = append(errs, err.Error())
		}
	}

	// 6. 目录
	if cfg.WorkDir == "" {
		errs = append(errs, "work_dir is required")
	}
	if cfg.Cache.Enabled && cfg.Cache.Dir == "" {
		errs = append(errs, "cache.dir is required when the cache is enabled")
	}
	if cfg.Server.MaxUploadBytes < 0 {
		errs = append(errs, "server.max_upload_bytes must be >= 0")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// IsProduction 判断是否为生产环境
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

// GetServerAddr 获取服务器监听地址
func (c *Config) GetServerAddr() string {
	return ":" + c.Server.Port
}

// LoggerConfig maps the log section onto pkg/logger.
func (c *Config) LoggerConfig() logger.Config {
	// pkg/logger selects the JSON handler for "prod"
	env := "dev"
	if c.Log.Format == "json" {
		env = "prod"
	}
	return logger.Config{Level: c.Log.Level, Environment: env, File: c.Log.File}
}

// PrintConfig 打印配置（脱敏）
func (c *Config) PrintConfig() string {
	cacheDir := "<disabled>"
	if c.Cache.Enabled {
		cacheDir = c.Cache.Dir
	}
	return fmt.Sprintf(`Configuration Loaded:
  Environment: %s
  Server Port: %s
  JWT Secret: %s
  Logging:
    - Level: %s
    - Format: %s
    - File: %s
  Provider:
    - Base URL: %s
    - API Key: %s
    - Model: %s
    - Degradation: %t
  Chunking: %.0fs chunks, %.0fs overlap, max parallel %d
  Summary Model: %s
  Work Dir: %s
  Cache Dir: %s`,
		c.Server.Env,
		c.Server.Port,
		maskSecret(c.Server.JWTSecret),
		c.Log.Level,
		c.Log.Format,
		c.Log.File,
		c.Provider.BaseURL,
		maskSecret(c.Provider.APIKey),
		c.Orchestrator.Model,
		c.Provider.EnableDegradation,
		c.Segmenter.ChunkSeconds,
		c.Segmenter.OverlapSeconds,
		c.Orchestrator.MaxParallel,
		c.Summary.Model,
		c.WorkDir,
		cacheDir,
	)
}

// 辅助函数

// getEnv 获取环境变量，如果不存在则返回默认值
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseStringList 解析逗号分隔的字符串列表
func parseStringList(value string) []string {
	if value == "" {
		return []string{}
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

// maskSecret 对敏感信息进行脱敏
func maskSecret(secret string) string {
	if secret == "" {
		return "<not set>"
	}
	return orchestrator.MaskSecret(secret)
}
