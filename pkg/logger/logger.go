package logger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Config 定义日志初始化配置
// Level 支持 debug/info/warn/error，Environment 支持 prod/dev 等
// File 非空时额外写入滚动日志文件（lumberjack）
// Output 仅用于测试注入，默认 stdout
type Config struct {
	Level       string
	Environment string
	WithSource  bool
	File        string
	Output      io.Writer
}

var (
	global *slog.Logger
	once   sync.Once
)

func levelFromString(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, errors.New("invalid log level: " + level)
	}
}

// newRotatingWriter 创建按大小滚动的日志文件写入器
func newRotatingWriter(path string) io.Writer {
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    100, // MB
		MaxBackups: 10,
		MaxAge:     30, // days
		Compress:   true,
	}
}

// New 根据配置创建新的 slog.Logger，不设置全局实例
func New(cfg Config) (*slog.Logger, error) {
	lvl, err := levelFromString(cfg.Level)
	if err != nil {
		return nil, err
	}

	var out io.Writer = os.Stdout
	if cfg.Output != nil {
		out = cfg.Output
	}
	if cfg.File != "" {
		out = io.MultiWriter(out, newRotatingWriter(cfg.File))
	}

	handlerOpts := &slog.HandlerOptions{Level: lvl, AddSource: cfg.WithSource}
	var handler slog.Handler
	if strings.ToLower(cfg.Environment) == "prod" {
		handler = slog.NewJSONHandler(out, handlerOpts)
	} else {
		handler = slog.NewTextHandler(out, handlerOpts)
	}

	return slog.New(handler), nil
}

// Init 初始化全局日志实例，重复调用将返回首次创建的 logger
func Init(cfg Config) (*slog.Logger, error) {
	var initErr error
	once.Do(func() {
		global, initErr = New(cfg)
		if initErr == nil {
			slog.SetDefault(global)
		}
	})
	return global, initErr
}

// L 返回已初始化的全局 logger，未初始化时 panic
func L() *slog.Logger {
	if global == nil {
		panic("logger.Init must be called before logger.L")
	}
	return global
}

// OrDefault 返回传入的 logger，为 nil 时回退到 slog.Default()
func OrDefault(l *slog.Logger) *slog.Logger {
	if l != nil {
		return l
	}
	return slog.Default()
}

// LogChunkProcessing 记录切片处理事件的结构化日志
// stage: segment/asr/overlap/merge/finalize/summary（调用方 logger 自带 component）
// action: start/success/error/retry/rejected/cached
// chunkID: 音频切片序号
// durationMs: 处理耗时（毫秒）
// errorCode: 错误代码（可选）
func LogChunkProcessing(logger *slog.Logger, stage, action string, chunkID int, durationMs int64, errorCode string) {
	attrs := []slog.Attr{
		slog.String("stage", stage),
		slog.String("action", action),
		slog.Int("chunk_id", chunkID),
		slog.Int64("duration_ms", durationMs),
	}

	logger = OrDefault(logger)
	if errorCode != "" {
		attrs = append(attrs, slog.String("error_code", errorCode))
		logger.LogAttrs(context.Background(), slog.LevelError, "Chunk processing error", attrs...)
	} else {
		logger.LogAttrs(context.Background(), slog.LevelInfo, "Chunk processing event", attrs...)
	}
}
