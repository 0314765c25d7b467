package main

import (
	"fmt"
	"log/slog"

	"github.com/houzhh15/meetscribe/cmd/server/internal/cache"
	"github.com/houzhh15/meetscribe/cmd/server/internal/config"
	"github.com/houzhh15/meetscribe/cmd/server/internal/dedup"
	"github.com/houzhh15/meetscribe/cmd/server/internal/orchestrator"
	"github.com/houzhh15/meetscribe/cmd/server/internal/segmenter"
)

// stack is the wired transcription pipeline shared by serve and transcribe.
type stack struct {
	provider *orchestrator.Provider
	cache    *cache.ChunkCache // nil when disabled
	pipeline *orchestrator.Pipeline
}

func buildStack(cfg *config.Config, l *slog.Logger) (*stack, error) {
	provider, err := orchestrator.NewProvider(cfg.Provider, nil, l)
	if err != nil {
		return nil, err
	}

	engine, err := dedup.NewEngine(cfg.Dedup, l)
	if err != nil {
		return nil, err
	}

	var opts []orchestrator.Option
	opts = append(opts, orchestrator.WithLogger(l))
	var chunkCache *cache.ChunkCache
	if cfg.Cache.Enabled {
		chunkCache, err = cache.New(cfg.Cache.Dir, cfg.Cache.TTL, cfg.Cache.Capacity)
		if err != nil {
			// 缓存不可用不影响转写
			l.Warn("chunk cache disabled", "dir", cfg.Cache.Dir, "error", err)
			chunkCache = nil
		} else {
			opts = append(opts, orchestrator.WithCache(chunkCache))
		}
	}

	orch, err := orchestrator.New(cfg.Orchestrator, provider, engine, opts...)
	if err != nil {
		return nil, fmt.Errorf("create orchestrator: %w", err)
	}

	return &stack{
		provider: provider,
		cache:    chunkCache,
		pipeline: orchestrator.NewPipeline(segmenter.New(cfg.Segmenter, l), orch),
	}, nil
}

func cacheDir(cfg *config.Config) string {
	if !cfg.Cache.Enabled {
		return ""
	}
	return cfg.Cache.Dir
}
