package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/houzhh15/meetscribe/cmd/server/internal/orchestrator/whisper"
)

// EnvironmentStatus 表示整体环境状态
type EnvironmentStatus struct {
	Ready    bool               `json:"ready"`
	Issues   []string           `json:"issues"`
	Warnings []string           `json:"warnings"`
	Details  EnvironmentDetails `json:"details"`
}

// EnvironmentDetails 包含各组件的详细状态
type EnvironmentDetails struct {
	APIKey   TokenStatus   `json:"api_key"`
	Provider ServiceStatus `json:"provider"`
	WorkDir  DirStatus     `json:"work_dir"`
	CacheDir *DirStatus    `json:"cache_dir,omitempty"`
}

// TokenStatus 表示 API Key 配置状态
type TokenStatus struct {
	Configured bool   `json:"configured"`
	Masked     string `json:"masked,omitempty"`
}

// ServiceStatus 表示转写服务状态
type ServiceStatus struct {
	Reachable   bool   `json:"reachable"`
	URL         string `json:"url"`
	Transcriber string `json:"transcriber"`
	Latency     string `json:"latency,omitempty"`
	Error       string `json:"error,omitempty"`
}

// DirStatus 表示目录可写状态
type DirStatus struct {
	Path     string `json:"path"`
	Writable bool   `json:"writable"`
	Error    string `json:"error,omitempty"`
}

// EnvironmentChecker 检查运行所需的外部条件
type EnvironmentChecker struct {
	provider ProviderConfig
	primary  whisper.WhisperTranscriber
	workDir  string
	cacheDir string // 空表示未启用缓存
	timeout  time.Duration
}

// NewEnvironmentChecker creates a checker. primary may be nil when the
// provider could not be built; the check then reports it as unreachable.
func NewEnvironmentChecker(cfg ProviderConfig, primary whisper.WhisperTranscriber, workDir, cacheDir string) *EnvironmentChecker {
	return &EnvironmentChecker{
		provider: cfg,
		primary:  primary,
		workDir:  workDir,
		cacheDir: cacheDir,
		timeout:  10 * time.Second,
	}
}

// Check 执行完整的环境检查
func (e *EnvironmentChecker) Check(ctx context.Context) *EnvironmentStatus {
	status := &EnvironmentStatus{
		Ready:    true,
		Issues:   []string{},
		Warnings: []string{},
	}

	// 1. API Key
	if e.provider.APIKey == "" {
		status.Details.APIKey = TokenStatus{Configured: false}
		if e.provider.BaseURL == "" || e.provider.BaseURL == whisper.DefaultBaseURL {
			status.Ready = false
			status.Issues = append(status.Issues, "OPENAI_API_KEY is not configured")
		} else {
			status.Warnings = append(status.Warnings, "no API key set for a custom provider endpoint")
		}
	} else {
		status.Details.APIKey = TokenStatus{Configured: true, Masked: MaskSecret(e.provider.APIKey)}
	}

	// 2. 转写服务
	svc := e.checkProvider(ctx)
	status.Details.Provider = svc
	if !svc.Reachable {
		status.Ready = false
		status.Issues = append(status.Issues, fmt.Sprintf("transcription provider unreachable: %s", svc.Error))
	}

	// 3. 工作目录
	status.Details.WorkDir = checkWritable(e.workDir)
	if !status.Details.WorkDir.Writable {
		status.Ready = false
		status.Issues = append(status.Issues, fmt.Sprintf("work dir not writable: %s", status.Details.WorkDir.Error))
	}

	// 4. 缓存目录
	if e.cacheDir != "" {
		ds := checkWritable(e.cacheDir)
		status.Details.CacheDir = &ds
		if !ds.Writable {
			status.Warnings = append(status.Warnings, fmt.Sprintf("cache dir not writable, chunks will not be cached: %s", ds.Error))
		}
	}

	return status
}

func (e *EnvironmentChecker) checkProvider(ctx context.Context) ServiceStatus {
	url := e.provider.BaseURL
	if url == "" {
		url = whisper.DefaultBaseURL
	}
	if e.primary == nil {
		return ServiceStatus{URL: url, Error: "provider not configured"}
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	start := time.Now()
	healthy, err := e.primary.HealthCheck(ctx)
	latency := time.Since(start)

	st := ServiceStatus{URL: url, Transcriber: e.primary.Name()}
	if err != nil || !healthy {
		st.Error = "health check failed"
		if err != nil {
			st.Error = err.Error()
		}
		return st
	}
	st.Reachable = true
	st.Latency = fmt.Sprintf("%dms", latency.Milliseconds())
	return st
}

// checkWritable 创建目录并写入探测文件
func checkWritable(dir string) DirStatus {
	st := DirStatus{Path: dir}
	if dir == "" {
		st.Error = "not configured"
		return st
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		st.Error = err.Error()
		return st
	}
	probe, err := os.CreateTemp(dir, ".probe-*")
	if err != nil {
		st.Error = err.Error()
		return st
	}
	name := probe.Name()
	probe.Close()
	os.Remove(filepath.Clean(name))
	st.Writable = true
	return st
}

// MaskSecret 遮蔽密钥的中间部分
func MaskSecret(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:4] + "..." + secret[len(secret)-4:]
}
