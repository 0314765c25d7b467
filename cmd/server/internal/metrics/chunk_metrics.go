package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ChunksTotal 切片处理总数计数器
	// Labels: component (segment/asr/overlap/merge/finalize), status (success/error/rejected/cached)
	ChunksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meetscribe_chunks_total",
			Help: "Total number of audio chunks processed by component",
		},
		[]string{"component", "status"},
	)

	// ErrorsTotal 处理错误总数计数器
	// Labels: component, error_code (AUTH_INVALID/RATE_LIMITED/...)
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meetscribe_errors_total",
			Help: "Total number of processing errors by component and error code",
		},
		[]string{"component", "error_code"},
	)

	// ChunkRetriesTotal 切片重试次数
	ChunkRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "meetscribe_chunk_retries_total",
			Help: "Total number of transcription retries across all chunks",
		},
	)

	// ChunksRejectedTotal 因重复覆盖率过高被拒绝的切片数
	ChunksRejectedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "meetscribe_chunks_rejected_total",
			Help: "Total number of chunk transcripts rejected by repetition coverage",
		},
	)

	// InflightChunks 当前正在转写的切片数量
	InflightChunks = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "meetscribe_inflight_chunks",
			Help: "Number of chunk transcriptions currently in flight",
		},
	)

	// TranscriberDegraded 转写服务降级状态（0=正常，1=降级）
	TranscriberDegraded = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "meetscribe_transcriber_degraded",
			Help: "Transcriber degradation status (0=primary, 1=fallback)",
		},
	)

	// CacheLookupsTotal 切片缓存查询次数
	// Labels: result (hit/miss/expired)
	CacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meetscribe_cache_lookups_total",
			Help: "Chunk transcription cache lookups by result",
		},
		[]string{"result"},
	)

	// ProcessingDuration 处理耗时直方图（秒）
	// Buckets: 0.1s, 0.5s, 1s, 2s, 5s, 10s, 30s, 60s, 120s, 300s
	ProcessingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "meetscribe_processing_duration_seconds",
			Help:    "Processing duration in seconds by component",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"component"},
	)
)

// RecordChunkProcessed 记录切片处理完成
func RecordChunkProcessed(component string, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	ChunksTotal.WithLabelValues(component, status).Inc()
}

// RecordChunkStatus 记录自定义状态（rejected/cached 等）
func RecordChunkStatus(component, status string) {
	ChunksTotal.WithLabelValues(component, status).Inc()
}

// RecordError 记录处理错误
func RecordError(component, errorCode string) {
	ErrorsTotal.WithLabelValues(component, errorCode).Inc()
}

// RecordRetry 记录一次重试
func RecordRetry() {
	ChunkRetriesTotal.Inc()
}

// RecordRejected 记录一次覆盖率拒绝
func RecordRejected() {
	ChunksRejectedTotal.Inc()
}

// SetDegraded 设置降级状态
func SetDegraded(degraded bool) {
	if degraded {
		TranscriberDegraded.Set(1)
	} else {
		TranscriberDegraded.Set(0)
	}
}

// RecordCacheLookup 记录缓存查询结果
func RecordCacheLookup(result string) {
	CacheLookupsTotal.WithLabelValues(result).Inc()
}

// RecordDuration 记录处理耗时（秒）
func RecordDuration(component string, durationSeconds float64) {
	ProcessingDuration.WithLabelValues(component).Observe(durationSeconds)
}
