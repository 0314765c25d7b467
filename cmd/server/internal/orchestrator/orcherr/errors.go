// Package orcherr defines the error taxonomy shared by the transcription
// adapter, the chunk orchestrator and the summarizer.
package orcherr

import (
	"errors"
	"fmt"
	"time"
)

// ErrorCode 表示处理错误类型代码
type ErrorCode string

const (
	// AUTH_INVALID 凭证无效或已过期（致命，终止任务）
	AUTH_INVALID ErrorCode = "AUTH_INVALID"

	// QUOTA_EXHAUSTED 配额耗尽（致命，终止任务）
	QUOTA_EXHAUSTED ErrorCode = "QUOTA_EXHAUSTED"

	// RATE_LIMITED 触发限流（可重试，退避加倍）
	RATE_LIMITED ErrorCode = "RATE_LIMITED"

	// PAYLOAD_TOO_LARGE 音频超过服务端大小限制（不可重试）
	PAYLOAD_TOO_LARGE ErrorCode = "PAYLOAD_TOO_LARGE"

	// WHISPER_UNAVAILABLE 转写服务不可达（网络错误、服务未启动）
	WHISPER_UNAVAILABLE ErrorCode = "WHISPER_UNAVAILABLE"

	// WHISPER_HTTP_ERROR 转写服务返回非预期 HTTP 状态
	WHISPER_HTTP_ERROR ErrorCode = "WHISPER_HTTP_ERROR"

	// TRANSCRIPTION_EMPTY 服务返回空文本
	TRANSCRIPTION_EMPTY ErrorCode = "TRANSCRIPTION_EMPTY"

	// CHUNK_INVALID 切片校验失败（超限或纯静音）
	CHUNK_INVALID ErrorCode = "CHUNK_INVALID"

	// DECODE_FAILED 音频解码失败
	DECODE_FAILED ErrorCode = "DECODE_FAILED"

	// TRANSCRIPT_TOO_LONG 摘要请求超出模型上下文长度
	TRANSCRIPT_TOO_LONG ErrorCode = "TRANSCRIPT_TOO_LONG"

	// JOB_CANCELLED 任务被取消
	JOB_CANCELLED ErrorCode = "JOB_CANCELLED"
)

// NoChunk 表示错误与具体切片无关
const NoChunk = -1

// OrchError 表示转写流水线错误
type OrchError struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	ChunkIndex int       `json:"chunk_index"`
	StatusCode int       `json:"status_code,omitempty"`
	Cause      error     `json:"-"`
	Timestamp  time.Time `json:"timestamp"`
}

// Error 实现 error 接口
func (e *OrchError) Error() string {
	prefix := fmt.Sprintf("[%s]", e.Code)
	if e.ChunkIndex != NoChunk {
		prefix = fmt.Sprintf("[%s chunk=%d]", e.Code, e.ChunkIndex)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s %s: %v", prefix, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s %s", prefix, e.Message)
}

// Unwrap 实现错误链支持
func (e *OrchError) Unwrap() error {
	return e.Cause
}

// Is 按错误码比较，便于 errors.Is(err, &OrchError{Code: X})
func (e *OrchError) Is(target error) bool {
	t, ok := target.(*OrchError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// NewOrchError 创建新的流水线错误
func NewOrchError(code ErrorCode, message string, cause error) *OrchError {
	return &OrchError{
		Code:       code,
		Message:    message,
		ChunkIndex: NoChunk,
		Cause:      cause,
		Timestamp:  time.Now(),
	}
}

// WithChunk 返回携带切片序号的副本
func (e *OrchError) WithChunk(index int) *OrchError {
	cp := *e
	cp.ChunkIndex = index
	return &cp
}

// NewAuthError 创建凭证错误
func NewAuthError(body string) *OrchError {
	return NewOrchError(AUTH_INVALID, "invalid or expired API credential: "+body, nil)
}

// NewQuotaError 创建配额耗尽错误
func NewQuotaError(body string) *OrchError {
	return NewOrchError(QUOTA_EXHAUSTED, "provider quota exhausted: "+body, nil)
}

// NewRateLimitError 创建限流错误
func NewRateLimitError(body string) *OrchError {
	return NewOrchError(RATE_LIMITED, "provider rate limit exceeded: "+body, nil)
}

// NewPayloadTooLargeError 创建音频过大错误
func NewPayloadTooLargeError(sizeBytes int64) *OrchError {
	msg := fmt.Sprintf("audio payload too large: %d bytes", sizeBytes)
	return NewOrchError(PAYLOAD_TOO_LARGE, msg, nil)
}

// NewWhisperUnavailableError 创建服务不可达错误
func NewWhisperUnavailableError(cause error) *OrchError {
	return NewOrchError(WHISPER_UNAVAILABLE, "transcription service unreachable", cause)
}

// NewWhisperHTTPError 创建 HTTP 错误
func NewWhisperHTTPError(statusCode int, body string) *OrchError {
	msg := fmt.Sprintf("transcription API returned HTTP %d: %s", statusCode, body)
	e := NewOrchError(WHISPER_HTTP_ERROR, msg, nil)
	e.StatusCode = statusCode
	return e
}

// NewEmptyTranscriptionError 创建空转写错误
func NewEmptyTranscriptionError() *OrchError {
	return NewOrchError(TRANSCRIPTION_EMPTY, "provider returned an empty transcription", nil)
}

// NewChunkInvalidError 创建切片校验错误
func NewChunkInvalidError(reason string) *OrchError {
	return NewOrchError(CHUNK_INVALID, reason, nil)
}

// NewDecodeError 创建解码错误
func NewDecodeError(cause error) *OrchError {
	return NewOrchError(DECODE_FAILED, "audio decode failed", cause)
}

// NewTranscriptTooLongError 创建上下文超长错误
func NewTranscriptTooLongError(cause error) *OrchError {
	return NewOrchError(TRANSCRIPT_TOO_LONG, "transcript exceeds the model context length", cause)
}

// NewCancelledError 创建取消错误
func NewCancelledError(cause error) *OrchError {
	return NewOrchError(JOB_CANCELLED, "job cancelled", cause)
}

// CodeOf 提取错误码，非 OrchError 返回空字符串
func CodeOf(err error) ErrorCode {
	var oe *OrchError
	if errors.As(err, &oe) {
		return oe.Code
	}
	return ""
}

// IsFatal 判断错误是否需要终止整个任务
func IsFatal(err error) bool {
	switch CodeOf(err) {
	case AUTH_INVALID, QUOTA_EXHAUSTED:
		return true
	}
	return false
}

// IsRateLimited 判断是否为限流错误
func IsRateLimited(err error) bool {
	return CodeOf(err) == RATE_LIMITED
}

// IsRetryable 判断错误是否值得重试
// 未分类的错误（如底层网络错误）默认可重试
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch CodeOf(err) {
	case AUTH_INVALID, QUOTA_EXHAUSTED, PAYLOAD_TOO_LARGE, CHUNK_INVALID, TRANSCRIPT_TOO_LONG, JOB_CANCELLED:
		return false
	}
	return true
}
