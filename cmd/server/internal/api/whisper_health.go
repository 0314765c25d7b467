package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/houzhh15/meetscribe/cmd/server/internal/orchestrator"
)

// HandleWhisperHealthCheck 创建转写服务健康检查的HTTP处理函数
//
// 响应格式:
//
//	{
//	  "success": true,
//	  "data": {
//	    "implementation": "openai-http",
//	    "is_healthy": true,
//	    "is_degraded": false,
//	    "last_check_time": "2025-10-11T02:20:00Z",
//	    "consecutive_fails": 0,
//	    "error_message": ""
//	  }
//	}
//
// 未启用降级时直接探测主实现。
func HandleWhisperHealthCheck(p *orchestrator.Provider) gin.HandlerFunc {
	return func(c *gin.Context) {
		if p == nil || p.Primary == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"success": false,
				"error":   "transcription provider not initialized",
			})
			return
		}

		if hc := p.HealthChecker(); hc != nil {
			status := hc.GetStatus()
			successResponse(c, http.StatusOK, gin.H{
				"implementation":    p.GetTranscriber().Name(),
				"is_healthy":        status.IsHealthy,
				"is_degraded":       p.IsDegraded(),
				"last_check_time":   status.LastCheckTime,
				"consecutive_fails": status.ConsecutiveFails,
				"error_message":     status.ErrorMessage,
			})
			return
		}

		healthy, err := p.Primary.HealthCheck(c.Request.Context())
		msg := ""
		if err != nil {
			msg = err.Error()
		}
		fails := 0
		if !healthy {
			fails = 1
		}
		successResponse(c, http.StatusOK, gin.H{
			"implementation":    p.Primary.Name(),
			"is_healthy":        healthy,
			"is_degraded":       false,
			"last_check_time":   time.Now(),
			"consecutive_fails": fails,
			"error_message":     msg,
		})
	}
}
