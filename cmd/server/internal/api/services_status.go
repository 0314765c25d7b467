package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/houzhh15/meetscribe/cmd/server/internal/jobs"
	"github.com/houzhh15/meetscribe/cmd/server/internal/orchestrator"
)

// ServicesStatusResponse 服务状态响应
type ServicesStatusResponse struct {
	TranscriberAvailable bool                       `json:"transcriber_available"`
	Transcriber          string                     `json:"transcriber,omitempty"`
	Degraded             bool                       `json:"degraded"`
	SummarizerAvailable  bool                       `json:"summarizer_available"`
	Jobs                 map[orchestrator.State]int `json:"jobs"`
}

// HandleServicesStatus 返回当前服务的部署状态与各状态任务数
// GET /api/v1/services/status
func HandleServicesStatus(p *orchestrator.Provider, sum Summarizer, reg *jobs.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := ServicesStatusResponse{
			SummarizerAvailable: sum != nil,
			Jobs:                map[orchestrator.State]int{},
		}

		if p != nil && p.Primary != nil {
			status.TranscriberAvailable = true
			status.Transcriber = p.GetTranscriber().Name()
			status.Degraded = p.IsDegraded()
		}
		if reg != nil {
			for _, j := range reg.List() {
				status.Jobs[j.State]++
			}
		}

		c.JSON(http.StatusOK, status)
	}
}
