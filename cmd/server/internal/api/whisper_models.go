package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/houzhh15/meetscribe/cmd/server/internal/orchestrator/orcherr"
)

// ModelLister lists the chat models usable for minutes.
// *summary.Summarizer implements it.
type ModelLister interface {
	ListChatModels(ctx context.Context) ([]string, error)
}

// ModelsResponse 模型列表响应
type ModelsResponse struct {
	Transcriber string   `json:"transcriber,omitempty"`
	ChatModels  []string `json:"chat_models"`
}

// handleListModels GET /api/v1/models
// 列出摘要可用的聊天模型；摘要未配置时返回 503
func (s *Server) handleListModels(c *gin.Context) {
	lister, ok := s.summarizer.(ModelLister)
	if !ok || lister == nil {
		errorResponse(c, http.StatusServiceUnavailable, "model listing not available")
		return
	}
	models, err := lister.ListChatModels(c.Request.Context())
	if err != nil {
		s.logger.Warn("list models failed", "error", err)
		errorResponseWithDetail(c, summaryStatus(err), "list models failed", gin.H{
			"code":    orcherr.CodeOf(err),
			"message": err.Error(),
		})
		return
	}
	resp := ModelsResponse{ChatModels: models}
	if s.provider != nil && s.provider.Primary != nil {
		resp.Transcriber = s.provider.Primary.Name()
	}
	successResponse(c, http.StatusOK, resp)
}
