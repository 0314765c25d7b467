package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/houzhh15/meetscribe/cmd/server/internal/jobs"
	"github.com/houzhh15/meetscribe/cmd/server/internal/orchestrator/orcherr"
	"github.com/houzhh15/meetscribe/cmd/server/internal/segmenter"
	"github.com/houzhh15/meetscribe/cmd/server/internal/summary"
)

// handleCreateJob POST /api/v1/jobs
// multipart: file (required), duration_hint (seconds, optional)
func (s *Server) handleCreateJob(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.cfg.MaxUploadBytes)

	fh, err := c.FormFile("file")
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			errorResponse(c, http.StatusRequestEntityTooLarge, fmt.Sprintf("upload exceeds %d bytes", s.cfg.MaxUploadBytes))
			return
		}
		badRequestResponse(c, "multipart field 'file' is required")
		return
	}

	var hint float64
	if v := c.PostForm("duration_hint"); v != "" {
		hint, err = strconv.ParseFloat(v, 64)
		if err != nil || hint < 0 {
			badRequestResponse(c, "duration_hint must be a non-negative number of seconds")
			return
		}
	}

	f, err := fh.Open()
	if err != nil {
		internalErrorResponse(c, err)
		return
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		internalErrorResponse(c, fmt.Errorf("read upload: %w", err))
		return
	}
	if len(data) == 0 {
		badRequestResponse(c, "uploaded file is empty")
		return
	}

	src := segmenter.Source{
		Data:         data,
		Name:         fh.Filename,
		MimeType:     fh.Header.Get("Content-Type"),
		DurationHint: hint,
	}
	id, err := s.jobs.Submit(s.baseCtx, src)
	if err != nil {
		internalErrorResponse(c, err)
		return
	}
	c.Header("Location", "/api/v1/jobs/"+id)
	successResponse(c, http.StatusAccepted, gin.H{"id": id, "state": "pending"})
}

// handleListJobs GET /api/v1/jobs
func (s *Server) handleListJobs(c *gin.Context) {
	successResponse(c, http.StatusOK, s.jobs.List())
}

// handleGetJob GET /api/v1/jobs/:id
func (s *Server) handleGetJob(c *gin.Context) {
	snap, err := s.jobs.Get(c.Param("id"))
	if err != nil {
		notFoundResponse(c, "job")
		return
	}
	successResponse(c, http.StatusOK, snap)
}

// handleCancelJob DELETE /api/v1/jobs/:id
// 已派发的切片继续完成，之后任务进入 cancelled
func (s *Server) handleCancelJob(c *gin.Context) {
	id := c.Param("id")
	switch err := s.jobs.Cancel(id); {
	case errors.Is(err, jobs.ErrNotFound):
		notFoundResponse(c, "job")
	case errors.Is(err, jobs.ErrFinished):
		errorResponse(c, http.StatusConflict, err.Error())
	case err != nil:
		internalErrorResponse(c, err)
	default:
		successResponse(c, http.StatusAccepted, gin.H{"id": id, "cancelling": true})
	}
}

type summaryRequest struct {
	Model       string   `json:"model"`
	Language    string   `json:"language"`
	Temperature *float32 `json:"temperature"`
	MaxTokens   int      `json:"max_tokens"`
}

// handleSummarize POST /api/v1/jobs/:id/summary
func (s *Server) handleSummarize(c *gin.Context) {
	if s.summarizer == nil {
		errorResponse(c, http.StatusServiceUnavailable, "summarization not configured")
		return
	}
	var req summaryRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequestResponse(c, "invalid JSON body: "+err.Error())
			return
		}
	}

	id := c.Param("id")
	transcript, err := s.jobs.Transcript(id)
	switch {
	case errors.Is(err, jobs.ErrNotFound):
		notFoundResponse(c, "job")
		return
	case err != nil:
		errorResponse(c, http.StatusConflict, err.Error())
		return
	case strings.TrimSpace(transcript) == "":
		errorResponse(c, http.StatusUnprocessableEntity, "transcript is empty")
		return
	}

	sum, err := s.summarizer.Summarize(c.Request.Context(), transcript, summary.Options{
		Model:       req.Model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Language:    req.Language,
	})
	if err != nil {
		s.logger.Warn("summary failed", "job_id", id, "error", err)
		errorResponseWithDetail(c, summaryStatus(err), "summary failed", gin.H{
			"code":    orcherr.CodeOf(err),
			"message": err.Error(),
		})
		return
	}
	if err := s.jobs.SetSummary(id, sum); err != nil {
		s.logger.Error("store summary failed", "job_id", id, "error", err)
	}
	successResponse(c, http.StatusOK, sum)
}

// summaryStatus maps provider failures to a response code. Credential and
// quota problems are upstream failures, not the caller's.
func summaryStatus(err error) int {
	switch orcherr.CodeOf(err) {
	case orcherr.TRANSCRIPT_TOO_LONG:
		return http.StatusRequestEntityTooLarge
	case orcherr.RATE_LIMITED:
		return http.StatusTooManyRequests
	default:
		return http.StatusBadGateway
	}
}
