package api

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/houzhh15/meetscribe/cmd/server/internal/jobs"
	"github.com/houzhh15/meetscribe/cmd/server/internal/orchestrator"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
)

// progressMessage is one frame of the progress stream.
type progressMessage struct {
	JobID string `json:"job_id"`
	orchestrator.ProgressState
	Percent float64 `json:"percent"`
	Final   bool    `json:"final"`
}

// handleProgressWS GET /api/v1/jobs/:id/progress/ws
// 推送进度快照，任务结束后发送 final 帧并正常关闭连接
func (s *Server) handleProgressWS(c *gin.Context) {
	id := c.Param("id")
	updates, unsubscribe, err := s.jobs.Subscribe(id)
	if err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			notFoundResponse(c, "job")
			return
		}
		internalErrorResponse(c, err)
		return
	}
	defer unsubscribe()

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error
		s.logger.Warn("websocket upgrade failed", "job_id", id, "error", err)
		return
	}
	defer conn.Close()

	// reader: handles pong and notices the client going away
	closed := make(chan struct{})
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	var last orchestrator.ProgressState
	for {
		select {
		case p, ok := <-updates:
			if !ok {
				s.writeFinal(conn, id, last)
				return
			}
			last = p
			msg := progressMessage{JobID: id, ProgressState: p, Percent: p.Percent(), Final: p.Phase.Terminal()}
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-closed:
			return
		case <-c.Request.Context().Done():
			return
		}
	}
}

// writeFinal closes the stream. The terminal frame is sent first when the
// stream ended without one.
func (s *Server) writeFinal(conn *websocket.Conn, id string, last orchestrator.ProgressState) {
	conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if !last.Phase.Terminal() {
		if snap, err := s.jobs.Get(id); err == nil && snap.State.Terminal() {
			p := snap.Progress
			p.Phase = snap.State
			conn.WriteJSON(progressMessage{JobID: id, ProgressState: p, Percent: p.Percent(), Final: true})
		}
	}
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "job finished"))
}
