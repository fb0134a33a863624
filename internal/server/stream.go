package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const streamHeartbeatInterval = 15 * time.Second

type streamEventPayload struct {
	Timestamp int64 `json:"ts"`
}

// handleAlarmStream serves the long-lived SSE connection delivering named
// alarm events. Browsers cannot set headers on an EventSource, so the bearer
// token arrives as the access_token query parameter.
func (h *httpHandler) handleAlarmStream(c *gin.Context) {
	token := c.Query("access_token")
	claims, err := h.tokens.Validate(token)
	if err != nil {
		h.logger.Warn("stream token validation failed", zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	userID := claims.Subject

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming_unsupported"})
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := c.Request.Context()
	stream, cleanup := h.realtime.Subscribe(ctx, userID)
	defer cleanup()

	heartbeat := time.NewTicker(streamHeartbeatInterval)
	defer heartbeat.Stop()

	h.logger.Info("alarm stream opened", zap.String("user_id", userID))
	for {
		select {
		case <-ctx.Done():
			h.logger.Info("alarm stream closed", zap.String("user_id", userID))
			return
		case message, open := <-stream:
			if !open {
				return
			}
			if err := writeStreamEvent(c.Writer, flusher, message.EventType, message.Timestamp); err != nil {
				return
			}
		case now := <-heartbeat.C:
			if err := writeStreamEvent(c.Writer, flusher, realtimeEventHeartbeat, now); err != nil {
				return
			}
		}
	}
}

func writeStreamEvent(w http.ResponseWriter, flusher http.Flusher, eventType string, timestamp time.Time) error {
	data, err := json.Marshal(streamEventPayload{Timestamp: timestamp.UTC().Unix()})
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", eventType, data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
