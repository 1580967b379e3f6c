package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"streamchat/internal/app"
	"streamchat/internal/stream"
	"streamchat/internal/transport/http/response"
)

// StreamHandler bridges the in-process hub to SSE clients. One
// subscription per connection; the client re-subscribes after an
// error event.
type StreamHandler struct {
	chatService *app.ChatService
	hub         *stream.Hub
}

func NewStreamHandler(chatService *app.ChatService, hub *stream.Hub) *StreamHandler {
	return &StreamHandler{chatService: chatService, hub: hub}
}

func (h *StreamHandler) Subscribe(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		return
	}

	sessionID := c.Query("session_id")
	if sessionID == "" {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid session_id")
		return
	}

	if _, err := h.chatService.GetSession(userID, sessionID); err != nil {
		switch {
		case errors.Is(err, app.ErrSessionNotFound):
			response.Error(c, http.StatusNotFound, response.CodeSessionNotFound, err.Error())
		default:
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "get session failed")
		}
		return
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "stream not supported")
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	sub := h.hub.Subscribe(sessionID)
	defer sub.Cancel()

	clientGone := c.Request.Context().Done()
	for {
		select {
		case <-clientGone:
			return
		case ev, open := <-sub.Events():
			if !open {
				if err := sub.Err(); err != nil {
					h.write(c, flusher, "error", sanitizeSSE(err.Error()))
				} else {
					h.write(c, flusher, "done", "")
				}
				return
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			if !h.write(c, flusher, "message", string(payload)) {
				return
			}
		}
	}
}

func (h *StreamHandler) write(c *gin.Context, flusher http.Flusher, event, data string) bool {
	if _, err := c.Writer.Write([]byte("event: " + event + "\ndata: " + data + "\n\n")); err != nil {
		return false
	}
	flusher.Flush()
	return true
}
