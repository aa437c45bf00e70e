package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/darkroomhq/darkroom-backend/internal/http/response"
	"github.com/darkroomhq/darkroom-backend/internal/platform/logger"
	"github.com/darkroomhq/darkroom-backend/internal/realtime"
)

type EventsHandler struct {
	log *logger.Logger
	hub *realtime.SSEHub
}

func NewEventsHandler(log *logger.Logger, hub *realtime.SSEHub) *EventsHandler {
	return &EventsHandler{
		log: log.With("handler", "EventsHandler"),
		hub: hub,
	}
}

// GET /events/jobs
func (h *EventsHandler) StreamJobs(c *gin.Context) {
	if h.hub == nil {
		response.RespondError(c, http.StatusServiceUnavailable, "events_disabled",
			errors.New("event stream is not configured"))
		return
	}

	client := h.hub.NewSSEClient(uuid.New())
	h.hub.AddChannel(client, realtime.ChannelJobs)
	h.log.Debug("SSE stream open", "client_id", client.ID)

	h.hub.ServeHTTP(c.Writer, c.Request, client)

	h.hub.CloseClient(client)
	h.log.Debug("SSE stream closed", "client_id", client.ID)
}
