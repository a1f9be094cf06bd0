package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/GoSim-25-26J-441/adsec-backend/internal/assessment/domain"
	"github.com/gin-gonic/gin"
)

const keepAliveInterval = 15 * time.Second

// StreamEvents streams progress events of an assessment using Server-Sent Events (SSE)
func (h *Handler) StreamEvents(c *gin.Context) {
	id := c.Param("id")
	ctx := c.Request.Context()

	a, err := h.assessments.Get(ctx, id)
	if err != nil {
		respondError(c, err, "failed to get assessment")
		return
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming unsupported"})
		return
	}

	// Subscribe before sending the initial state so no transition is missed
	var events <-chan domain.ProgressEvent
	if h.events != nil {
		sub, err := h.events.Subscribe(ctx, id)
		if err != nil {
			respondError(c, err, "failed to subscribe to events")
			return
		}
		defer sub.Close()
		events = sub.C
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no") // nginx: disable buffering

	writeEvent(c, "initial", gin.H{"assessment": a, "running": h.runs != nil && h.runs.Active(id)})
	flusher.Flush()

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			fmt.Fprint(c.Writer, ": keep-alive\n\n")
			flusher.Flush()

		case ev, ok := <-events:
			if !ok {
				return
			}
			writeEvent(c, ev.Type, ev)
			flusher.Flush()
		}
	}
}

func writeEvent(c *gin.Context, name string, payload any) {
	data, _ := json.Marshal(payload)
	fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", name, string(data))
}
