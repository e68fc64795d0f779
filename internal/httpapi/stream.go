package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nxclaw/nxclaw/internal/eventbus"
)

// eventsStream serves a Server-Sent Events feed of every bus event emitted
// after the client connects, with a ": ping" comment line on the
// documented keepalive cadence so idle connections are not reaped by
// intermediate proxies.
func (h *handlers) eventsStream(c *gin.Context) {
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(http.StatusOK)

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		return
	}

	events := make(chan eventbus.Event, 64)
	unsubscribe := h.deps.Bus.On(func(ev eventbus.Event) {
		select {
		case events <- ev:
		default:
			// slow client; drop rather than block the emitter
		}
	})
	defer unsubscribe()

	ticker := time.NewTicker(eventStreamPingInterval)
	defer ticker.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fmt.Fprint(c.Writer, ": ping\n\n")
			flusher.Flush()
		case ev := <-events:
			data, err := json.Marshal(ev)
			if err != nil {
				h.logger.Warn("failed to marshal event for stream", zap.Error(err))
				continue
			}
			fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", ev.Type, data)
			flusher.Flush()
		}
	}
}
