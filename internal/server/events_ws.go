package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/medley-tv/medley/internal/events"
	"github.com/medley-tv/medley/internal/logger"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
	wsSendBuffer = 64
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleEventSocket streams bus events over a WebSocket. The filter
// comes from query params: types and sources are comma-separated
// lists, min_priority drops everything below that level. Each
// connection holds its own bus subscription for its lifetime.
func (s *Server) handleEventSocket(c *gin.Context) {
	if s.eventBus == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "event bus not running"})
		return
	}

	filter, err := eventFilterFromQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	conn, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written the error response.
		return
	}

	send := make(chan events.Event, wsSendBuffer)
	sub, err := s.eventBus.Subscribe(c.Request.Context(), filter, func(event events.Event) error {
		select {
		case send <- event:
		default:
			// Slow consumer. Drop the event rather than stall the bus.
		}
		return nil
	})
	if err != nil {
		conn.Close()
		return
	}
	logger.Debug("event socket connected: %s (sub %s)", c.ClientIP(), sub.ID)

	go eventSocketWriter(conn, send)
	s.eventSocketReader(conn, sub.ID)
}

// eventSocketReader blocks until the client goes away, then tears the
// subscription down. Clients send nothing we care about; reads exist
// to notice the close and answer pings.
func (s *Server) eventSocketReader(conn *websocket.Conn, subID string) {
	defer func() {
		if err := s.eventBus.Unsubscribe(subID); err != nil {
			logger.Warn("event socket unsubscribe %s: %v", subID, err)
		}
		conn.Close()
		logger.Debug("event socket closed (sub %s)", subID)
	}()

	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// eventSocketWriter drains the send channel into the connection and
// pings on an interval so half-open connections die instead of
// leaking. A write error ends the writer; closing the connection then
// unblocks the reader.
func eventSocketWriter(conn *websocket.Conn, send <-chan events.Event) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case event := <-send:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(event); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func eventFilterFromQuery(c *gin.Context) (events.EventFilter, error) {
	var filter events.EventFilter

	for _, raw := range strings.Split(c.Query("types"), ",") {
		if raw = strings.TrimSpace(raw); raw != "" {
			filter.Types = append(filter.Types, events.EventType(raw))
		}
	}
	for _, raw := range strings.Split(c.Query("sources"), ",") {
		if raw = strings.TrimSpace(raw); raw != "" {
			filter.Sources = append(filter.Sources, raw)
		}
	}
	if raw := c.Query("min_priority"); raw != "" {
		level, err := strconv.Atoi(raw)
		if err != nil {
			return filter, errors.New("min_priority must be an integer")
		}
		priority := events.EventPriority(level)
		filter.Priority = &priority
	}

	return filter, nil
}
