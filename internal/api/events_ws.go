package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/freeminer/freeminer-sub007/internal/eventbus"
)

const (
	wsWriteTimeout = 5 * time.Second
	wsPingPeriod   = 30 * time.Second
	wsQueueSize    = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 64 * 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// streamEvent - событие шины в виде для websocket-клиента
type streamEvent struct {
	ID       string      `json:"id"`
	Type     string      `json:"type"`
	Source   string      `json:"source"`
	Time     time.Time   `json:"ts"`
	Reliable bool        `json:"reliable"`
	Data     interface{} `json:"data"`
}

// handleEvents транслирует исходящие события окружения в websocket.
// Параметр types (через запятую) ограничивает типы событий.
func (s *Server) handleEvents(c *gin.Context) {
	if s.bus == nil {
		c.JSON(http.StatusServiceUnavailable, GenericResponse{Success: false, Message: "шина событий не настроена"})
		return
	}

	var filter eventbus.Filter
	if types := c.Query("types"); types != "" {
		filter.Types = strings.Split(types, ",")
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade: %v", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	out := make(chan streamEvent, wsQueueSize)
	sub, err := s.bus.Subscribe(ctx, filter, func(_ context.Context, ev *eventbus.Envelope) {
		var data interface{}
		if err := ev.Decode(&data); err != nil {
			data = nil
		}
		select {
		case out <- streamEvent{ID: ev.ID, Type: ev.EventType, Source: ev.Source, Time: ev.Timestamp, Reliable: ev.Reliable, Data: data}:
		default:
			// Медленный клиент теряет события
		}
	})
	if err != nil {
		s.logger.Error("subscribe events: %v", err)
		return
	}
	defer sub.Unsubscribe()

	// Читатель нужен только для обнаружения закрытия соединения
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-out:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
				return
			}
		}
	}
}
