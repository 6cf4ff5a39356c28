package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ahmedhalloub17/tradingbot/internal/events"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// streamEvent is the envelope written to websocket clients.
type streamEvent struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// streamTopics are the bus events forwarded to dashboard clients.
var streamTopics = []events.Event{
	events.EventSignal,
	events.EventTradeOpened,
	events.EventTradeClosed,
	events.EventTradeStuck,
	events.EventRiskCircuit,
	events.EventEquitySnapshot,
}

func (s *Server) websocket(c *gin.Context) {
	if s.bus == nil {
		respondError(c, http.StatusServiceUnavailable, "event stream not available")
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	// Fan the topics into one channel; the forwarders exit when unsubscribe
	// closes their bus channel. A slow client drops frames rather than
	// backing up the bus.
	merged := make(chan streamEvent, 128)
	unsubs := make([]func(), 0, len(streamTopics))
	for _, topic := range streamTopics {
		ch, unsub := s.bus.Subscribe(topic, 64)
		unsubs = append(unsubs, unsub)
		go func(name string, ch <-chan any) {
			for msg := range ch {
				select {
				case merged <- streamEvent{Event: name, Data: msg}:
				default:
				}
			}
		}(string(topic), ch)
	}
	defer func() {
		for _, unsub := range unsubs {
			unsub()
		}
	}()

	// Read pump: inbound frames are discarded, but reading is what surfaces
	// the close handshake and dead peers.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case ev := <-merged:
			if err := conn.WriteJSON(ev); err != nil {
				s.log.Debug("websocket write failed", zap.Error(err))
				return
			}
		}
	}
}
