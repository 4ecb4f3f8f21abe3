package api

import (
	"net/http"
	"time"

	"asset-rebalancer/internal/events"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// streamTopics are forwarded to websocket clients.
var streamTopics = []events.Event{
	events.EventAssetsBalanced,
	events.EventPriceTick,
	events.EventOrderFilled,
}

type wsMessage struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// wsFrame wraps a bus payload; ok is false for payloads filtered out for
// this client.
func wsFrame(payload any, owner string) (wsMessage, bool) {
	switch p := payload.(type) {
	case events.AssetsBalanced:
		if owner != "" && p.Owner != owner {
			return wsMessage{}, false
		}
		return wsMessage{Type: "assets_balanced", Data: p}, true
	case events.PriceTick:
		return wsMessage{Type: "price_tick", Data: p}, true
	case events.OrderUpdate:
		if owner != "" {
			return wsMessage{}, false
		}
		return wsMessage{Type: "order_filled", Data: p}, true
	default:
		return wsMessage{}, false
	}
}

// websocket streams rebalance outcomes and price ticks. ?owner= narrows
// AssetsBalanced to one wallet and drops fills.
func (s *Server) websocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn().Err(err).Msg("ws upgrade failed")
		return
	}
	defer conn.Close()

	if s.Bus == nil {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"bus not ready"}`))
		return
	}
	owner := c.Query("owner")

	stream, unsub := s.Bus.SubscribeMany(streamTopics, 100)
	defer unsub()

	// reader detects client close
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(30 * time.Second)
	defer ping.Stop()
	for {
		select {
		case <-closed:
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		case msg, ok := <-stream:
			if !ok {
				return
			}
			frame, send := wsFrame(msg, owner)
			if !send {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(frame); err != nil {
				log.Debug().Err(err).Msg("ws write failed")
				return
			}
		}
	}
}
