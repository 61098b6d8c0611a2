package api

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"straddle-core/internal/events"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// envelope is one websocket frame.
type envelope struct {
	Event events.Event `json:"event"`
	Data  any          `json:"data"`
}

// streamTopics picks the topics for a client. Price ticks are opt-in with ?ticks=1.
func streamTopics(withTicks bool) []events.Event {
	out := make([]events.Event, 0, len(events.AllEvents))
	for _, e := range events.AllEvents {
		if e == events.EventPriceTick && !withTicks {
			continue
		}
		out = append(out, e)
	}
	return out
}

func (s *Server) websocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("api: ws upgrade error: %v", err)
		return
	}
	defer conn.Close()

	if s.Bus == nil {
		_ = conn.WriteJSON(map[string]string{"error": "bus not ready"})
		return
	}

	topics := streamTopics(c.Query("ticks") == "1")
	out := make(chan envelope, 256)
	done := make(chan struct{})
	var wg sync.WaitGroup
	for _, topic := range topics {
		stream, unsub := s.Bus.Subscribe(topic, 100)
		wg.Add(1)
		go func(topic events.Event, stream <-chan any, unsub func()) {
			defer wg.Done()
			defer unsub()
			for {
				select {
				case <-done:
					return
				case msg, ok := <-stream:
					if !ok {
						return
					}
					select {
					case out <- envelope{Event: topic, Data: msg}:
					case <-done:
						return
					}
				}
			}
		}(topic, stream, unsub)
	}
	defer wg.Wait()
	defer close(done)

	// Reader detects client close.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.NextReader(); err != nil {
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
		case msg := <-out:
			if err := conn.WriteJSON(msg); err != nil {
				log.Printf("api: ws write error: %v", err)
				return
			}
		}
	}
}
