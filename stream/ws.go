package stream

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketRelay is the secondary framing spec.md's transport section
// allows alongside SSE: one text frame per event, `{"type": ..., "data":
// ...}`, useful for clients that want a bidirectional socket (e.g. to
// send a cancel message) instead of a one-way event-stream response.
type WebSocketRelay struct {
	Upgrader websocket.Upgrader
}

type wireFrame struct {
	Type EventType `json:"type"`
	Data any       `json:"data"`
}

func (rl *WebSocketRelay) Serve(w http.ResponseWriter, r *http.Request, events <-chan Event, cancel context.CancelFunc) error {
	conn, err := rl.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	ping := time.NewTicker(15 * time.Second)
	defer ping.Stop()

	for {
		select {
		case <-done:
			return nil
		case <-r.Context().Done():
			cancel()
			return r.Context().Err()
		case <-ping.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				cancel()
				return err
			}
		case event, ok := <-events:
			if !ok {
				return nil
			}
			frame, err := json.Marshal(wireFrame{Type: event.Type, Data: event.Data})
			if err != nil {
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				cancel()
				return err
			}
		}
	}
}
