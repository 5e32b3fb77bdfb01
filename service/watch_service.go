package service

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tieubaoca/cramcortex-be/types"
)

// WatchService streams pipeline status transitions for one document over a
// websocket until the run reaches a terminal stage or the client goes away.
type WatchService struct {
	analyzer *AnalyzeService
	upgrader websocket.Upgrader
}

func NewWatchService(analyzer *AnalyzeService) *WatchService {
	return &WatchService{
		analyzer: analyzer,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins (adjust for production)
			},
		},
	}
}

func (s *WatchService) HandleWatch(w http.ResponseWriter, r *http.Request, documentID string) {
	updates, err := s.analyzer.Subscribe(documentID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println("Upgrade error:", err)
		return
	}
	defer conn.Close()

	conn.SetReadLimit(4 * 1024)
	conn.SetReadDeadline(time.Now().Add(60 * time.Second))

	// read loop: pings keep the connection alive, a close frame or read
	// error ends the stream. Writes stay on the main loop.
	pings := make(chan struct{}, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					log.Printf("WebSocket read error: %v", err)
				}
				return
			}
			conn.SetReadDeadline(time.Now().Add(60 * time.Second))

			var msg types.WebSocketResponse
			if err := json.Unmarshal(data, &msg); err != nil {
				continue
			}
			if msg.Type == types.TypeWebsocketPing {
				select {
				case pings <- struct{}{}:
				default: // a pong is already pending
				}
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case <-pings:
			pongRes := types.WebSocketResponse{Type: types.TypeWebsocketPong}
			if err := conn.WriteJSON(pongRes); err != nil {
				log.Println("Write error:", err)
				return
			}
		case status, ok := <-updates:
			if !ok {
				final := types.WebSocketResponse{Type: types.TypeWebsocketCompleted}
				_ = conn.WriteJSON(final)
				return
			}
			msgType := types.TypeWebsocketProgress
			if status.Error != "" {
				msgType = types.TypeWebsocketError
			}
			msg := types.WebSocketResponse{Type: msgType, Payload: status}
			if err := conn.WriteJSON(msg); err != nil {
				log.Println("Write error:", err)
				return
			}
		}
	}
}
