package publish

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// SnapshotFunc returns the state sent as the state_init frame.
type SnapshotFunc func() any

// Server upgrades HTTP requests into hub clients.
type Server struct {
	logger   *slog.Logger
	hub      *Hub
	snapshot SnapshotFunc
}

// NewServer wires the websocket handler to hub. snapshot may be nil.
func NewServer(hub *Hub, snapshot SnapshotFunc, logger *slog.Logger) *Server {
	return &Server{logger: logger, hub: hub, snapshot: snapshot}
}

// Register mounts the handler on mux at path.
func (s *Server) Register(mux *http.ServeMux, path string) {
	if mux == nil {
		return
	}
	mux.HandleFunc(path, s.handleEvents)
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleEvents queues state_init before registering the client, so the
// snapshot always precedes the first broadcast the client sees.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", "error", err)
		return
	}

	client := newClient(s.hub, conn, r.RemoteAddr, s.logger)

	if s.snapshot != nil {
		now := time.Now().UTC()
		msg, err := json.Marshal(Envelope{Type: TypeStateInit, Ts: &now, Data: s.snapshot()})
		if err != nil {
			s.logger.Warn("ws snapshot marshal failed", "error", err)
		} else {
			client.send <- msg
		}
	}

	s.hub.addClient(client)

	// The pumps outlive the handler; the hub and socket errors end them.
	go client.writePump()
	go client.readPump()
}
