package chanscan

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// uiUpgrader mirrors the teacher's spectrum/chat websocket upgrade
// settings (user_spectrum_websocket.go and friends): generous buffers
// for bursty pushes, no per-message compression, origin check left open
// since this is a local control-plane feed rather than a public one.
var uiUpgrader = websocket.Upgrader{
	ReadBufferSize:    8192,
	WriteBufferSize:   65536,
	EnableCompression: false,
	CheckOrigin:       func(r *http.Request) bool { return true },
}

// UIServer pushes UIChannelPane snapshots to connected browser clients as
// JSON frames, the same upgrade-one-goroutine-per-connection shape as
// the teacher's spectrum websocket handler, trimmed of its IP-ban/rate-
// limit/session plumbing since this feed has no auth surface of its own
// (§6 describes it as a local control/monitoring interface).
type UIServer struct {
	Path string

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

// NewUIServer constructs a server that will serve upgrades at path.
func NewUIServer(path string) *UIServer {
	return &UIServer{Path: path, conns: make(map[*websocket.Conn]struct{})}
}

// Handler returns the http.Handler to mount at Path.
func (s *UIServer) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := uiUpgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("chanscan: ui websocket upgrade failed: %v", err)
			return
		}

		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		go s.readPump(conn)
	}
}

// readPump drains and discards client frames, just to notice
// disconnects (browsers don't send anything meaningful on this feed).
func (s *UIServer) readPump(conn *websocket.Conn) {
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// uiFrame is the JSON shape pushed on every Broadcast.
type uiFrame struct {
	Channels []Channel          `json:"channels"`
	Lockouts []LockoutPaneEntry `json:"lockouts,omitempty"`
	SentAt   time.Time          `json:"sent_at"`
}

// Broadcast pushes one frame to every connected client. Write failures
// close and drop that connection rather than blocking the others.
func (s *UIServer) Broadcast(channels []Channel, lockouts []LockoutPaneEntry) {
	frame := uiFrame{Channels: channels, Lockouts: lockouts, SentAt: time.Now()}
	data, err := json.Marshal(frame)
	if err != nil {
		log.Printf("chanscan: ui websocket marshal failed: %v", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Printf("chanscan: ui websocket write failed, dropping client: %v", err)
			conn.Close()
			delete(s.conns, conn)
		}
	}
}
