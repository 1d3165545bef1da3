// Package broadcast fans live attendance events out to dashboard sessions.
//
// Publish only queues a message.  Flush, called once per loop tick, admits
// newly connected sessions, reaps closed ones and copies every queued
// message, in publish order, into each session's bounded send buffer.  A
// session whose buffer is full misses that message; nobody else waits.
package broadcast

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/BrandonDHaskell/Rollcall/internal/metrics"
	"github.com/BrandonDHaskell/Rollcall/internal/rollcall/types"
)

const (
	defaultBuffer = 32
	writeWait     = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The dashboard is served from the same host on a local network and
	// carries no credentials.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Conn is the subset of *websocket.Conn a session uses.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	ReadMessage() (messageType int, p []byte, err error)
	SetWriteDeadline(t time.Time) error
	Close() error
}

type Hub struct {
	logger  *slog.Logger
	metrics *metrics.Metrics
	buffer  int

	mu       sync.Mutex
	queue    [][]byte
	pending  []*session
	sessions map[string]*session
}

func NewHub(logger *slog.Logger, m *metrics.Metrics, buffer int) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Hub{
		logger:   logger,
		metrics:  m,
		buffer:   buffer,
		sessions: make(map[string]*session),
	}
}

// Publish encodes ev once and queues it for the next Flush.
func (h *Hub) Publish(ev types.LiveEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("failed to marshal live event", "error", err)
		return
	}
	h.mu.Lock()
	h.queue = append(h.queue, data)
	h.mu.Unlock()
}

// Flush admits pending sessions, reaps closed ones and hands every queued
// message to every live session.  It never blocks on a session.
func (h *Hub) Flush() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, s := range h.pending {
		h.sessions[s.id] = s
	}
	h.pending = h.pending[:0]

	for id, s := range h.sessions {
		if s.isClosed() {
			delete(h.sessions, id)
			h.logger.Info("dashboard session closed", "session_id", id)
		}
	}
	h.metrics.SetSessions(len(h.sessions))

	if len(h.queue) == 0 {
		return
	}
	for _, msg := range h.queue {
		for _, s := range h.sessions {
			select {
			case s.send <- msg:
			default:
				h.metrics.IncBroadcastDropped()
				h.logger.Warn("dropping live event for slow session", "session_id", s.id)
			}
		}
	}
	clear(h.queue)
	h.queue = h.queue[:0]
}

// Len reports the number of admitted sessions.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// Attach registers conn as a session, admitted at the next Flush, and
// starts its writer.
func (h *Hub) Attach(conn Conn) string {
	return h.attach(conn).id
}

func (h *Hub) attach(conn Conn) *session {
	s := &session{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, h.buffer),
		done: make(chan struct{}),
	}
	go s.writeLoop(h.logger)

	h.mu.Lock()
	h.pending = append(h.pending, s)
	h.mu.Unlock()

	h.logger.Info("dashboard session opened", "session_id", s.id)
	return s
}

// ServeHTTP upgrades the request and holds the connection open, reading
// only to notice when the client goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}

	s := h.attach(conn)
	defer s.close()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("websocket closed unexpectedly", "session_id", s.id, "error", err)
			}
			return
		}
	}
}

// Close ends every session.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, s := range h.pending {
		s.close()
	}
	for _, s := range h.sessions {
		s.close()
	}
	h.pending = nil
	h.sessions = make(map[string]*session)
	h.metrics.SetSessions(0)
}

type session struct {
	id   string
	conn Conn
	send chan []byte

	once sync.Once
	done chan struct{}
}

func (s *session) close() {
	s.once.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
}

func (s *session) isClosed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *session) writeLoop(logger *slog.Logger) {
	for {
		select {
		case <-s.done:
			return
		case msg := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				logger.Debug("websocket write failed", "session_id", s.id, "error", err)
				s.close()
				return
			}
		}
	}
}
