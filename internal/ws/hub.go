package ws

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/obsidianstack/hydrowatch/internal/api"
)

// Event names carried in Message.Event.
const (
	EventSnapshot = "snapshot"
	EventUpdate   = "update"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = pongWait * 9 / 10
	maxInbound   = 512
	queueDepth   = 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Message is the frame sent to subscribers. Seq increases with every
// distinct snapshot the hub has produced.
type Message struct {
	Event string               `json:"event"`
	Seq   uint64               `json:"seq"`
	Data  api.SnapshotResponse `json:"data"`
}

// Hub streams status snapshots to websocket subscribers. A subscriber gets
// the full snapshot on connect and an update whenever an adapter's status
// changes between two polls of the reader.
type Hub struct {
	reader   *api.Reader
	interval time.Duration
	logger   *slog.Logger

	seq  atomic.Uint64
	last []byte // adapters of the last broadcast; only touched by Run

	mu   sync.Mutex
	subs map[*subscriber]struct{}
}

type subscriber struct {
	conn   *websocket.Conn
	frames chan []byte
	quit   chan struct{}
	once   sync.Once
}

func (s *subscriber) stop() { s.once.Do(func() { close(s.quit) }) }

// New returns a Hub polling rd every interval.
func New(rd *api.Reader, interval time.Duration, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		reader:   rd,
		interval: interval,
		logger:   logger.With("component", "ws"),
		subs:     make(map[*subscriber]struct{}),
	}
}

// Run polls the reader until ctx is cancelled, then disconnects every
// subscriber.
func (h *Hub) Run(ctx context.Context) {
	t := time.NewTicker(h.interval)
	defer t.Stop()
	defer h.disconnectAll()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			h.poll(ctx)
		}
	}
}

// ServeHTTP upgrades the request and streams frames until either side
// closes the connection.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("ws: upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}

	s := &subscriber{
		conn:   conn,
		frames: make(chan []byte, queueDepth),
		quit:   make(chan struct{}),
	}
	snap := api.BuildSnapshot(r.Context(), h.reader)
	if frame, err := json.Marshal(Message{Event: EventSnapshot, Seq: h.seq.Load(), Data: snap}); err == nil {
		s.frames <- frame
	}

	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()

	go h.write(s)
	h.read(s)
	h.drop(s)
}

// Count returns the number of connected subscribers.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// poll builds a snapshot and fans it out when the adapters differ from the
// previous poll.
func (h *Hub) poll(ctx context.Context) {
	snap := api.BuildSnapshot(ctx, h.reader)
	adapters, err := json.Marshal(snap.Adapters)
	if err != nil {
		h.logger.Warn("ws: encode snapshot failed", "err", err)
		return
	}
	if bytes.Equal(adapters, h.last) {
		return
	}
	h.last = adapters

	frame, err := json.Marshal(Message{Event: EventUpdate, Seq: h.seq.Add(1), Data: snap})
	if err != nil {
		h.logger.Warn("ws: encode snapshot failed", "err", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs {
		select {
		case s.frames <- frame:
		default:
			h.logger.Debug("ws: subscriber too slow, disconnecting", "remote", s.conn.RemoteAddr().String())
			delete(h.subs, s)
			s.stop()
		}
	}
}

func (h *Hub) drop(s *subscriber) {
	h.mu.Lock()
	delete(h.subs, s)
	h.mu.Unlock()
	s.stop()
}

func (h *Hub) disconnectAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs {
		delete(h.subs, s)
		s.stop()
	}
}

// write owns all writes to the connection.
func (h *Hub) write(s *subscriber) {
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()
	defer s.conn.Close()

	send := func(kind int, data []byte) bool {
		s.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck
		return s.conn.WriteMessage(kind, data) == nil
	}

	for {
		select {
		case frame := <-s.frames:
			if !send(websocket.TextMessage, frame) {
				s.stop()
				return
			}
		case <-ping.C:
			if !send(websocket.PingMessage, nil) {
				s.stop()
				return
			}
		case <-s.quit:
			send(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
			return
		}
	}
}

// read discards inbound frames, keeping the pong deadline alive, and returns
// once the peer goes away or the subscriber is stopped.
func (h *Hub) read(s *subscriber) {
	s.conn.SetReadLimit(maxInbound)
	s.conn.SetReadDeadline(time.Now().Add(pongWait)) //nolint:errcheck
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}
