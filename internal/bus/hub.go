package bus

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	// writeWait bounds a single frame write to a subscriber.
	writeWait = 10 * time.Second

	// pongWait is how long a subscriber may go silent before being
	// dropped; pings go out at a fraction of it.
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// sendBuffer is the per-subscriber outbound queue. A subscriber that
	// falls this far behind is disconnected rather than allowed to stall
	// the broadcast path.
	sendBuffer = 16
)

// Hub fans broadcast messages out to websocket subscribers.
type Hub interface {
	// Start prepares the hub for subscribers.
	Start(ctx context.Context) error

	// Stop disconnects all subscribers.
	Stop() error

	// Publish broadcasts a message to every connected subscriber.
	Publish(msg *Message)

	// Handler returns the HTTP handler that upgrades subscribers.
	Handler() http.Handler

	// SubscriberCount reports how many subscribers are connected.
	SubscriberCount() int
}

type subscriber struct {
	conn *websocket.Conn
	send chan []byte
}

type hub struct {
	log      logrus.FieldLogger
	upgrader websocket.Upgrader

	mu          sync.Mutex
	subscribers map[*subscriber]struct{}
	running     bool
}

// NewHub creates a new broadcast hub.
func NewHub(log logrus.FieldLogger) Hub {
	return &hub{
		log: log.WithField("component", "bus"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Subscribers are local dashboards and tooling, not browsers
			// on foreign origins.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		subscribers: make(map[*subscriber]struct{}),
	}
}

func (h *hub) Start(_ context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.running = true

	h.log.Info("Message hub started")

	return nil
}

func (h *hub) Stop() error {
	h.mu.Lock()
	subs := make([]*subscriber, 0, len(h.subscribers))

	for sub := range h.subscribers {
		subs = append(subs, sub)
	}

	h.subscribers = make(map[*subscriber]struct{})
	h.running = false
	h.mu.Unlock()

	for _, sub := range subs {
		close(sub.send)
	}

	h.log.Info("Message hub stopped")

	return nil
}

func (h *hub) Publish(msg *Message) {
	raw, err := json.Marshal(msg)
	if err != nil {
		h.log.WithError(err).WithField("type", msg.Type).Error("Dropping unencodable message")

		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for sub := range h.subscribers {
		select {
		case sub.send <- raw:
		default:
			// Slow consumer: disconnect it instead of blocking the rest.
			delete(h.subscribers, sub)
			close(sub.send)
		}
	}

	h.log.WithFields(logrus.Fields{
		"type":        msg.Type,
		"subscribers": len(h.subscribers),
	}).Debug("Message published")
}

func (h *hub) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.mu.Lock()
		running := h.running
		h.mu.Unlock()

		if !running {
			http.Error(w, "hub not running", http.StatusServiceUnavailable)

			return
		}

		conn, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.log.WithError(err).Warn("Websocket upgrade failed")

			return
		}

		sub := &subscriber{
			conn: conn,
			send: make(chan []byte, sendBuffer),
		}

		h.mu.Lock()
		h.subscribers[sub] = struct{}{}
		h.mu.Unlock()

		h.log.WithField("remote", r.RemoteAddr).Debug("Subscriber connected")

		go h.writePump(sub)
		go h.readPump(sub)
	})
}

func (h *hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.subscribers)
}

func (h *hub) drop(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.subscribers[sub]; ok {
		delete(h.subscribers, sub)
		close(sub.send)
	}
}

// writePump pushes queued frames and keepalive pings to one subscriber.
func (h *hub) writePump(sub *subscriber) {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		_ = sub.conn.Close()
	}()

	for {
		select {
		case raw, ok := <-sub.send:
			if !ok {
				_ = sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = sub.conn.WriteMessage(websocket.CloseMessage, []byte{})

				return
			}

			_ = sub.conn.SetWriteDeadline(time.Now().Add(writeWait))

			if err := sub.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				h.drop(sub)

				return
			}
		case <-ticker.C:
			_ = sub.conn.SetWriteDeadline(time.Now().Add(writeWait))

			if err := sub.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.drop(sub)

				return
			}
		}
	}
}

// readPump discards inbound frames; the stream is broadcast-only, but
// reading is what surfaces pongs and disconnects.
func (h *hub) readPump(sub *subscriber) {
	defer h.drop(sub)

	sub.conn.SetReadLimit(1024)
	_ = sub.conn.SetReadDeadline(time.Now().Add(pongWait))
	sub.conn.SetPongHandler(func(string) error {
		return sub.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := sub.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Compile-time interface compliance check.
var _ Hub = (*hub)(nil)
