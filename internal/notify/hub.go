package notify

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"compliance-ledger/internal/domain"
	"compliance-ledger/internal/logging"
	"compliance-ledger/internal/observability"
)

// HubConfig configures websocket client handling.
type HubConfig struct {
	// SendBuffer is the number of messages queued per client before it is dropped.
	SendBuffer int
	// PingInterval is the interval for sending ping frames.
	PingInterval time.Duration
	// PongWait is how long a client may stay silent before it is dropped.
	// Defaults to twice PingInterval.
	PongWait time.Duration
	// WriteTimeout is the timeout for writing one frame.
	WriteTimeout time.Duration
}

// DefaultHubConfig returns default hub configuration.
func DefaultHubConfig() HubConfig {
	return HubConfig{
		SendBuffer:   256,
		PingInterval: 30 * time.Second,
		PongWait:     60 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// maxClientFrame bounds frames read from clients, which have nothing to send but control frames.
const maxClientFrame = 512

type client struct {
	conn   *websocket.Conn
	send   chan []byte
	filter domain.Address // zero: all events
	once   sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.send) })
}

// Hub streams events to connected websocket clients. A client may restrict the
// stream to events involving one address with the "address" query parameter.
// Slow clients whose buffer fills up are disconnected rather than blocking the relay.
type Hub struct {
	config   HubConfig
	upgrader websocket.Upgrader
	logger   *zap.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

// NewHub creates a hub. A nil config uses DefaultHubConfig.
func NewHub(config *HubConfig, logger *zap.Logger) *Hub {
	cfg := DefaultHubConfig()
	if config != nil {
		cfg = *config
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = 2 * cfg.PingInterval
	}
	return &Hub{
		config: cfg,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger:  logging.OrNop(logger).Named("hub"),
		clients: make(map[*client]struct{}),
	}
}

func (h *Hub) Name() string { return "websocket" }

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Publish queues events for every interested client.
func (h *Hub) Publish(_ context.Context, events []*domain.Event) error {
	frames := make([][]byte, len(events))
	for i, e := range events {
		b, err := encode(e)
		if err != nil {
			return err
		}
		frames[i] = b
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		for i, e := range events {
			if !c.filter.IsZero() && !e.Involves(c.filter) {
				continue
			}
			select {
			case c.send <- frames[i]:
			default:
				h.logger.Warn("dropping slow client", zap.Int("buffer", cap(c.send)))
				h.removeLocked(c)
			}
			if _, ok := h.clients[c]; !ok {
				break
			}
		}
	}
	return nil
}

// ServeHTTP upgrades the request and streams events until the client goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var filter domain.Address
	if s := r.URL.Query().Get("address"); s != "" {
		addr, err := domain.ParseAddress(s)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		filter = addr
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("upgrade failed", zap.Error(err))
		return
	}

	c := &client{conn: conn, send: make(chan []byte, h.config.SendBuffer), filter: filter}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	observability.DefaultMetrics.StreamClients.Inc()

	go h.writeLoop(c)
	h.readLoop(c)
}

// readLoop discards client frames and unregisters the client when the
// connection ends or no pong arrives within PongWait.
func (h *Hub) readLoop(c *client) {
	defer func() {
		h.mu.Lock()
		h.removeLocked(c)
		h.mu.Unlock()
	}()

	c.conn.SetReadLimit(maxClientFrame)
	_ = c.conn.SetReadDeadline(time.Now().Add(h.config.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(h.config.PongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(c *client) {
	ticker := time.NewTicker(h.config.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) removeLocked(c *client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	c.close()
	observability.DefaultMetrics.StreamClients.Dec()
}

// Close disconnects every client and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		h.removeLocked(c)
	}
}
