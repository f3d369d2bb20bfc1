// Package pubsub implements component I: a long-lived Redis subscriber
// that forwards broker messages onto connected WebSocket clients, and the
// thin publish side workers use to emit them (§4.I).
package pubsub

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = (pongWait * 9) / 10
	sendBuffer   = 64
)

var upgrader = websocket.Upgrader{
	HandshakeTimeout: 10 * time.Second,
	CheckOrigin:      func(_ *http.Request) bool { return true },
}

// Publisher is the narrow capability workers need: publish a JSON payload
// to a named broker channel (§4.I "workers call a synchronous
// publish(channel, payload)"). Workers use their own broker connection,
// distinct from the subscriber's.
type Publisher struct {
	rdb *redis.Client
}

// NewPublisher wraps a Redis client for the worker side of the channel.
func NewPublisher(rdb *redis.Client) *Publisher { return &Publisher{rdb: rdb} }

// Publish marshals payload as JSON and publishes it to channel.
func (p *Publisher) Publish(ctx context.Context, channel string, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return p.rdb.Publish(ctx, channel, b).Err()
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub is a per-channel fan-out registry: one Redis subscription forwarded
// to N connected WebSocket clients. Grounded on the teacher's
// listenparty hub (register/unregister/broadcast channels, ping/pong
// keepalive via a dedicated write pump) generalized from one hub per
// listen-party session to one hub per broker channel.
type Hub struct {
	channel    string
	mu         sync.RWMutex
	clients    map[*client]struct{}
	register   chan *client
	unregister chan *client
	broadcast  chan []byte
	done       chan struct{}
}

func newHub(channel string) *Hub {
	return &Hub{
		channel:    channel,
		clients:    make(map[*client]struct{}),
		register:   make(chan *client, 8),
		unregister: make(chan *client, 8),
		broadcast:  make(chan []byte, 64),
		done:       make(chan struct{}),
	}
}

func (h *Hub) run() {
	for {
		select {
		case <-h.done:
			return
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			h.mu.Unlock()
		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
				}
			}
			h.mu.RUnlock()
		}
	}
}

func (h *Hub) shutdown() {
	select {
	case <-h.done:
	default:
		close(h.done)
	}
}

// Subscriber owns one or more Hubs, each backed by its own Redis
// subscription, and the chi-agnostic http.HandlerFunc that upgrades a
// client into one.
type Subscriber struct {
	rdb *redis.Client

	mu   sync.Mutex
	hubs map[string]*Hub
}

// NewSubscriber wraps a Redis client dedicated to the subscribe side —
// kept distinct from the worker's publish connection per §4.I.
func NewSubscriber(rdb *redis.Client) *Subscriber {
	return &Subscriber{rdb: rdb, hubs: make(map[string]*Hub)}
}

// HubFor returns (creating if necessary) the Hub for channel, starting its
// Redis subscription and forwarding goroutine the first time it is asked
// for.
func (s *Subscriber) HubFor(ctx context.Context, channel string) *Hub {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok := s.hubs[channel]; ok {
		return h
	}
	h := newHub(channel)
	s.hubs[channel] = h
	go h.run()
	go s.forward(ctx, channel, h)
	return h
}

func (s *Subscriber) forward(ctx context.Context, channel string, h *Hub) {
	sub := s.rdb.Subscribe(ctx, channel)
	defer sub.Close()
	ch := sub.Channel()
	for {
		select {
		case <-h.done:
			return
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			select {
			case h.broadcast <- []byte(msg.Payload):
			default:
				slog.Warn("pubsub: broadcast channel full, dropping message", "channel", channel)
			}
		}
	}
}

// ServeWS upgrades r into a client of channel's hub, running until the
// connection closes.
func (s *Subscriber) ServeWS(w http.ResponseWriter, r *http.Request, channel string) {
	h := s.HubFor(r.Context(), channel)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}
	h.register <- c

	go c.writePump()
	c.readPump()

	h.unregister <- c
}

func (c *client) readPump() {
	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Shutdown stops every hub's Redis subscription and fan-out loop; it does
// not close connected clients' send channels or connections. Intended for server shutdown, not per-session
// cleanup (a Hub outlives any single websocket connection).
func (s *Subscriber) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, h := range s.hubs {
		h.shutdown()
	}
}
