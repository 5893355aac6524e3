// Package feed broadcasts live transcription events to websocket clients.
//
// A [Hub] is an [http.Handler] that upgrades each request to a websocket and
// streams JSON [Event] values to it: interim previews while an utterance is
// being spoken and the corrected phrase once it is finalized. Publishing
// never blocks the transcription path; a client that cannot keep up is
// disconnected.
package feed

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/callscribe/internal/observe"
	"github.com/MrWong99/callscribe/internal/segment"
)

// Event types.
const (
	TypePreview = "preview"
	TypePhrase  = "phrase"
)

const (
	defaultBuffer       = 32
	defaultWriteTimeout = 5 * time.Second
)

// Event is one message on the feed.
type Event struct {
	// Type is [TypePreview] or [TypePhrase].
	Type string `json:"type"`

	// Text is the transcription. For phrases it is the corrected text.
	Text string `json:"text"`

	// At is when the utterance started.
	At time.Time `json:"at"`

	// Reason is why a phrase was finalized. Empty for previews.
	Reason string `json:"reason,omitempty"`

	// AudioSeconds is the length of the decoded audio.
	AudioSeconds float64 `json:"audio_seconds"`
}

// PhraseEvent builds the event for a finalized phrase carrying text, which
// may differ from p.Text after vocabulary correction.
func PhraseEvent(p segment.Phrase, text string) Event {
	return Event{
		Type:         TypePhrase,
		Text:         text,
		At:           p.StartedAt,
		Reason:       p.Reason.String(),
		AudioSeconds: p.Audio.Seconds(),
	}
}

// PreviewEvent builds the event for an interim preview.
func PreviewEvent(p segment.Preview) Event {
	return Event{
		Type:         TypePreview,
		Text:         p.Text,
		At:           p.StartedAt,
		AudioSeconds: p.Audio.Seconds(),
	}
}

// Option configures a [Hub].
type Option func(*Hub)

// WithMetrics tracks the number of connected clients.
func WithMetrics(m *observe.Metrics) Option {
	return func(h *Hub) { h.metrics = m }
}

// WithBuffer sets how many events may queue per client before it is
// considered too slow and disconnected. Default: 32.
func WithBuffer(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.buffer = n
		}
	}
}

// WithWriteTimeout bounds a single websocket write. Default: 5s.
func WithWriteTimeout(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.writeTimeout = d
		}
	}
}

// WithHistory replays the last n phrases to every new client.
func WithHistory(n int) Option {
	return func(h *Hub) { h.historySize = max(n, 0) }
}

// WithOriginPatterns allows cross-origin browser clients whose Origin host
// matches one of patterns. Same-origin requests are always accepted.
func WithOriginPatterns(patterns ...string) Option {
	return func(h *Hub) { h.origins = patterns }
}

// Hub fans events out to websocket clients. It is safe for concurrent use.
type Hub struct {
	metrics      *observe.Metrics
	buffer       int
	writeTimeout time.Duration
	historySize  int
	origins      []string

	mu      sync.Mutex
	clients map[*client]struct{}
	history []Event
	closed  bool
}

type client struct {
	events chan Event
	gone   chan struct{}
	once   sync.Once
	status websocket.StatusCode
	reason string
}

// kick ends the client's write loop with the given close status.
func (c *client) kick(status websocket.StatusCode, reason string) {
	c.once.Do(func() {
		c.status = status
		c.reason = reason
		close(c.gone)
	})
}

// NewHub returns an empty hub.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		buffer:       defaultBuffer,
		writeTimeout: defaultWriteTimeout,
		clients:      make(map[*client]struct{}),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Publish queues e for every connected client without blocking. Clients
// whose queue is full are disconnected.
func (h *Hub) Publish(e Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	if e.Type == TypePhrase && h.historySize > 0 {
		h.history = append(h.history, e)
		if len(h.history) > h.historySize {
			h.history = h.history[len(h.history)-h.historySize:]
		}
	}
	for c := range h.clients {
		select {
		case c.events <- e:
		default:
			slog.Warn("feed client too slow, disconnecting", "buffer", h.buffer)
			delete(h.clients, c)
			c.kick(websocket.StatusPolicyViolation, "client too slow")
			h.gauge(-1)
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for c := range h.clients {
		c.kick(websocket.StatusGoingAway, "server shutting down")
		h.gauge(-1)
	}
	clear(h.clients)
}

// ServeHTTP upgrades the request and streams events until the client goes
// away, falls behind, or the hub is closed.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		// Accept has already written the HTTP error response.
		slog.Debug("feed: websocket accept failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	defer conn.CloseNow()

	c, backlog, ok := h.add()
	if !ok {
		conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	defer h.remove(c)
	log := slog.With("remote", r.RemoteAddr)
	log.Debug("feed client connected")

	// Clients never send anything; CloseRead handles pings and close frames.
	ctx := conn.CloseRead(r.Context())

	for _, e := range backlog {
		if err := h.write(ctx, conn, e); err != nil {
			log.Debug("feed client write failed", "err", err)
			return
		}
	}
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case <-c.gone:
			conn.Close(c.status, c.reason)
			return
		case e := <-c.events:
			if err := h.write(ctx, conn, e); err != nil {
				log.Debug("feed client write failed", "err", err)
				return
			}
		}
	}
}

func (h *Hub) write(ctx context.Context, conn *websocket.Conn, e Event) error {
	ctx, cancel := context.WithTimeout(ctx, h.writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, e)
}

// add registers a new client and returns the phrase history to replay.
func (h *Hub) add() (*client, []Event, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, nil, false
	}
	c := &client{
		events: make(chan Event, h.buffer),
		gone:   make(chan struct{}),
	}
	h.clients[c] = struct{}{}
	h.gauge(1)
	return c, append([]Event(nil), h.history...), true
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		h.gauge(-1)
	}
}

// gauge adjusts the client gauge. Must be called with h.mu held.
func (h *Hub) gauge(delta int64) {
	if h.metrics != nil {
		h.metrics.FeedClients.Add(context.Background(), delta)
	}
}
