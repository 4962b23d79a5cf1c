package channels

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/shabbark/pocketpaw/internal/bus"
)

// WebChannel implements Channel for the web dashboard: an HTTP
// websocket.Accept handler fans every bus envelope addressed to it (system
// telemetry plus web-channel outbound messages) out to every connected
// browser tab, grounded on the teacher's gateway.go client/broadcast
// pattern.
type WebChannel struct {
	eventBus  *bus.Bus
	normalize MarkdownNormalizer
	logger    *slog.Logger

	sub *bus.Subscription

	clientsMu sync.RWMutex
	clients   map[*webClient]struct{}
}

type webClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *webClient) write(ctx context.Context, v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return wsjson.Write(ctx, c.conn, v)
}

// NewWebChannel builds a WebChannel.
func NewWebChannel(eb *bus.Bus, logger *slog.Logger) *WebChannel {
	return &WebChannel{
		eventBus:  eb,
		normalize: NormalizerFor(bus.ChannelWeb),
		logger:    logger,
		clients:   make(map[*webClient]struct{}),
	}
}

func (w *WebChannel) Name() bus.Channel { return bus.ChannelWeb }

// Start subscribes to the bus (channel-filter "" since the dashboard needs
// every SystemEvent plus events explicitly addressed to "web") and fans
// envelopes out to connected browser clients until ctx is canceled.
func (w *WebChannel) Start(ctx context.Context) error {
	w.sub = w.eventBus.Subscribe("")
	for {
		select {
		case <-ctx.Done():
			return nil
		case env, ok := <-w.sub.C():
			if !ok {
				return nil
			}
			w.broadcast(ctx, env)
		}
	}
}

func (w *WebChannel) broadcast(ctx context.Context, env bus.Envelope) {
	if env.System == nil && (env.Outbound == nil || env.Outbound.Channel != bus.ChannelWeb) {
		return
	}
	w.clientsMu.RLock()
	defer w.clientsMu.RUnlock()
	for c := range w.clients {
		if err := c.write(ctx, env); err != nil {
			w.logger.Warn("web dashboard client write failed", "error", err)
		}
	}
}

// Send publishes an outbound message by broadcasting directly (the web
// channel has no per-chat transport distinct from the websocket broadcast
// itself, so Send and the Start loop converge on the same fan-out path).
func (w *WebChannel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	msg.Content = w.normalize(msg.Content)
	w.broadcast(ctx, bus.Envelope{Outbound: &msg})
	return nil
}

// Stop releases the bus subscription and closes every connected client.
func (w *WebChannel) Stop() error {
	if w.sub != nil {
		w.eventBus.Unsubscribe(w.sub)
	}
	w.clientsMu.Lock()
	defer w.clientsMu.Unlock()
	for c := range w.clients {
		_ = c.conn.Close(websocket.StatusNormalClosure, "shutting down")
	}
	w.clients = make(map[*webClient]struct{})
	return nil
}

// HandleWebSocket accepts a browser connection and keeps it registered for
// broadcast until the connection drops or ctx is canceled. Messages the
// browser sends are read and discarded; nothing is published to the bus.
// app's mux serves it at /chat/ws.
func (w *WebChannel) HandleWebSocket(rw http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(rw, r, nil)
	if err != nil {
		return
	}
	c := &webClient{conn: conn}
	w.addClient(c)
	defer func() {
		w.removeClient(c)
		_ = conn.Close(websocket.StatusNormalClosure, "bye")
	}()

	ctx := r.Context()
	for {
		var ping map[string]any
		if err := wsjson.Read(ctx, conn, &ping); err != nil {
			return
		}
	}
}

func (w *WebChannel) addClient(c *webClient) {
	w.clientsMu.Lock()
	defer w.clientsMu.Unlock()
	w.clients[c] = struct{}{}
}

func (w *WebChannel) removeClient(c *webClient) {
	w.clientsMu.Lock()
	defer w.clientsMu.Unlock()
	delete(w.clients, c)
}
