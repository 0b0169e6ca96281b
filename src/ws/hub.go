package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	logger "github.com/sirupsen/logrus"

	"papertrader/src/marketdata"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize is the maximum size of an incoming message.
	maxMessageSize = 4096

	// sendBufferSize is the channel buffer for outgoing messages per client.
	sendBufferSize = 256

	// defaultPollInterval spaces quote refreshes for subscribed symbols.
	defaultPollInterval = 15 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The dashboard fronts this behind its own origin checks.
		return true
	},
}

// quoteSource supplies the latest aggregate per symbol, normally the
// cached market-data service.
type quoteSource interface {
	PreviousClose(ctx context.Context, symbol string) (*marketdata.PreviousClose, error)
}

// QuoteUpdate is the frame pushed to subscribed clients.
type QuoteUpdate struct {
	Type          string  `json:"type"`
	Symbol        string  `json:"symbol"`
	Price         float64 `json:"price"`
	Open          float64 `json:"open"`
	Change        float64 `json:"change"`
	ChangePercent float64 `json:"changePercent"`
	Timestamp     string  `json:"timestamp"`
}

// client is a single WebSocket connection with its symbol subscriptions.
type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	subs map[string]bool
	mu   sync.RWMutex
}

// subscribeMsg is the JSON control frame clients send:
// {"subscribe":["AAPL"]} / {"unsubscribe":["AAPL"]}.
type subscribeMsg struct {
	Subscribe   []string `json:"subscribe"`
	Unsubscribe []string `json:"unsubscribe"`
}

// broadcastMsg carries a frame with the symbol it concerns so the hub
// routes it only to clients subscribed to that symbol.
type broadcastMsg struct {
	symbol string
	data   []byte
}

// Hub fans cached quote updates out to WebSocket clients. Clients
// subscribe per symbol; a poller refreshes the union of subscribed
// symbols through the shared market-data service, so the upstream cost
// is bounded by distinct symbols, not by client count.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan broadcastMsg
	register   chan *client
	unregister chan *client

	quotes       quoteSource
	pollInterval time.Duration
	mu           sync.RWMutex

	// done is closed when Run returns so connection goroutines never
	// block on the register/unregister channels after shutdown.
	done chan struct{}
}

func NewHub(quotes quoteSource) *Hub {
	return &Hub{
		clients:      make(map[*client]bool),
		broadcast:    make(chan broadcastMsg, 256),
		register:     make(chan *client),
		unregister:   make(chan *client),
		quotes:       quotes,
		pollInterval: defaultPollInterval,
		done:         make(chan struct{}),
	}
}

// Run drives registration, unregistration and broadcasting until the
// context ends. Call in a goroutine.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)

	go h.pollQuotes(ctx)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			logger.WithField("total_clients", h.clientCount()).Info("ws: client connected")

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			logger.WithField("total_clients", h.clientCount()).Info("ws: client disconnected")

		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				if c.isSubscribed(msg.symbol) {
					select {
					case c.send <- msg.data:
					default:
						// Send buffer full; drop rather than stall the hub.
						logger.Warn("ws: dropping message for slow client")
					}
				}
			}
			h.mu.RUnlock()
		}
	}
}

// pollQuotes refreshes every subscribed symbol on a fixed cadence and
// pushes the result into the broadcast loop.
func (h *Hub) pollQuotes(ctx context.Context) {
	ticker := time.NewTicker(h.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, symbol := range h.subscribedSymbols() {
				prev, err := h.quotes.PreviousClose(ctx, symbol)
				if err != nil {
					logger.WithField("symbol", symbol).WithError(err).Warn("ws: quote refresh failed")
					continue
				}

				data, err := json.Marshal(buildQuoteUpdate(symbol, prev, time.Now()))
				if err != nil {
					continue
				}

				select {
				case h.broadcast <- broadcastMsg{symbol: symbol, data: data}:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

func buildQuoteUpdate(symbol string, prev *marketdata.PreviousClose, now time.Time) QuoteUpdate {
	update := QuoteUpdate{
		Type:      "quote",
		Symbol:    symbol,
		Price:     prev.Close,
		Open:      prev.Open,
		Change:    prev.Close - prev.Open,
		Timestamp: now.UTC().Format(time.RFC3339),
	}
	if prev.Open != 0 {
		update.ChangePercent = (prev.Close - prev.Open) / prev.Open * 100
	}
	return update
}

// subscribedSymbols returns the union of all client subscriptions.
func (h *Hub) subscribedSymbols() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	seen := make(map[string]bool)
	var symbols []string
	for c := range h.clients {
		c.mu.RLock()
		for symbol := range c.subs {
			if !seen[symbol] {
				seen[symbol] = true
				symbols = append(symbols, symbol)
			}
		}
		c.mu.RUnlock()
	}
	return symbols
}

func (h *Hub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWS upgrades the request and registers the client.
// GET /ws/quotes
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WithError(err).Error("ws: upgrade failed")
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		subs: make(map[string]bool),
	}

	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

// readPump consumes control frames (subscribe/unsubscribe) until the
// connection drops.
func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.WithError(err).Warn("ws: unexpected close error")
			}
			return
		}

		var sub subscribeMsg
		if jsonErr := json.Unmarshal(message, &sub); jsonErr == nil {
			c.handleSubscription(sub)
		}
	}
}

func (c *client) handleSubscription(msg subscribeMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, symbol := range msg.Subscribe {
		if normalized := normalizeSymbol(symbol); normalized != "" {
			c.subs[normalized] = true
		}
	}
	for _, symbol := range msg.Unsubscribe {
		delete(c.subs, normalizeSymbol(symbol))
	}
}

func (c *client) isSubscribed(symbol string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.subs[symbol]
}

func normalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// writePump pushes frames and keepalive pings to the connection.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
