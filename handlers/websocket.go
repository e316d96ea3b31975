package handlers

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"golang.org/x/time/rate"

	"github.com/karthikraju391/teamchat-gateway/auth"
	"github.com/karthikraju391/teamchat-gateway/config"
	"github.com/karthikraju391/teamchat-gateway/hub"
	"github.com/karthikraju391/teamchat-gateway/metrics"
)

type GatewayConfig struct {
	Verifier   *auth.Verifier
	Hub        *hub.Hub
	Pipeline   *Pipeline
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
	SendBuffer int
	// RateLimit is the sustained inbound frames per second per connection;
	// zero disables limiting.
	RateLimit float64
	RateBurst int
}

// Gateway owns the connection lifecycle: authenticate at the handshake,
// admit to the hub, pump frames, and clean up on close.
type Gateway struct {
	verifier   *auth.Verifier
	hub        *hub.Hub
	pipeline   *Pipeline
	metrics    *metrics.Metrics
	logger     *slog.Logger
	sendBuffer int
	rateLimit  rate.Limit
	rateBurst  int

	// active counts running connection handlers; idle is closed when it
	// drops to zero while Drain is waiting.
	mu     sync.Mutex
	active int
	idle   chan struct{}
}

func NewGateway(cfg GatewayConfig) *Gateway {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 256
	}
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 1
	}
	return &Gateway{
		verifier:   cfg.Verifier,
		hub:        cfg.Hub,
		pipeline:   cfg.Pipeline,
		metrics:    cfg.Metrics,
		logger:     cfg.Logger,
		sendBuffer: cfg.SendBuffer,
		rateLimit:  limit,
		rateBurst:  cfg.RateBurst,
	}
}

// Authenticate runs before the upgrade. A missing or invalid credential is
// answered with 401 and the connection is never upgraded.
func (g *Gateway) Authenticate(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	userID, err := g.verifier.Verify(auth.Credential(c))
	if err != nil {
		reason := "invalid"
		switch {
		case errors.Is(err, auth.ErrMissingToken):
			reason = "missing"
		case errors.Is(err, auth.ErrExpiredToken):
			reason = "expired"
		}
		g.metrics.AuthFailed(reason)
		g.logger.Warn("websocket authentication failed", "reason", reason, "remote", c.IP())
		return fiber.ErrUnauthorized
	}
	c.Locals(auth.UserContextKey, userID)
	return c.Next()
}

// Handler upgrades authenticated requests.
func (g *Gateway) Handler() fiber.Handler {
	return websocket.New(g.serve)
}

type connection struct {
	conn    *websocket.Conn
	client  *hub.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// Drain blocks until every connection handler has returned, including any
// frame still being persisted, or until ctx is done. Stop the hub first so
// open sockets are torn down.
func (g *Gateway) Drain(ctx context.Context) error {
	g.mu.Lock()
	if g.active == 0 {
		g.mu.Unlock()
		return nil
	}
	if g.idle == nil {
		g.idle = make(chan struct{})
	}
	idle := g.idle
	g.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *Gateway) track() func() {
	g.mu.Lock()
	g.active++
	g.mu.Unlock()
	return func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		g.active--
		if g.active == 0 && g.idle != nil {
			close(g.idle)
			g.idle = nil
		}
	}
}

func (g *Gateway) serve(conn *websocket.Conn) {
	defer g.track()()

	userID, _ := conn.Locals(auth.UserContextKey).(string)
	if userID == "" {
		// Authenticate did not run for this route.
		_ = conn.Close()
		return
	}

	client := hub.NewClient(userID, g.sendBuffer)
	cc := &connection{
		conn:    conn,
		client:  client,
		limiter: rate.NewLimiter(g.rateLimit, g.rateBurst),
		logger:  g.logger.With("conn", client.ID, "user", userID),
	}

	if err := g.hub.Admit(client); err != nil {
		cc.logger.Warn("hub rejected connection", "error", err)
		_ = conn.Close()
		return
	}
	cc.logger.Info("client connected")

	ctx, cancel := context.WithCancel(context.Background())
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		cc.writePump()
	}()

	cc.readPump(ctx, g)

	// Closed: skip this client in broadcasts, purge it from registry and
	// rooms, then wait for the writer before the socket is released.
	cancel()
	client.MarkClosed()
	g.hub.Remove(client)
	<-writerDone
	_ = conn.Close()
	cc.logger.Info("client disconnected")
}

// readPump reads frames until the transport fails or closes. Frame-level
// errors never end the loop.
func (cc *connection) readPump(ctx context.Context, g *Gateway) {
	cc.conn.SetReadLimit(config.MaxMessageSize)
	_ = cc.conn.SetReadDeadline(time.Now().Add(config.PongWait))
	cc.conn.SetPongHandler(func(string) error {
		return cc.conn.SetReadDeadline(time.Now().Add(config.PongWait))
	})

	for {
		_, data, err := cc.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				cc.logger.Warn("websocket read error", "error", err)
			} else {
				cc.logger.Debug("websocket closed", "error", err)
			}
			return
		}

		if !cc.limiter.Allow() {
			g.metrics.Frame(metrics.OutcomeRateLimited)
			cc.logger.Warn("rate limit exceeded, dropping frame")
			continue
		}
		_ = g.pipeline.HandleFrame(ctx, cc.client, data)
	}
}

// writePump drains the client's queue to the socket and keeps the peer alive
// with pings. It returns when the hub closes the queue or a write fails, and
// in both cases tears down the socket so the reader stops too.
func (cc *connection) writePump() {
	ticker := time.NewTicker(config.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-cc.client.Send():
			_ = cc.conn.SetWriteDeadline(time.Now().Add(config.WriteWait))
			if !ok {
				_ = cc.conn.WriteMessage(websocket.CloseMessage, []byte{})
				cc.fail()
				return
			}
			if err := cc.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				cc.logger.Warn("websocket write error", "error", err)
				cc.fail()
				return
			}

		case <-ticker.C:
			_ = cc.conn.SetWriteDeadline(time.Now().Add(config.WriteWait))
			if err := cc.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				cc.logger.Warn("websocket ping error", "error", err)
				cc.fail()
				return
			}
		}
	}
}

// fail marks the transport dead and unblocks the reader.
func (cc *connection) fail() {
	cc.client.MarkClosed()
	_ = cc.conn.UnderlyingConn().Close()
}
