// Package gateway exposes the realtime event surface over websockets, plus
// health and metrics endpoints, on a Fiber app.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/PaulBabatuyi/roomchat/internal/auth"
	"github.com/PaulBabatuyi/roomchat/internal/realtime"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	tokenLocal   = "token"
	writeTimeout = 10 * time.Second
	// maxFrameSize bounds one inbound websocket frame.
	maxFrameSize = 64 << 10
)

// Config configures the gateway.
type Config struct {
	Addr string
	// AllowedOrigins is a comma separated CORS origin list; empty allows all.
	AllowedOrigins string
	// Gatherer serves /metrics; nil uses the default registry.
	Gatherer prometheus.Gatherer
}

// Gateway serves /ws, /health and /metrics.
type Gateway struct {
	app    *fiber.App
	mgr    *realtime.Manager
	addr   string
	logger *slog.Logger
}

// New builds the Fiber app and its routes. The server is not started.
func New(mgr *realtime.Manager, cfg Config, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	origins := cfg.AllowedOrigins
	if origins == "" {
		origins = "*"
	}

	g := &Gateway{
		app: fiber.New(fiber.Config{
			AppName:               "roomchat",
			DisableStartupMessage: true,
		}),
		mgr:    mgr,
		addr:   cfg.Addr,
		logger: logger,
	}

	g.app.Use(cors.New(cors.Config{
		AllowOrigins: origins,
		AllowMethods: "GET,OPTIONS",
		AllowHeaders: "Content-Type,Authorization",
	}))

	g.app.Get("/health", g.health)
	g.app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	g.app.Use("/ws", g.upgrade)
	g.app.Get("/ws", websocket.New(g.serveConn, websocket.Config{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
	}))
	return g
}

// App returns the underlying Fiber app.
func (g *Gateway) App() *fiber.App { return g.app }

// Start listens on the configured address in the background and reports
// errors that happen right at startup.
func (g *Gateway) Start() error {
	ln, err := net.Listen("tcp", g.addr)
	if err != nil {
		return fmt.Errorf("gateway listen %s: %w", g.addr, err)
	}
	go func() {
		if err := g.Serve(ln); err != nil {
			g.logger.Error("gateway stopped", "error", err)
		}
	}()
	g.logger.Info("websocket gateway listening", "addr", ln.Addr().String())
	return nil
}

// Serve blocks serving the app on ln.
func (g *Gateway) Serve(ln net.Listener) error {
	return g.app.Listener(ln)
}

// Shutdown stops accepting connections and waits for open ones to finish.
func (g *Gateway) Shutdown(ctx context.Context) error {
	if err := g.app.ShutdownWithContext(ctx); err != nil {
		return fmt.Errorf("gateway shutdown: %w", err)
	}
	return nil
}

func (g *Gateway) health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status": "ok",
		"stats":  g.mgr.Stats(),
	})
}

// upgrade admits websocket upgrades and captures the handshake credential
// from the "token" query parameter or the Authorization header.
func (g *Gateway) upgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	token := c.Query("token")
	if token == "" {
		token = auth.BearerToken(c.Get(fiber.HeaderAuthorization))
	}
	c.Locals(tokenLocal, token)
	return c.Next()
}

func (g *Gateway) serveConn(c *websocket.Conn) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	token, _ := c.Locals(tokenLocal).(string)
	sender := &connSender{conn: c}
	// the conn is recycled once this handler returns
	defer sender.detach()

	sess, err := g.mgr.Connect(ctx, token, sender)
	if err != nil {
		sender.close(websocket.ClosePolicyViolation, "authentication failed")
		return
	}
	defer sess.Close()

	c.SetReadLimit(maxFrameSize)
	log := g.logger.With("conn_id", sess.ID(), "remote", c.IP())
	for {
		_, raw, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Warn("websocket read failed", "error", err)
			}
			return
		}
		if err := sess.HandleRaw(ctx, raw); errors.Is(err, realtime.ErrSessionClosed) {
			return
		}
	}
}

var errConnGone = errors.New("websocket connection closed")

// connSender serializes writes to one websocket connection.
type connSender struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *connSender) Send(ev realtime.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return errConnGone
	}
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return s.conn.WriteJSON(ev)
}

func (s *connSender) detach() {
	s.mu.Lock()
	s.conn = nil
	s.mu.Unlock()
}

func (s *connSender) close(code int, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return
	}
	_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
}
