// ABOUTME: HTTP server wiring: routes, CORS, auth, listeners, graceful shutdown
// ABOUTME: Serves the send/session API, observer websocket, health, and metrics

package web

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"tailscale.com/tsnet"

	"github.com/wagate/wagate/internal/auth"
	"github.com/wagate/wagate/internal/broadcast"
	"github.com/wagate/wagate/internal/config"
	"github.com/wagate/wagate/internal/metrics"
	"github.com/wagate/wagate/internal/session"
)

// Params configures a Server.
type Params struct {
	Config      *config.Config
	Supervisor  *session.Supervisor
	Broadcaster *broadcast.Broadcaster
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
}

// Server hosts the HTTP API and the observer websocket.
type Server struct {
	cfg         *config.Config
	supervisor  *session.Supervisor
	broadcaster *broadcast.Broadcaster
	logger      *slog.Logger

	engine      *gin.Engine
	httpServer  *http.Server
	tsnetServer *tsnet.Server
	upgrader    websocket.Upgrader
}

// New builds the server and its route table.
func New(p Params) *Server {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if len(p.Config.Server.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = p.Config.Server.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowWebSockets = true
	engine.Use(cors.New(corsConfig))

	s := &Server{
		cfg:         p.Config,
		supervisor:  p.Supervisor,
		broadcaster: p.Broadcaster,
		logger:      logger.With("component", "web"),
		engine:      engine,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}

	var verifier auth.TokenVerifier
	if secret := p.Config.Auth.JWTSecret; secret != "" {
		verifier = auth.NewJWTVerifier([]byte(secret))
	}

	api := engine.Group("/", auth.Middleware(verifier))
	api.POST("/send-message", s.handleSendMessage)
	api.POST("/sessions", s.handleCreateSession)
	api.DELETE("/sessions/:id", s.handleRemoveSession)
	api.GET("/sessions", s.handleListSessions)

	engine.GET("/ws", s.handleObserver)
	engine.GET("/health", s.handleHealth)

	if p.Config.Metrics.Enabled && p.Metrics != nil {
		engine.GET(p.Config.Metrics.Path, gin.WrapH(p.Metrics.Handler()))
	}

	s.httpServer = &http.Server{
		Addr:              p.Config.Server.HTTPAddr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// Handler exposes the route table, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run starts the server and blocks until the context is canceled.
// Returns nil on graceful shutdown, or an error if the server fails.
func (s *Server) Run(ctx context.Context) error {
	ln, err := s.setupListener(ctx)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		s.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		s.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := s.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is already canceled.
func (s *Server) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := s.httpServer.Shutdown(ctx)
	if s.tsnetServer != nil {
		if closeErr := s.tsnetServer.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}
	return err
}

// setupListener creates the TCP or tsnet listener per configuration.
func (s *Server) setupListener(ctx context.Context) (net.Listener, error) {
	if s.cfg.Tailscale.Enabled {
		return s.setupTailscaleListener(ctx)
	}

	ln, err := net.Listen("tcp", s.cfg.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return ln, nil
}

// setupTailscaleListener brings up a tsnet node and listens on it.
func (s *Server) setupTailscaleListener(ctx context.Context) (net.Listener, error) {
	stateDir := s.cfg.Tailscale.StateDir
	if stateDir == "" {
		cacheDir, err := os.UserCacheDir()
		if err != nil {
			return nil, fmt.Errorf("resolving tsnet state dir: %w", err)
		}
		stateDir = filepath.Join(cacheDir, "wagate-tsnet")
	}

	s.tsnetServer = &tsnet.Server{
		Hostname:  s.cfg.Tailscale.Hostname,
		AuthKey:   s.cfg.Tailscale.AuthKey,
		Dir:       stateDir,
		Ephemeral: s.cfg.Tailscale.Ephemeral,
		Logf:      func(format string, args ...any) {}, // tsnet is chatty
	}

	status, err := s.tsnetServer.Up(ctx)
	if err != nil {
		_ = s.tsnetServer.Close()
		return nil, fmt.Errorf("starting tailscale node: %w", err)
	}

	ips := make([]string, 0, len(status.TailscaleIPs))
	for _, ip := range status.TailscaleIPs {
		ips = append(ips, ip.String())
	}
	s.logger.Info("tailscale node ready",
		"hostname", s.cfg.Tailscale.Hostname,
		"ips", ips,
	)

	ln, err := s.tsnetServer.Listen("tcp", ":80")
	if err != nil {
		_ = s.tsnetServer.Close()
		return nil, fmt.Errorf("listening on tailscale: %w", err)
	}
	return ln, nil
}
