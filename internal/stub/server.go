// Package stub is an in-process fake of the chat service the load runs target.
package stub

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"chatload/internal/logging"
)

// Config configures the stub service
type Config struct {
	Addr       string
	JWTSecret  string
	TokenTTL   time.Duration
	BcryptCost int

	// MessagesPerMinute caps room messages per username; 0 disables the cap
	MessagesPerMinute int
}

// DefaultConfig listens on an ephemeral localhost port with the cheapest bcrypt cost
func DefaultConfig() Config {
	return Config{
		Addr:       "127.0.0.1:0",
		JWTSecret:  "chatload-stub-secret",
		TokenTTL:   15 * time.Minute,
		BcryptCost: bcrypt.MinCost,
	}
}

// Server serves the user, room and join endpoints
type Server struct {
	config   Config
	secret   []byte
	accounts *accounts
	registry *Registry
	limiter  *RateLimiter
	faults   faultSet
	upgrader websocket.Upgrader
	engine   *gin.Engine
	logger   logrus.FieldLogger

	mu         sync.Mutex
	httpServer *http.Server
	listener   net.Listener
	serveErr   chan error
}

// NewServer builds the routes. Call Start to listen, or mount Handler yourself.
func NewServer(cfg Config, logger logrus.FieldLogger) (*Server, error) {
	if cfg.JWTSecret == "" {
		return nil, ErrEmptySecret
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = DefaultConfig().TokenTTL
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.MinCost
	}
	if cfg.BcryptCost < bcrypt.MinCost || cfg.BcryptCost > bcrypt.MaxCost {
		return nil, fmt.Errorf("bcrypt cost %d out of range", cfg.BcryptCost)
	}
	if logger == nil {
		logger = logging.Discard()
	}
	logger = logger.WithField("component", "stub")

	s := &Server{
		config:   cfg,
		secret:   []byte(cfg.JWTSecret),
		accounts: newAccounts(cfg.BcryptCost),
		registry: NewRegistry(logger),
		limiter:  NewRateLimiter(cfg.MessagesPerMinute, time.Minute),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
	s.engine = s.routes()
	return s, nil
}

func (s *Server) routes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), s.requestLogger(), s.latency())

	engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := engine.Group("/api")

	users := api.Group("/users")
	users.POST("/signup", s.signup)
	users.POST("/login", s.login)
	users.GET("", s.authMiddleware(), s.listUsers)

	ws := api.Group("/ws", s.authMiddleware())
	ws.POST("/create-room", s.createRoom)
	ws.GET("/join-room/:roomId", s.joinRoom)
	ws.GET("/getRooms", s.getRooms)
	ws.GET("/getClients/:roomId", s.getClients)

	return engine
}

// requestLogger logs each request through logrus
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"status":   c.Writer.Status(),
			"duration": time.Since(start),
		}).Debug("stub request")
	}
}

func (s *Server) latency() gin.HandlerFunc {
	return func(c *gin.Context) {
		if d := s.faults.get().Latency; d > 0 {
			select {
			case <-time.After(d):
			case <-c.Request.Context().Done():
			}
		}
		c.Next()
	}
}

// Handler exposes the routes for httptest or custom servers
func (s *Server) Handler() http.Handler {
	return s.engine
}

// SetFaults replaces the active fault set
func (s *Server) SetFaults(f Faults) {
	s.faults.set(f)
}

// Start listens on the configured address and serves in the background
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.httpServer != nil {
		return ErrServerRunning
	}

	listener, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Addr, err)
	}

	s.listener = listener
	s.serveErr = make(chan error, 1)
	s.httpServer = &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func(srv *http.Server, errCh chan<- error) {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}(s.httpServer, s.serveErr)

	s.logger.WithField("addr", listener.Addr().String()).Info("stub server listening")
	return nil
}

// Stop closes every room socket and shuts the listener down
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv, errCh := s.httpServer, s.serveErr
	s.httpServer, s.listener = nil, nil
	s.mu.Unlock()

	if srv == nil {
		return ErrServerNotRunning
	}

	// TECHNICAL DISCOVERY: Shutdown does not track hijacked connections, so
	// room sockets are closed explicitly
	s.registry.CloseAll()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("stub shutdown: %w", err)
	}
	if err := <-errCh; err != nil {
		return fmt.Errorf("stub serve: %w", err)
	}

	s.logger.Info("stub server stopped")
	return nil
}

// Addr returns the bound address, or the configured one before Start
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.config.Addr
}

// URL returns the http base URL of the running server
func (s *Server) URL() string {
	return "http://" + s.Addr()
}
