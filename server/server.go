package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/xhad/docqa/internal/types"
	"github.com/xhad/docqa/pkg/loader"
	"github.com/xhad/docqa/pkg/rag"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Be careful with this in production
	},
}

// ErrTooManySessions is returned when the session cap is reached.
var ErrTooManySessions = errors.New("too many open sessions")

type Config struct {
	Addr            string
	ShutdownTimeout time.Duration
	MaxSessions     int
	SessionTTL      time.Duration // idle time after which a REST session expires
}

// Server exposes sessions over REST and WebSocket. Each session holds one
// document. REST sessions expire after SessionTTL without use; WebSocket
// sessions live as long as their connection.
type Server struct {
	config   Config
	pipeline *rag.Pipeline
	loader   *loader.Loader
	router   *gin.Engine

	mu       sync.Mutex
	sessions map[string]*sessionEntry
}

type sessionEntry struct {
	session  *rag.Session
	lastUsed time.Time
	pinned   bool
}

func NewWithConfig(config Config, pipeline *rag.Pipeline, docLoader *loader.Loader) *Server {
	if config.Addr == "" {
		config.Addr = ":8080"
	}
	if config.ShutdownTimeout == 0 {
		config.ShutdownTimeout = 5 * time.Second
	}
	if config.MaxSessions <= 0 {
		config.MaxSessions = 100
	}
	if config.SessionTTL <= 0 {
		config.SessionTTL = 30 * time.Minute
	}

	s := &Server{
		config:   config,
		pipeline: pipeline,
		loader:   docLoader,
		sessions: make(map[string]*sessionEntry),
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())
	router.MaxMultipartMemory = s.loader.Config().MaxBytes

	router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})

	router.GET("/health", s.health)
	router.GET("/ws", s.handleWebSocket)

	apiV1 := router.Group("/api/v1")
	{
		apiV1.POST("/sessions", s.createSession)
		apiV1.DELETE("/sessions/:id", s.deleteSession)
		apiV1.POST("/sessions/:id/document", s.requireGenerator, s.uploadDocument)
		apiV1.POST("/sessions/:id/query", s.requireGenerator, s.query)
	}

	return router
}

// Handler returns the HTTP handler serving every route.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.config.Addr,
		Handler: s.router,
	}

	go s.sweepSessions(ctx)

	errCh := make(chan error, 1)
	go func() {
		log.Printf("SERVER: listening on %s", s.config.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("failed to start server: %w", err)
	case <-ctx.Done():
	}

	log.Printf("SERVER: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	return nil
}

// newSession registers a session. Pinned sessions never expire.
func (s *Server) newSession(pinned bool) (*rag.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.sessions) >= s.config.MaxSessions {
		s.expireLocked(time.Now())
	}
	if len(s.sessions) >= s.config.MaxSessions {
		return nil, fmt.Errorf("%w (limit %d)", ErrTooManySessions, s.config.MaxSessions)
	}

	session := rag.NewSession()
	s.sessions[session.ID] = &sessionEntry{session: session, lastUsed: time.Now(), pinned: pinned}
	return session, nil
}

// session looks up an unexpired session and marks it used.
func (s *Server) session(id string) (*rag.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	now := time.Now()
	if s.expired(entry, now) {
		entry.session.Reset()
		delete(s.sessions, id)
		return nil, false
	}
	entry.lastUsed = now
	return entry.session, true
}

func (s *Server) dropSession(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.sessions[id]
	if ok {
		entry.session.Reset()
		delete(s.sessions, id)
	}
	return ok
}

func (s *Server) expired(entry *sessionEntry, now time.Time) bool {
	return !entry.pinned && now.Sub(entry.lastUsed) > s.config.SessionTTL
}

func (s *Server) expireLocked(now time.Time) int {
	n := 0
	for id, entry := range s.sessions {
		if s.expired(entry, now) {
			entry.session.Reset()
			delete(s.sessions, id)
			n++
		}
	}
	return n
}

func (s *Server) sweepSessions(ctx context.Context) {
	ticker := time.NewTicker(s.config.SessionTTL / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.mu.Lock()
			n := s.expireLocked(now)
			s.mu.Unlock()
			if n > 0 {
				log.Printf("SERVER: expired %d idle sessions", n)
			}
		}
	}
}

// statusFor maps an error to the HTTP status reported to clients.
func statusFor(err error) int {
	if errors.Is(err, ErrTooManySessions) {
		return http.StatusServiceUnavailable
	}
	switch types.KindOf(err) {
	case types.KindInput:
		return http.StatusBadRequest
	case types.KindConfiguration, types.KindModelUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
