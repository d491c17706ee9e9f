package status

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nexuslearn/livefeed/internal/archive"
	"github.com/nexuslearn/livefeed/internal/cache"
	"github.com/nexuslearn/livefeed/internal/connection"
	"github.com/nexuslearn/livefeed/internal/display"
	"github.com/nexuslearn/livefeed/internal/feed"
	"github.com/nexuslearn/livefeed/internal/notify"
	"github.com/nexuslearn/livefeed/internal/version"
)

// Components holds the pieces the status server reports on. Optional
// components may be nil.
type Components struct {
	Manager    connection.Manager
	Dispatcher *feed.Dispatcher
	Board      *display.Board
	Surface    *notify.Surface
	Archiver   *archive.Archiver
	Cache      *cache.Snapshot
	DB         *pgxpool.Pool
}

// Server exposes health and stats endpoints over HTTP.
type Server struct {
	components Components
	logger     *slog.Logger
	startedAt  time.Time

	srv *http.Server
}

// NewServer creates the status server listening on the given port.
func NewServer(port int, components Components, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		components: components,
		logger:     logger,
		startedAt:  time.Now(),
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/health", s.handleHealth)
	router.GET("/stats", s.handleStats)

	s.srv = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: router,
	}

	return s
}

// Start begins serving in the background.
func (s *Server) Start(ctx context.Context) error {
	go func() {
		s.logger.Info("status server listening", "addr", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("status server failed", "error", err)
		}
	}()
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	channelState := "stopped"
	connected := false
	if s.components.Manager != nil {
		st := s.components.Manager.State()
		channelState = st.String()
		connected = st == connection.StateConnected
	}

	components := gin.H{"channel": channelState}

	degraded := !connected

	if s.components.DB != nil {
		dbStatus := "connected"
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		if err := s.components.DB.Ping(ctx); err != nil {
			dbStatus = "error"
			degraded = true
		}
		cancel()
		components["database"] = dbStatus
	} else {
		components["database"] = "disabled"
	}

	if s.components.Cache != nil {
		components["cache"] = "connected"
	} else {
		components["cache"] = "disabled"
	}

	status := "healthy"
	if degraded {
		status = "partial"
	}

	c.JSON(http.StatusOK, gin.H{
		"status":     status,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
		"version":    version.Version,
		"uptime":     time.Since(s.startedAt).Round(time.Second).String(),
		"components": components,
	})
}

func (s *Server) handleStats(c *gin.Context) {
	resp := gin.H{}

	if s.components.Manager != nil {
		ms := s.components.Manager.Stats()
		resp["channel"] = gin.H{
			"state":            ms.State.String(),
			"connect_attempts": ms.ConnectAttempts,
			"reconnects":       ms.Reconnects,
			"heartbeats_sent":  ms.HeartbeatsSent,
			"last_connected":   ms.LastConnectedAt,
		}
	}

	if s.components.Dispatcher != nil {
		ds := s.components.Dispatcher.Stats()
		resp["dispatcher"] = gin.H{
			"received":      ds.Received,
			"notifications": ds.Notifications,
			"updates":       ds.Updates,
			"pongs":         ds.Pongs,
			"parse_errors":  ds.ParseErrors,
			"unknown":       ds.Unknown,
		}
	}

	if s.components.Board != nil {
		resp["board"] = s.components.Board.Snapshot()
	}

	if s.components.Surface != nil {
		resp["notifications"] = s.components.Surface.Stats()
	}

	if s.components.Archiver != nil {
		resp["archive"] = s.components.Archiver.Stats()
	}

	if s.components.Cache != nil {
		resp["cache"] = s.components.Cache.Stats()
	}

	c.JSON(http.StatusOK, resp)
}
