// Package api exposes the operator's call and campaign controls over HTTP
// and streams dialer events to dashboards over a websocket.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sebas/dialer/internal/dialer/campaign"
	"github.com/sebas/dialer/internal/dialer/channel"
	"github.com/sebas/dialer/internal/dialer/events"
	"github.com/sebas/dialer/internal/dialer/roster"
	"github.com/sebas/dialer/internal/dialer/session"
)

// CallService is the session surface. Implemented by session.Manager.
type CallService interface {
	PlaceOutbound(ctx context.Context, target session.Target) (*session.Call, error)
	Join(ctx context.Context, target session.Target) (*session.Call, error)
	Answer(ctx context.Context) error
	Decline(ctx context.Context) error
	Hangup(ctx context.Context) error
	Mute(ctx context.Context, kind channel.Kind, flag bool) error
	Status() session.Snapshot
}

// CampaignService is the autodial surface. Implemented by campaign.Controller.
type CampaignService interface {
	Start(ctx context.Context, labelID, providerName string, opts campaign.Options) error
	Stop(ctx context.Context) error
	Status() campaign.Status
}

// RosterSource answers roster queries. Implemented by roster.Hub.
type RosterSource interface {
	Snapshot(conversationID string) []roster.Participant
}

// Deps are the services the API fronts.
type Deps struct {
	OperatorID string
	Calls      CallService
	Campaigns  CampaignService
	Roster     RosterSource
	Events     *events.Broadcaster
	// Ready reports whether calling is available; nil means always ready.
	Ready func() error
}

// Server provides the operator HTTP API.
type Server struct {
	addr       string
	deps       Deps
	engine     *gin.Engine
	httpServer *http.Server
	stream     *eventStream
	startTime  time.Time
}

// NewServer builds the router. Call Run to serve.
func NewServer(addr string, deps Deps) *Server {
	s := &Server{
		addr:      addr,
		deps:      deps,
		startTime: time.Now(),
	}
	if deps.Events != nil {
		s.stream = newEventStream(deps.Events)
	}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	r.GET("/health", s.handleHealth)

	v1 := r.Group("/api/v1")
	{
		call := v1.Group("/call")
		call.GET("", s.handleCallStatus)
		call.POST("", s.handlePlaceCall)
		call.POST("/join", s.handleJoin)
		call.POST("/answer", s.handleAnswer)
		call.POST("/decline", s.handleDecline)
		call.POST("/hangup", s.handleHangup)
		call.POST("/mute", s.handleMute)

		v1.GET("/campaign", s.handleCampaignStatus)
		v1.POST("/campaign", s.handleStartCampaign)
		v1.DELETE("/campaign", s.handleStopCampaign)

		v1.GET("/roster/:conversation_id", s.handleRoster)
	}

	if s.stream != nil {
		r.GET("/ws/events", s.stream.serve)
	}

	s.engine = r
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.engine }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("[API] Starting HTTP API server", "addr", s.addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if s.stream != nil {
		s.stream.closeAll()
	}
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	slog.Info("[API] Stopped")
	return <-errCh
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Debug("[API] Request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}
