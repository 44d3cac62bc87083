// Package server exposes the engine over HTTP and WebSocket.
//
// POST /move answers one best-move request. GET /ws keeps a connection open
// and answers a stream of the same requests. /health and /metrics are for
// operators, and /api browses recorded self-play games when configured.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/brensch/sidestacker/engine"
	"github.com/brensch/sidestacker/viewer"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// MoveRequest is the body of POST /move and every /ws message. Board rows
// hold the caller's marks; empty cells are "", " ", "." or "-".
type MoveRequest struct {
	Board        [][]string `json:"board" binding:"required,len=7,dive,len=7"`
	PlayerSymbol string     `json:"player_symbol" binding:"required"`
	Difficulty   string     `json:"difficulty" binding:"omitempty,oneof=easy medium hard EASY MEDIUM HARD"`
}

type MoveResponse struct {
	Move        [2]int `json:"move"`
	Difficulty  string `json:"difficulty"`
	Simulations int    `json:"simulations"`
	SessionID   string `json:"session_id,omitempty"`
	Error       string `json:"error,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type Options struct {
	// RateLimit is the sustained requests per second across all clients.
	RateLimit   float64
	Burst       int
	MoveTimeout time.Duration
	// Games, when set, serves the self-play game viewer under /api.
	Games *viewer.DBCache
}

// Server holds the engine and the shared request limiter.
type Server struct {
	engine      *engine.Engine
	limiter     *rate.Limiter
	moveTimeout time.Duration
	upgrader    websocket.Upgrader
	games       *viewer.DBCache
}

func New(e *engine.Engine, opts Options) *Server {
	limit := rate.Inf
	if opts.RateLimit > 0 {
		limit = rate.Limit(opts.RateLimit)
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}
	timeout := opts.MoveTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Server{
		engine:      e,
		limiter:     rate.NewLimiter(limit, burst),
		moveTimeout: timeout,
		games:       opts.Games,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// Router builds the gin engine with every route registered.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	r.GET("/health", s.handleHealth)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.POST("/move", s.rateLimited(), s.handleMove)
	r.GET("/ws", s.handleWebSocket)
	if s.games != nil {
		viewer.Register(r.Group("/api"), s.games)
	}
	return r
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Bool("model", s.engine.HasModel()).Msg("server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	log.Info().Msg("server shutting down")
	return srv.Shutdown(shutdownCtx)
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	}
}

func (s *Server) rateLimited() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.limiter.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, errorResponse{Error: "rate limit exceeded"})
			return
		}
		c.Next()
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "model": s.engine.HasModel()})
}

func (s *Server) handleMove(c *gin.Context) {
	var req MoveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	resp, status := s.move(c.Request.Context(), req)
	c.JSON(status, resp)
}

// move runs one request under the server's timeout and maps engine errors to
// HTTP status codes.
func (s *Server) move(ctx context.Context, req MoveRequest) (MoveResponse, int) {
	level := engine.Medium
	if req.Difficulty != "" {
		l, err := engine.ParseLevel(req.Difficulty)
		if err != nil {
			return MoveResponse{Error: err.Error()}, http.StatusBadRequest
		}
		level = l
	}

	ctx, cancel := context.WithTimeout(ctx, s.moveTimeout)
	defer cancel()

	start := time.Now()
	d, err := s.engine.BestMove(ctx, req.Board, req.PlayerSymbol, level)
	switch {
	case errors.Is(err, engine.ErrInvalidBoard):
		return MoveResponse{Error: err.Error()}, http.StatusBadRequest
	case errors.Is(err, engine.ErrNoMoves), errors.Is(err, engine.ErrGameOver):
		return MoveResponse{Error: err.Error()}, http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return MoveResponse{Error: "search timed out"}, http.StatusGatewayTimeout
	case err != nil:
		log.Error().Err(err).Str("difficulty", level.String()).Msg("move failed")
		return MoveResponse{Error: err.Error()}, http.StatusInternalServerError
	}

	log.Info().
		Str("difficulty", d.Level.String()).
		Int("row", d.Row()).
		Int("col", d.Col()).
		Int("sims", d.Simulations).
		Int("depth", d.MaxDepth).
		Dur("elapsed", time.Since(start)).
		Msg("move")

	return MoveResponse{
		Move:        [2]int{d.Row(), d.Col()},
		Difficulty:  d.Level.String(),
		Simulations: d.Simulations,
	}, http.StatusOK
}

func (s *Server) handleWebSocket(c *gin.Context) {
	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade the websocket")
		return
	}
	defer ws.Close()

	sessionID := uuid.NewString()
	logger := log.With().Str("session_id", sessionID).Logger()
	logger.Info().Msg("websocket session started")

	for {
		var req MoveRequest
		if err := ws.ReadJSON(&req); err != nil {
			logger.Info().Err(err).Msg("websocket client disconnected")
			return
		}

		var resp MoveResponse
		if !s.limiter.Allow() {
			resp = MoveResponse{Error: "rate limit exceeded"}
		} else {
			resp, _ = s.move(c.Request.Context(), req)
		}
		resp.SessionID = sessionID

		if err := ws.WriteJSON(resp); err != nil {
			logger.Warn().Err(err).Msg("failed to write websocket json")
			return
		}
	}
}
