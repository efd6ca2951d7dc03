// Package api exposes the bots' published snapshots and start/stop controls over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"ai-grid-bot-go/internal/bot"
	"ai-grid-bot-go/internal/models"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Bot is the part of GridBot the API needs.
type Bot interface {
	Symbol() string
	IsRunning() bool
	GetState() *models.GridState
	GetPositions() []models.GridPosition
	GetPerformance() models.Performance
	GetLastDecision() *models.AIDecision
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// History is the read side of the trade/decision journal.
type History interface {
	RecentTrades(symbol string, limit int) ([]models.TradeRecord, error)
	DecisionCounts(symbol string) (executed, discarded int, err error)
}

// Server HTTP API server
type Server struct {
	router     *gin.Engine
	bots       map[string]Bot
	history    History
	httpServer *http.Server
	addr       string
	logger     *zap.Logger
}

// NewServer creates the API server. history may be nil.
func NewServer(addr string, bots []Bot, history History, logger *zap.Logger) *Server {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logger))

	s := &Server{
		router:  router,
		bots:    make(map[string]Bot, len(bots)),
		history: history,
		addr:    addr,
		logger:  logger,
	}
	for _, b := range bots {
		s.bots[strings.ToUpper(b.Symbol())] = b
	}
	s.setupRoutes()
	return s
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	api := s.router.Group("/api")
	{
		api.GET("/health", s.handleHealth)
		api.GET("/bots", s.handleListBots)

		b := api.Group("/bots/:symbol", s.botMiddleware())
		{
			b.GET("/state", s.handleState)
			b.GET("/positions", s.handlePositions)
			b.GET("/performance", s.handlePerformance)
			b.GET("/decision", s.handleDecision)
			b.GET("/trades", s.handleTrades)
			b.POST("/start", s.handleStart)
			b.POST("/stop", s.handleStop)
		}
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("API server listening", zap.String("addr", s.addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info("API server stopped")
	return nil
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("api request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}

// botMiddleware resolves :symbol and aborts with 404 when no bot trades it.
func (s *Server) botMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		symbol := strings.ToUpper(c.Param("symbol"))
		b, ok := s.bots[symbol]
		if !ok {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"success": false, "error": "unknown symbol " + symbol})
			return
		}
		c.Set("bot", b)
		c.Next()
	}
}

func botFrom(c *gin.Context) Bot {
	return c.MustGet("bot").(Bot)
}

type botSummary struct {
	Symbol       string  `json:"symbol"`
	Running      bool    `json:"running"`
	Stale        bool    `json:"stale"`
	CurrentPrice float64 `json:"current_price"`
	CenterPrice  float64 `json:"center_price"`
	Positions    int     `json:"positions"`
	RealizedPnL  float64 `json:"realized_pnl"`
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"status":  "ok",
		"time":    time.Now().UTC(),
	})
}

func (s *Server) handleListBots(c *gin.Context) {
	out := make([]botSummary, 0, len(s.bots))
	for _, b := range s.bots {
		st := b.GetState()
		out = append(out, botSummary{
			Symbol:       st.Config.Symbol,
			Running:      st.Running,
			Stale:        st.Stale,
			CurrentPrice: st.CurrentPrice,
			CenterPrice:  st.CenterPrice,
			Positions:    len(st.Positions),
			RealizedPnL:  st.Performance.RealizedPnL,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	c.JSON(http.StatusOK, gin.H{"success": true, "bots": out})
}

func (s *Server) handleState(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"success": true, "state": botFrom(c).GetState()})
}

func (s *Server) handlePositions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"success": true, "positions": botFrom(c).GetPositions()})
}

func (s *Server) handlePerformance(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"success": true, "performance": botFrom(c).GetPerformance()})
}

func (s *Server) handleDecision(c *gin.Context) {
	d := botFrom(c).GetLastDecision()
	if d == nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "no decision yet"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "decision": d})
}

func (s *Server) handleTrades(c *gin.Context) {
	if s.history == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "error": "journal disabled"})
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 || limit > 1000 {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "limit must be between 1 and 1000"})
		return
	}
	symbol := botFrom(c).Symbol()
	trades, err := s.history.RecentTrades(symbol, limit)
	if err != nil {
		s.logger.Error("query trades failed", zap.String("symbol", symbol), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}
	executed, discarded, err := s.history.DecisionCounts(symbol)
	if err != nil {
		s.logger.Error("query decisions failed", zap.String("symbol", symbol), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":             true,
		"trades":              trades,
		"decisions_executed":  executed,
		"decisions_discarded": discarded,
	})
}

func (s *Server) handleStart(c *gin.Context) {
	b := botFrom(c)
	if err := b.Start(c.Request.Context()); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, bot.ErrNotInitialized) {
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{"success": false, "error": err.Error()})
		return
	}
	s.logger.Info("bot started via API", zap.String("symbol", b.Symbol()))
	c.JSON(http.StatusOK, gin.H{"success": true, "running": b.IsRunning()})
}

func (s *Server) handleStop(c *gin.Context) {
	b := botFrom(c)
	if !b.IsRunning() {
		c.JSON(http.StatusConflict, gin.H{"success": false, "error": bot.ErrNotRunning.Error()})
		return
	}
	// positions are closed even if the client goes away
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), 30*time.Second)
	defer cancel()
	if err := b.Stop(ctx); err != nil {
		s.logger.Error("stop via API left positions open", zap.String("symbol", b.Symbol()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "running": b.IsRunning(), "error": err.Error()})
		return
	}
	s.logger.Info("bot stopped via API", zap.String("symbol", b.Symbol()))
	c.JSON(http.StatusOK, gin.H{"success": true, "running": false})
}
