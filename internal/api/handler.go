package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"straddle-core/internal/data"
	"straddle-core/internal/events"
	"straddle-core/internal/monitor"
	"straddle-core/internal/strategy"
	"straddle-core/pkg/cache"
	exchange "straddle-core/pkg/exchanges/common"
)

// SignalExecutor starts entry convergence passes.
type SignalExecutor interface {
	ExecuteSignal(ctx context.Context, strategyName, token, exch string, side exchange.Side) (int, error)
}

// RiskManager exposes the RMS live view and manual exits.
type RiskManager interface {
	ManualSquareOff(ctx context.Context, token, exch string) (int, error)
	Configs() []strategy.Config
}

// PositionSyncer refreshes and reads the venue position cache.
type PositionSyncer interface {
	ForceSync(ctx context.Context) error
	NetPositions() []exchange.Position
}

// HighLowSource answers time-series range queries.
type HighLowSource interface {
	GetHighLowFromTimeSeries(ctx context.Context, exch, token string, start, end time.Time) (data.HighLow, error)
}

// QuoteStats reports the market snapshot cache occupancy.
type QuoteStats interface {
	Stats() cache.Stats
}

// Deps are the services the HTTP surface drives. Nil services answer 503.
type Deps struct {
	Bus       *events.Bus
	Metrics   *monitor.SystemMetrics
	Execution SignalExecutor
	RMS       RiskManager
	Positions PositionSyncer
	History   HighLowSource
	Quotes    QuoteStats
}

// Server wires HTTP endpoints around the engines and the event bus.
type Server struct {
	Router    *gin.Engine
	Bus       *events.Bus
	Metrics   *monitor.SystemMetrics
	Execution SignalExecutor
	RMS       RiskManager
	Positions PositionSyncer
	History   HighLowSource
	Quotes    QuoteStats
	JWTSecret string
	Meta      SystemMeta
}

// SystemMeta describes runtime status exposed to operators.
type SystemMeta struct {
	DryRun           bool
	ExecutionEnabled bool
	Venue            string
	UseMockFeed      bool
	Version          string
}

func NewServer(deps Deps, meta SystemMeta, jwtSecret string) *Server {
	r := gin.New()

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger(deps.Metrics))
	r.Use(RateLimitMiddleware(newIPLimiter(20, 50, 5*time.Minute)))
	r.Use(TimeoutMiddleware(30 * time.Second))
	r.Use(CORSMiddleware())

	s := &Server{
		Router:    r,
		Bus:       deps.Bus,
		Metrics:   deps.Metrics,
		Execution: deps.Execution,
		RMS:       deps.RMS,
		Positions: deps.Positions,
		History:   deps.History,
		Quotes:    deps.Quotes,
		JWTSecret: jwtSecret,
		Meta:      meta,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/ws", s.websocket)

	api := s.Router.Group("/api")
	{
		api.GET("/system/status", s.getSystemStatus)
		api.GET("/metrics", s.getMetrics)

		protected := api.Group("/straddle")
		protected.Use(AuthMiddleware(s.JWTSecret))
		{
			protected.POST("/execute", s.executeSignal)
			protected.POST("/squareoff", s.squareOff)
			protected.POST("/sync", s.forceSync)
			protected.GET("/configs", s.getConfigs)
			protected.GET("/positions", s.getPositions)
			protected.GET("/highlow", s.getHighLow)
		}
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Start serves until the listener fails.
func (s *Server) Start(addr string) error {
	return s.Router.Run(addr)
}

// HTTPServer returns an http.Server for addr, for callers that need graceful shutdown.
func (s *Server) HTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}
}
