package api

import (
	"net/http"
	"time"

	"asset-rebalancer/internal/chain"
	"asset-rebalancer/internal/events"
	"asset-rebalancer/internal/market"
	"asset-rebalancer/internal/monitor"
	"asset-rebalancer/internal/state"
	"asset-rebalancer/internal/vault"
	"asset-rebalancer/pkg/db"
	"asset-rebalancer/pkg/oracle"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Server wires HTTP endpoints around the vault program and the event bus.
type Server struct {
	Router  *gin.Engine
	Bus     *events.Bus
	DB      *db.Database
	State   *state.Manager
	Program *vault.Program
	Runtime *chain.Runtime
	Fixture *market.Fixture
	Feed    oracle.Feed
	Prices  *oracle.MemoryFeed
	Metrics *monitor.SystemMetrics
	Auth    AuthConfig
	Meta    SystemMeta

	limiter *ipLimiter
}

// Deps are the collaborators of a Server. Prices is nil when quotes come
// from an external oracle; the admin price route is then disabled.
type Deps struct {
	Bus       *events.Bus
	DB        *db.Database
	State     *state.Manager
	Program   *vault.Program
	Runtime   *chain.Runtime
	Fixture   *market.Fixture
	Feed      oracle.Feed
	Prices    *oracle.MemoryFeed
	Metrics   *monitor.SystemMetrics
	Auth      AuthConfig
	Meta      SystemMeta
	AccessLog *zerolog.Logger
	RateLimit RateLimit
}

// SystemMeta describes runtime status exposed to the UI.
type SystemMeta struct {
	Version      string `json:"version"`
	OracleSource string `json:"oracle_source"`
	OrderStyle   string `json:"order_style"`
	Keeper       bool   `json:"keeper"`
}

func NewServer(d Deps) *Server {
	r := gin.New()

	access := log.Logger
	if d.AccessLog != nil {
		access = *d.AccessLog
	}
	s := &Server{
		Router:  r,
		Bus:     d.Bus,
		DB:      d.DB,
		State:   d.State,
		Program: d.Program,
		Runtime: d.Runtime,
		Fixture: d.Fixture,
		Feed:    d.Feed,
		Prices:  d.Prices,
		Metrics: d.Metrics,
		Auth:    d.Auth,
		Meta:    d.Meta,
		limiter: newIPLimiter(d.RateLimit),
	}

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger(access))
	r.Use(RateLimitMiddleware(s.limiter))
	r.Use(TimeoutMiddleware(30 * time.Second))
	r.Use(CORSMiddleware())

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
		api.GET("/markets", s.getMarkets)

		auth := api.Group("/auth")
		{
			auth.GET("/challenge", s.loginChallenge)
			auth.POST("/login", s.walletLogin)
		}
		api.POST("/admin/login", s.adminLogin)

		protected := api.Group("")
		protected.Use(AuthMiddleware(s.Auth.JWTSecret))
		{
			protected.GET("/wallet", s.getWallet)
			protected.GET("/portfolio", s.getPortfolio)
			protected.GET("/portfolio/events", s.getPortfolioEvents)
			protected.GET("/portfolio/orders", s.getPortfolioOrders)

			protected.POST("/portfolio/deposit", s.deposit)
			protected.POST("/portfolio/init-accounts", s.initAccounts)
			protected.POST("/portfolio/refresh-prices", s.refreshPrices)
			protected.POST("/portfolio/rebalance", s.rebalance)
			protected.POST("/portfolio/close-accounts", s.closeAccounts)
			protected.POST("/portfolio/withdraw", s.withdraw)
		}

		admin := api.Group("/admin")
		admin.Use(AuthMiddleware(s.Auth.JWTSecret), RequireRole(RoleAdmin))
		{
			admin.POST("/faucet", s.faucet)
			admin.PUT("/prices/:feed", s.setPrice)
			admin.POST("/crank", s.crank)
			admin.GET("/portfolios", s.listPortfolios)
			admin.GET("/outbox", s.listOutbox)
		}
	}
}

func (s *Server) health(c *gin.Context) {
	status := gin.H{"status": "ok"}
	if s.DB != nil {
		if err := s.DB.Ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "db": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, status)
}
