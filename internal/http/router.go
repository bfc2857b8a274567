package http

import (
	"context"
	"log/slog"
	"time"

	"github.com/avoronova/accounthub/internal/accounts"
	"github.com/avoronova/accounthub/internal/auth"
	"github.com/avoronova/accounthub/internal/config"
	"github.com/avoronova/accounthub/internal/http/handlers"
	"github.com/avoronova/accounthub/internal/http/middlewares"
	"github.com/avoronova/accounthub/internal/observability"
	"github.com/avoronova/accounthub/internal/redisclient"
	"github.com/avoronova/accounthub/internal/repo/postgres"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// Deps carries everything the router wires together. Redis may be
// nil; the rate limiter falls back to its in-process counters.
type Deps struct {
	Log      *slog.Logger
	Cfg      config.Config
	Pool     *pgxpool.Pool
	Redis    *redisclient.Client
	Prom     *observability.Prom
	Registry *prometheus.Registry
}

func NewRouter(d Deps) *gin.Engine {
	if d.Cfg.Env != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	// middleware

	r.Use(gin.Recovery())
	r.Use(middlewares.RequestID())
	r.Use(middlewares.RequestLogger(d.Log))
	r.Use(middlewares.SecurityHeaders())
	r.Use(middlewares.CORSMiddleware(d.Cfg.CORSAllowedOrigins))
	r.Use(middlewares.MaxBodyBytes(1 << 20))
	r.Use(otelgin.Middleware("accounthub"))

	if d.Prom != nil {
		r.Use(d.Prom.GinHandleMiddleware())
	}

	// health
	ping := func() error {
		if d.Pool == nil {
			return nil
		}

		ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()

		return d.Pool.Ping(ctx)
	}

	h := handlers.NewHealthHandler(ping)
	r.GET("/healthz", h.Healthz)
	r.GET("/readyz", h.Readyz)

	if d.Registry != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Registry, promhttp.HandlerOpts{})))
	}

	// wire up repositories

	accountsRepo := postgres.NewAccountsRepo(d.Pool, d.Prom)
	refreshRepo := postgres.NewRefreshTokensRepo(d.Pool)
	jobsRepo := postgres.NewJobsRepo(d.Pool, d.Prom)

	registrar := accounts.NewRegistrar(accountsRepo)

	jwtManager := auth.NewManager(d.Cfg.JWTSecret, d.Cfg.JWTIssuer, d.Cfg.AccessTTL(), d.Cfg.RefreshTTL())

	authHandler := handlers.NewAuthHandler(registrar, accountsRepo, jwtManager, refreshRepo, jobsRepo, d.Prom, d.Cfg)
	accountsHandler := handlers.NewAccountsHandler(accountsRepo)

	authRate := middlewares.NewRateLimiter(d.Redis, d.Cfg.AuthRateLimit, time.Duration(d.Cfg.AuthRateWindowSecs)*time.Second)
	authGuard := middlewares.NewAuthMiddleware(jwtManager)

	requireJSON := middlewares.RequireJSON()
	limitByIP := authRate.Middleware(middlewares.KeyByIP)

	// Routes

	r.POST("/signup", requireJSON, limitByIP, authHandler.SignUp)

	ag := r.Group("/auth")
	ag.POST("/login", requireJSON, limitByIP, authHandler.Login)
	ag.POST("/refresh", authRate.Middleware(middlewares.KeyByUserOrIP), authHandler.Refresh)
	ag.POST("/logout", authHandler.Logout)
	ag.POST("/logout_all", authGuard.RequireAuth(), authHandler.LogoutAll)

	r.GET("/me", authGuard.RequireAuth(), accountsHandler.Me)

	admin := r.Group("/accounts", authGuard.RequireAuth(), authGuard.RequireRole("ROLE_ADMIN"))
	admin.GET("/:id", accountsHandler.GetByID)

	return r
}
