package http

import (
	"context"
	"log"
	"net/http"

	"github.com/jmoiron/sqlx"
	"github.com/labstack/echo/v4"
	echoMid "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zapvia/campaign-gateway/internal/http/middleware"
	"github.com/zapvia/campaign-gateway/internal/queue"
	"github.com/zapvia/campaign-gateway/internal/ratelimit"
	"github.com/zapvia/campaign-gateway/internal/repository"
	"github.com/zapvia/campaign-gateway/internal/scheduler"
)

type Server struct{ e *echo.Echo }

// Deps carries everything the HTTP surface needs; wiring happens in cmd.
type Deps struct {
	MySQL      *sqlx.DB
	ClickHouse *sqlx.DB
	Queues     map[string]*queue.Queue
	Limits     *ratelimit.Registry
	Scheduler  *scheduler.Service
}

func NewServer(d Deps) *Server {
	usersRepo := repository.NewUsersRepository(d.MySQL)
	campaignsRepo := repository.NewCampaignsRepository(d.MySQL)
	logsRepo := repository.NewDeliveryLogsRepository(d.ClickHouse)

	cc := &campaignControl{
		campaigns: campaignsRepo,
		notifyQ:   d.Queues[queue.CampaignNotifications],
		sched:     d.Scheduler,
	}
	qi := &queueInspection{queues: d.Queues}

	e := echo.New()
	e.HideBanner = true
	e.Use(echoMid.Recover(), echoMid.Logger())

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// health
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	// middlewares
	authMW := middleware.APIKeyMiddleware(usersRepo)
	rlMW := middleware.RateLimitMiddleware(d.Limits.UserAPI)

	// routes
	v1 := e.Group("/v1", authMW, rlMW)

	v1.GET("/campaigns/:id", cc.getHandler)
	v1.POST("/campaigns/:id/start", cc.startHandler)
	v1.POST("/campaigns/:id/pause", cc.pauseHandler)
	v1.POST("/campaigns/:id/stop", cc.stopHandler)
	v1.POST("/campaigns/:id/execute", cc.executeHandler)

	v1.GET("/queues", qi.countsHandler)
	v1.POST("/queues/:name/pause", qi.pauseHandler)
	v1.POST("/queues/:name/resume", qi.resumeHandler)
	v1.POST("/queues/:name/clear", qi.clearHandler)

	v1.GET("/reports/messages", listDeliveriesHandler(logsRepo))

	return &Server{e: e}
}

func (s *Server) Start(addr string) error {
	log.Printf("http: listening on %s", addr)
	return s.e.Start(addr)
}
func (s *Server) Shutdown(ctx context.Context) error { return s.e.Shutdown(ctx) }
