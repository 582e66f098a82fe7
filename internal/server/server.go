package server

import (
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mohammad-safakhou/deepresearch/config"
	"github.com/mohammad-safakhou/deepresearch/internal/agent"
	"github.com/mohammad-safakhou/deepresearch/internal/research"
	"github.com/mohammad-safakhou/deepresearch/internal/telemetry"
)

// Run wires the full service and blocks serving HTTP on the configured
// address.
func Run(cfg *config.Config) error {
	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)

	tele := telemetry.New(cfg.Telemetry)
	registry := research.NewRegistry(log.New(log.Writer(), "[REGISTRY] ", log.LstdFlags), tele)
	executor, err := agent.NewExecutor(cfg, log.New(log.Writer(), "[AGENT] ", log.LstdFlags))
	if err != nil {
		return fmt.Errorf("building agent executor: %w", err)
	}
	pipeline := research.NewPipeline(cfg, log.New(log.Writer(), "[PIPELINE] ", log.LstdFlags), registry, executor, tele)

	e := newEcho(cfg, baseLogger)

	registerHealth(e, cfg)
	if cfg.Telemetry.Enabled {
		e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	}

	rh := &ResearchHandler{Cfg: cfg, Registry: registry, Pipeline: pipeline, Logger: baseLogger}
	rh.Register(e.Group("/api/research"))

	ws := &WSHandler{Cfg: cfg, Registry: registry, Logger: log.New(log.Writer(), "[WS] ", log.LstdFlags)}
	e.GET("/ws/research/:id", ws.Handle)

	baseLogger.Printf("listening on %s", cfg.Server.Address)
	return e.Start(cfg.Server.Address)
}

// newEcho builds the echo instance with the shared middleware stack.
// Split out so handler tests run against the same error handling and
// CORS behavior as the real server.
func newEcho(cfg *config.Config, logger *log.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		logger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"detail": msg})
		}
	}

	origins := cfg.Server.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type"},
		AllowCredentials: true,
	}))
	return e
}
