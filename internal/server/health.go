package server

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/deepresearch/config"
)

func registerHealth(e *echo.Echo, cfg *config.Config) {
	e.GET("/", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"name":    "deepresearch",
			"version": "1.0.0",
			"status":  "operational",
		})
	})
	e.GET("/api/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "healthy"})
	})
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	// Readiness fails fast when the service cannot possibly complete a
	// run, i.e. no LLM provider carries an API key.
	e.GET("/api/ready", func(c echo.Context) error {
		for _, p := range cfg.LLM.Providers {
			if p.APIKey != "" {
				return c.JSON(http.StatusOK, map[string]interface{}{"ready": true})
			}
		}
		return c.JSON(http.StatusOK, map[string]interface{}{
			"ready":  false,
			"reason": "no llm provider api key configured",
		})
	})
	e.GET("/api/live", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]interface{}{"alive": true})
	})
}
