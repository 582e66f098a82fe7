package server

import (
	"log"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"github.com/mohammad-safakhou/deepresearch/config"
	"github.com/mohammad-safakhou/deepresearch/internal/research"
)

// ResearchHandler owns the session lifecycle endpoints.
type ResearchHandler struct {
	Cfg      *config.Config
	Registry *research.Registry
	Pipeline *research.Pipeline
	Logger   *log.Logger
}

func (h *ResearchHandler) Register(g *echo.Group) {
	g.POST("", h.create, rpmLimiter(h.Cfg.Server.CreateRPM))
	g.GET("/:id", h.status, rpmLimiter(h.Cfg.Server.StatusRPM))
}

// rpmLimiter caps a route at n requests per minute per client IP.
func rpmLimiter(rpm int) echo.MiddlewareFunc {
	if rpm <= 0 {
		rpm = 60
	}
	return middleware.RateLimiter(middleware.NewRateLimiterMemoryStoreWithConfig(
		middleware.RateLimiterMemoryStoreConfig{
			Rate:  rate.Limit(float64(rpm) / 60.0),
			Burst: rpm,
		},
	))
}

type createRequest struct {
	Query string `json:"query"`
}

type createResponse struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
	Message   string `json:"message"`
}

func (h *ResearchHandler) create(c echo.Context) error {
	var req createRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.Query) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query cannot be empty")
	}

	id := h.Registry.Create(req.Query)
	h.Logger.Printf("created session %s for query %q", id, req.Query)
	h.Pipeline.Start(id)

	return c.JSON(http.StatusOK, createResponse{
		SessionID: id,
		Status:    "started",
		Message:   "Research session initiated. Connect to WebSocket for real-time updates.",
	})
}

type statusResponse struct {
	SessionID string                          `json:"session_id"`
	Query     string                          `json:"query"`
	Status    string                          `json:"status"`
	Agents    map[string]research.AgentStatus `json:"agents"`
	Result    string                          `json:"result"`
}

func (h *ResearchHandler) status(c echo.Context) error {
	id := c.Param("id")
	sess, ok := h.Registry.Get(id)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	}
	return c.JSON(http.StatusOK, statusResponse{
		SessionID: sess.ID,
		Query:     sess.Query,
		Status:    string(sess.Status),
		Agents:    sess.Agents,
		Result:    sess.Result,
	})
}
