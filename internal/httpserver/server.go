package httpserver

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/dmop77/voicegate/internal/config"
	"github.com/dmop77/voicegate/internal/session"
)

// New creates a configured Echo instance with the service routes.
func New(cfg config.Config) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	h := session.NewHandler(cfg)
	e.GET("/ws", func(c echo.Context) error {
		h.ServeWS(c.Response(), c.Request())
		return nil
	})

	return e
}
