package server

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mohammad-safakhou/askdoc/config"
)

// Server wires the echo engine, middleware and routes around a Runner.
type Server struct {
	echo   *echo.Echo
	listen string
}

func New(cfg *config.Config, runner Runner) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
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
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Content-Type", "Authorization"},
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	qa := e.Group("/api/v1/qa")
	if cfg.Server.APIToken != "" {
		qa.Use(BearerAuth(cfg.Server.APIToken))
	}
	h := &QAHandler{Runner: runner, Logger: baseLogger}
	h.Register(qa)

	return &Server{echo: e, listen: cfg.Server.Listen}
}

// Handler exposes the router for httptest.
func (s *Server) Handler() http.Handler { return s.echo }

// Start blocks serving on the configured listen address.
func (s *Server) Start() error {
	return s.echo.Start(s.listen)
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
