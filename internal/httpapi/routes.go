// Package httpapi exposes the trigger surface and record writes over HTTP.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	logx "deadlinebot/pkg/logx"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

func Register(e *echo.Echo, h *Handler) {
	e.GET("/healthz", h.Health)
	e.GET("/jobs", h.ListJobs)
	e.GET("/engine", h.EngineStatus)
	e.GET("/stats", h.Stats)
	e.POST("/sweep", h.Sweep)

	e.GET("/groups", h.ListGroups)
	e.GET("/groups/:group/tasks", h.ListTasks)
	e.POST("/groups/:group/tasks", h.CreateTask)
	e.DELETE("/groups/:group/tasks/:index", h.DeleteTask)

	e.PUT("/users/:id", h.UpdateUser)
	e.GET("/users/:id/reminders", h.PreviewReminders)
	e.POST("/users/:id/test-reminder", h.TestReminder)
}

// New builds an echo instance with recovery, a body limit and request
// logging, and registers the routes.
func New(h *Handler, log logx.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit("64K"))
	e.Use(requestLogger(log))
	Register(e, h)
	return e
}

// Server runs an echo instance until Stop.
type Server struct {
	addr string
	e    *echo.Echo
	log  logx.Logger
}

func NewServer(addr string, e *echo.Echo, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Server{addr: addr, e: e, log: log}
}

// Run serves until ctx is done or the listener fails.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http listening", logx.String("addr", s.addr))
		errCh <- s.e.Start(s.addr)
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.e.Shutdown(sctx); err != nil {
			s.log.Warn("http shutdown error", logx.Err(err))
		}
		return nil
	}
}

func requestLogger(log logx.Logger) echo.MiddlewareFunc {
	if log.IsZero() {
		log = logx.Nop()
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			status := c.Response().Status
			fields := []logx.Field{
				logx.String("method", c.Request().Method),
				logx.String("path", c.Path()),
				logx.Int("status", status),
				logx.Duration("took", time.Since(start)),
			}
			switch {
			case status >= 500:
				log.Warn("http request failed", append(fields, logx.Err(err))...)
			default:
				log.Debug("http request", fields...)
			}
			// Already handled above.
			return nil
		}
	}
}
