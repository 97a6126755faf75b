package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"sermonflow/internal/audit"
	"sermonflow/internal/logging"
	"sermonflow/internal/services"
	"sermonflow/internal/store"
	"sermonflow/internal/workers"
	"sermonflow/internal/workflow"
)

const (
	headerActor     = "X-Actor"
	headerRequestID = echo.HeaderXRequestID
)

// Options wires the engine components the routes call into.
type Options struct {
	Manager *workflow.Manager
	Workers *workers.Registry
	Audit   *audit.Log
	Store   *store.Store
	// Reconciler is optional; its state is reported by GET /api/status.
	Reconciler *workflow.Reconciler
	// Token, when set, is required as a bearer token on every /api route.
	Token string
}

// Server serves the engine's HTTP surface.
type Server struct {
	manager    *workflow.Manager
	workers    *workers.Registry
	audit      *audit.Log
	store      *store.Store
	reconciler *workflow.Reconciler
	logger     *slog.Logger
	echo       *echo.Echo
}

// New builds the router. Manager, Workers, Audit and Store are required.
func New(opts Options, logger *slog.Logger) (*Server, error) {
	if opts.Manager == nil || opts.Workers == nil || opts.Audit == nil || opts.Store == nil {
		return nil, errors.New("api server requires manager, workers, audit log, and store")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	s := &Server{
		manager:    opts.Manager,
		workers:    opts.Workers,
		audit:      opts.Audit,
		store:      opts.Store,
		reconciler: opts.Reconciler,
		logger:     logging.NewComponentLogger(logger, "api"),
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.handleError
	e.Use(middleware.Recover())
	e.Use(s.requestContext)

	g := e.Group("/api")
	g.Use(authMiddleware(opts.Token))
	s.routes(g)
	s.echo = e
	return s, nil
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) routes(g *echo.Group) {
	g.POST("/workflows", s.createWorkflow)
	g.GET("/workflows", s.listWorkflows)
	g.GET("/workflows/:id", s.getWorkflow)
	g.POST("/workflows/:id/start", s.startWorkflow)
	g.POST("/workflows/:id/cancel", s.cancelWorkflow)
	g.POST("/workflows/:id/fail", s.failWorkflow)
	g.GET("/workflows/:id/progress", s.workflowProgress)

	g.GET("/tasks", s.listTasks)
	g.GET("/tasks/:id", s.getTask)
	g.POST("/tasks/:id/assign", s.assignTask)
	g.POST("/tasks/:id/status", s.updateTaskStatus)
	g.POST("/tasks/:id/heartbeat", s.heartbeat)
	g.POST("/tasks/:id/cancel", s.cancelTask)

	g.GET("/workers", s.listWorkers)
	g.POST("/workers", s.registerWorker)
	g.GET("/workers/:id", s.getWorker)
	g.POST("/workers/:id/availability", s.setAvailability)
	g.POST("/workers/:id/deactivate", s.deactivateWorker)

	g.GET("/audit", s.listAudit)
	g.GET("/status", s.status)
}

// requestContext tags the request context with a correlation id and the
// acting principal, and logs the outcome.
func (s *Server) requestContext(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := c.Request()
		requestID := strings.TrimSpace(req.Header.Get(headerRequestID))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Response().Header().Set(headerRequestID, requestID)

		ctx := services.WithRequestID(req.Context(), requestID)
		if actor := strings.TrimSpace(req.Header.Get(headerActor)); actor != "" {
			ctx = services.WithActor(ctx, actor)
		}
		c.SetRequest(req.WithContext(ctx))

		start := time.Now()
		err := next(c)
		if err != nil {
			c.Error(err)
		}
		logging.WithContext(ctx, s.logger).Debug("api request",
			logging.String("method", req.Method),
			logging.String("path", c.Path()),
			logging.Int("status", c.Response().Status),
			logging.Duration("took", time.Since(start)),
		)
		return nil
	}
}

// authMiddleware validates bearer tokens. An empty token disables the check.
func authMiddleware(token string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		if token == "" {
			return next
		}
		return func(c echo.Context) error {
			auth := c.Request().Header.Get(echo.HeaderAuthorization)
			if !strings.HasPrefix(auth, "Bearer ") || strings.TrimPrefix(auth, "Bearer ") != token {
				return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
			}
			return next(c)
		}
	}
}
