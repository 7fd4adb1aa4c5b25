// Package web is the JSON HTTP surface of the engine.
package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/joshuaslong/labor-membership-sub000/internal/auth"
	appLog "github.com/joshuaslong/labor-membership-sub000/internal/log"
	"github.com/joshuaslong/labor-membership-sub000/internal/metrics"
	"github.com/joshuaslong/labor-membership-sub000/internal/model"
	"github.com/joshuaslong/labor-membership-sub000/internal/recurrence"
	"github.com/joshuaslong/labor-membership-sub000/internal/rsvp"
	"github.com/joshuaslong/labor-membership-sub000/internal/schedule"
	"github.com/joshuaslong/labor-membership-sub000/internal/series"
	"github.com/joshuaslong/labor-membership-sub000/internal/store"
)

// errBadRequest marks malformed path, query or body input.
var errBadRequest = errors.New("bad request")

// Server serves the series, occurrence and RSVP API.
type Server struct {
	store    *store.Store
	verifier *auth.Verifier
	authz    auth.Authorizer

	materializer *schedule.Materializer
	editor       *series.Editor
	ledger       *rsvp.Ledger

	engine *gin.Engine
}

// Options configures NewServer. MaxOccurrences <= 0 uses the expansion
// default.
type Options struct {
	Store          *store.Store
	Verifier       *auth.Verifier
	Authorizer     auth.Authorizer
	MaxOccurrences int
}

func NewServer(opts Options) (*Server, error) {
	if opts.Store == nil || opts.Verifier == nil {
		return nil, errors.New("web: store and verifier are required")
	}
	authz := opts.Authorizer
	if authz == nil {
		authz = auth.ChapterPolicy{}
	}
	s := &Server{
		store:        opts.Store,
		verifier:     opts.Verifier,
		authz:        authz,
		materializer: schedule.NewMaterializer(opts.Store, opts.MaxOccurrences),
		editor:       series.NewEditor(opts.Store, authz),
		ledger:       rsvp.NewLedger(opts.Store, authz),
	}

	s.engine = gin.New()
	s.engine.Use(gin.Recovery(), requestLog())
	s.registerRoutes()
	return s, nil
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		appLog.Info("stopping HTTP server")
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) registerRoutes() {
	s.engine.GET("/health", s.handleHealth)
	s.engine.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := s.engine.Group("/api")
	api.GET("/rules/describe", s.handleDescribe)

	// Anonymous callers act as guests here.
	open := api.Group("", s.verifier.Optional())
	{
		open.GET("/series/:id", s.handleGetSeries)
		open.GET("/series/:id/calendar.ics", s.handleCalendar)
		open.GET("/series/:id/occurrences", s.handleOccurrences)
		open.GET("/series/:id/occurrences/:date", s.handleOccurrence)
		open.PUT("/series/:id/occurrences/:date/rsvp", s.handleSetRsvp)
		open.DELETE("/series/:id/occurrences/:date/rsvp", s.handleUnsetRsvp)
	}

	member := api.Group("", s.verifier.Required())
	{
		member.POST("/series", s.handleCreate)
		member.PATCH("/series/:id/occurrences/:date", s.handleEdit)
		member.GET("/series/:id/occurrences/:date/rsvps", s.handleListRsvps)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	if err := s.store.Ping(c.Request.Context()); err != nil {
		appLog.Error("health check failed", err)
		c.String(http.StatusServiceUnavailable, "database unavailable")
		return
	}
	c.String(http.StatusOK, "OK")
}

// requestLog logs one line per request at a level matching its status.
func requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		kv := []any{
			"method", c.Request.Method,
			"route", c.FullPath(),
			"status", c.Writer.Status(),
			"took", time.Since(start).Round(time.Microsecond),
		}
		switch status := c.Writer.Status(); {
		case status >= 500:
			appLog.Warn("http request", kv...)
		case c.Request.URL.Path == "/health" || c.Request.URL.Path == "/metrics":
			appLog.Debug("http request", kv...)
		default:
			appLog.Info("http request", kv...)
		}
	}
}

// fail writes err as a JSON error with the status it maps to.
func fail(c *gin.Context, err error) {
	status, msg := classify(err)
	if status == http.StatusInternalServerError {
		appLog.Error("request failed", err, "route", c.FullPath())
	}
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}

func classify(err error) (int, string) {
	var (
		badRule     *recurrence.InvalidRuleError
		unsupported *recurrence.UnsupportedRuleError
		notInstance *schedule.InvalidInstanceError
		conflict    *series.ConcurrentModificationError
	)
	switch {
	case errors.As(err, &notInstance):
		return http.StatusUnprocessableEntity, "that date is no longer part of this event"
	case errors.As(err, &conflict):
		return http.StatusConflict, err.Error()
	case errors.Is(err, store.ErrIntegrityHold):
		return http.StatusLocked, err.Error()
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, auth.ErrForbidden):
		return http.StatusForbidden, err.Error()
	case errors.As(err, &badRule),
		errors.As(err, &unsupported),
		errors.Is(err, series.ErrScope),
		errors.Is(err, series.ErrInvalidSeries),
		errors.Is(err, rsvp.ErrInvalidAttendee),
		errors.Is(err, rsvp.ErrInvalidStatus),
		errors.Is(err, errBadRequest):
		return http.StatusBadRequest, err.Error()
	}
	return http.StatusInternalServerError, "internal error"
}

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

func seriesID(c *gin.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, badRequest("invalid series id %q", c.Param("id"))
	}
	return id, nil
}

func pathDate(c *gin.Context) (model.Date, error) {
	d, err := model.ParseDate(c.Param("date"))
	if err != nil {
		return model.Date{}, badRequest("%v", err)
	}
	return d, nil
}

// occurrencePath parses :id and :date.
func occurrencePath(c *gin.Context) (uuid.UUID, model.Date, error) {
	id, err := seriesID(c)
	if err != nil {
		return uuid.Nil, model.Date{}, err
	}
	d, err := pathDate(c)
	return id, d, err
}
