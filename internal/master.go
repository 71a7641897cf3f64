// Package internal wires the runboard master together: configuration, the
// two stores, the search layer, and the HTTP API.
package internal

import (
	"context"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/runboard-ai/runboard/internal/cache"
	"github.com/runboard-ai/runboard/internal/config"
	"github.com/runboard-ai/runboard/internal/db"
	"github.com/runboard-ai/runboard/internal/metrics"
	"github.com/runboard-ai/runboard/internal/runs"
	"github.com/runboard-ai/runboard/pkg/idcodec"
)

// Master is the runboard master process.
type Master struct {
	config *config.Config

	db       *db.PgDB
	metrics  *metrics.Store
	cache    *cache.Cache
	searcher *runs.Searcher
	codec    *idcodec.Codec

	echo *echo.Echo
}

// New creates a Master from a resolved configuration.
func New(cfg *config.Config) *Master {
	return &Master{config: cfg}
}

// route adapts a handler returning (body, error) into an echo handler that
// renders the body as JSON.
func route(h func(c echo.Context) (interface{}, error)) echo.HandlerFunc {
	return func(c echo.Context) error {
		body, err := h(c)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, body)
	}
}

// Run starts the master, blocking until ctx is canceled or the server fails.
func (m *Master) Run(ctx context.Context) error {
	log.Infof("runboard master listening on port %d", m.config.Port)

	var err error
	m.db, err = db.Connect(&m.config.DB)
	if err != nil {
		return err
	}
	defer closeWithErrCheck("db", m.db)

	m.metrics, err = metrics.Connect(ctx, &m.config.ClickHouse)
	if err != nil {
		return err
	}
	defer closeWithErrCheck("metrics", m.metrics)

	m.cache, err = cache.Connect(ctx, m.config.Redis)
	if err != nil {
		return err
	}
	if m.cache != nil {
		defer closeWithErrCheck("cache", m.cache)
	}

	m.codec, err = idcodec.New(m.config.IDSalt)
	if err != nil {
		return err
	}
	m.searcher = runs.NewSearcher(m.db, m.metrics, m.cache)

	m.echo = echo.New()
	m.echo.HideBanner = true
	m.echo.Use(middleware.Recover())

	apiV1 := m.echo.Group("/api/v1")
	apiV1.POST("/runs", route(m.postRun))
	apiV1.POST("/runs/search", route(m.searchRuns))
	apiV1.POST("/runs/metrics", route(m.postRunSummaries))
	apiV1.GET("/runs/:token", route(m.getRun))
	apiV1.PATCH("/runs/:token/status", route(m.patchRunStatus))
	apiV1.GET("/projects/:project_id/keys", route(m.getProjectKeys))
	apiV1.GET("/projects/:project_id/metrics", route(m.getProjectMetricNames))

	errs := make(chan error, 1)
	go func() {
		errs <- m.echo.Start(fmt.Sprintf(":%d", m.config.Port))
	}()

	select {
	case <-ctx.Done():
		return m.echo.Shutdown(context.Background())
	case err := <-errs:
		return errors.Wrap(err, "http server failed")
	}
}

func closeWithErrCheck(name string, closer interface{ Close() error }) {
	if err := closer.Close(); err != nil {
		log.WithError(err).Errorf("error closing %s", name)
	}
}
