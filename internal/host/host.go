// Package host assembles the shared, process-lifetime collaborators every
// subcommand needs — the HTTP client, the database store, the rate
// limiter's watcher goroutine, and the extractor worker pool — and tears
// them down in a fixed order.
package host

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/sawpanic/investcandles/internal/config"
	"github.com/sawpanic/investcandles/internal/extract"
	"github.com/sawpanic/investcandles/internal/history"
	applog "github.com/sawpanic/investcandles/internal/log"
	"github.com/sawpanic/investcandles/internal/ratelimit"
	"github.com/sawpanic/investcandles/internal/store"
)

// Host owns every shared, long-lived resource for one process invocation.
type Host struct {
	Logger    zerolog.Logger
	HTTP      *http.Client
	Store     *store.Store
	Limiter   *ratelimit.Limiter
	Extractor *extract.Pool

	cfg config.Config
}

// New constructs a Host: opens the database pools, starts the limiter's
// watcher goroutine, and starts the extractor worker pool. Callers must
// defer Close.
func New(ctx context.Context, cfg config.Config) (*Host, error) {
	logger := applog.New()

	st, err := store.Open(ctx, logger, cfg.DatabaseURL, cfg.DatabaseName)
	if err != nil {
		return nil, fmt.Errorf("host: open store: %w", err)
	}

	limiter := ratelimit.New(logger, cfg.Tunables.DefaultBucketTokens, cfg.Tunables.DefaultBucketPeriod())
	pool := extract.NewPool(cfg.Tunables.ExtractWorkers)

	return &Host{
		Logger:    logger,
		HTTP:      history.DefaultHTTPClient(cfg.Tunables.RequestTimeout()),
		Store:     st,
		Limiter:   limiter,
		Extractor: pool,
		cfg:       cfg,
	}, nil
}

// Token returns the bearer token used for both the history-data and
// metadata endpoints.
func (h *Host) Token() string { return h.cfg.InvestToken }

// HistoryConfig builds the history.Config shared by every fetcher spawned
// against this Host.
func (h *Host) HistoryConfig() history.Config {
	return history.Config{
		HTTPClient:           h.HTTP,
		Token:                h.cfg.InvestToken,
		Limiter:              h.Limiter,
		Extractor:            h.Extractor,
		Logger:               h.Logger,
		SecondChancePriority: int64(h.cfg.Tunables.SecondChancePriority),
	}
}

// Close tears resources down in order: limiter watcher, HTTP idle
// connections, extractor workers, database pools.
func (h *Host) Close() {
	h.Limiter.Close()
	if transport, ok := h.HTTP.Transport.(*http.Transport); ok {
		transport.CloseIdleConnections()
	}
	h.Extractor.Close()
	h.Store.Close()
}
