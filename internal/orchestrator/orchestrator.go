// Package orchestrator fans a download-history run out into one fetcher
// per instrument and one save task per fetched year, and waits for all of
// them before returning.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/sawpanic/investcandles/internal/history"
	applog "github.com/sawpanic/investcandles/internal/log"
	"github.com/sawpanic/investcandles/internal/store"
)

// historyStore is the subset of *store.Store the orchestrator depends on.
type historyStore interface {
	GetHistoryEndings(ctx context.Context, figis []string) (<-chan store.HistoryEnding, <-chan error)
	SaveCandleHistory(ctx context.Context, csv []byte) error
}

// saveTaskError marks a failure that occurred saving a fetched year, as
// opposed to a failure internal to the fetcher's own retry machinery.
// Only this kind of error aborts the run.
type saveTaskError struct {
	figi string
	err  error
}

func (e *saveTaskError) Error() string { return fmt.Sprintf("save %s: %v", e.figi, e.err) }
func (e *saveTaskError) Unwrap() error { return e.err }

// Run drives a full download-history invocation: it streams instruments
// from store.GetHistoryEndings (optionally filtered to figis), spawns one
// fetcher per instrument, and one save task per CSV a fetcher yields. The
// first save-task failure aborts the run via context cancellation; any
// other fetcher-internal failure is logged and does not affect the other
// instruments in flight.
func Run(ctx context.Context, logger zerolog.Logger, st historyStore, cfg history.Config, figis []string) error {
	endings, errc := st.GetHistoryEndings(ctx, figis)

	g, gctx := errgroup.WithContext(ctx)

	progress := applog.NewInstrumentProgress(logger, 0)
	currentYear := time.Now().UTC().Year()

	for ending := range endings {
		ending := ending
		if ending.Instrument.FIGI == nil {
			continue
		}
		figi := *ending.Instrument.FIGI

		g.Go(func() error {
			fetcher := history.New(cfg, figi, ending.Instrument.ID, ending.Instrument.UID)
			fetcher.WithSink(func(sctx context.Context, csv []byte) error {
				g.Go(func() error {
					if err := st.SaveCandleHistory(sctx, csv); err != nil {
						return &saveTaskError{figi: figi, err: err}
					}
					return nil
				})
				return nil
			})

			runErr := fetcher.Run(gctx, ending.HistoryEnd.Year(), currentYear)
			progress.InstrumentDone(figi, runErr)

			if runErr != nil {
				logger.Warn().Err(runErr).Str("figi", figi).Msg("instrument fetch failed, continuing run")
			}
			return nil
		})
	}

	if err := <-errc; err != nil {
		return fmt.Errorf("orchestrator: list history endings: %w", err)
	}

	err := g.Wait()
	progress.Finish()
	return err
}
