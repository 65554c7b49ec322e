// Package history implements the per-instrument request driver: it waits
// for rate-limiter admission, performs the upstream HTTP GET, classifies
// the response, feeds headers back to the limiter, and yields decoded CSV
// bytes for each successfully fetched year.
package history

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/sawpanic/investcandles/internal/extract"
	"github.com/sawpanic/investcandles/internal/ratelimit"
)

// priorityCounter is the process-wide monotonic counter from which every
// Fetcher's initial priority is drawn: fetchers constructed earlier get
// lower priority numbers and so are admitted first whenever tokens are
// scarce.
var priorityCounter int64

// nextPriority returns the next value in the process-wide monotonic
// sequence.
func nextPriority() int64 {
	return atomic.AddInt64(&priorityCounter, 1)
}

const upstreamBaseURL = "https://invest-public-api.tinkoff.ru/history-data"

// retryBackoff smooths second-chance retries across every Fetcher in the
// process: the admission queue already orders who goes next, but without
// this a burst of simultaneous non-OK responses would all retry in the
// same instant. This is a coarse, process-wide limiter independent of the
// priority-ordered admission queue in internal/ratelimit.
var retryBackoff = rate.NewLimiter(rate.Every(100*time.Millisecond), 4)

// Sink receives the rewritten CSV bytes for one successfully fetched year.
type Sink func(ctx context.Context, csv []byte) error

// Fetcher drives the per-instrument year loop. Construct one per
// instrument via New; Run issues at most one in-flight HTTP request at a
// time and never waits without holding a limiter ticket.
type Fetcher struct {
	figi         string
	instrumentID int64
	uid          string

	priority             int64
	secondChancePriority int64

	httpClient *http.Client
	token      string
	limiter    *ratelimit.Limiter
	extractor  *extract.Pool
	logger     zerolog.Logger
	sink       Sink
}

// Config bundles the shared, per-process collaborators every Fetcher
// needs; New copies it in rather than threading six parameters through
// every call site.
type Config struct {
	HTTPClient           *http.Client
	Token                string
	Limiter              *ratelimit.Limiter
	Extractor            *extract.Pool
	Logger               zerolog.Logger
	SecondChancePriority int64
}

// New constructs a Fetcher for one instrument, assigning it the next
// priority from the process-wide monotonic counter.
func New(cfg Config, figi string, instrumentID int64, uid string) *Fetcher {
	return &Fetcher{
		figi:                 figi,
		instrumentID:         instrumentID,
		uid:                  uid,
		priority:             nextPriority(),
		secondChancePriority: cfg.SecondChancePriority,
		httpClient:           cfg.HTTPClient,
		token:                cfg.Token,
		limiter:              cfg.Limiter,
		extractor:            cfg.Extractor,
		logger:               cfg.Logger,
	}
}

// Run walks years from firstYear through currentYear inclusive, calling
// sink once per successfully decoded year. It returns nil on normal
// termination (404, or reaching currentYear), and also when a non-OK
// status persists through the one second-chance retry (logged as a
// warning). A non-nil error means the request itself failed (for example
// timed out) even after its one second-chance retry, or the caller's
// context was cancelled, or the extractor/sink itself failed.
func (f *Fetcher) Run(ctx context.Context, firstYear, currentYear int) error {
	firstChanceFailed := false

	for year := firstYear; year <= currentYear; {
		if err := f.limiter.Admit(ctx, f.priority); err != nil {
			return fmt.Errorf("history: admit: %w", err)
		}

		resp, err := f.get(ctx, year)
		if err != nil {
			if ctx.Err() != nil || firstChanceFailed {
				return fmt.Errorf("history: request year %d: %w", year, err)
			}
			firstChanceFailed = true
			f.priority += f.secondChancePriority
			if err := retryBackoff.Wait(ctx); err != nil {
				return fmt.Errorf("history: retry backoff: %w", err)
			}
			continue // a failed request (e.g. a timeout) gets the same one retry as a non-OK status
		}

		f.limiter.ApplyHeaders(resp.Header)

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			body, readErr := io.ReadAll(resp.Body)
			resp.Body.Close()
			if readErr != nil {
				return fmt.Errorf("history: read body year %d: %w", year, readErr)
			}

			csv, extractErr := f.extractor.Submit(ctx, extract.Job{
				ZIPBytes: body,
				UID:      f.uid,
				ID:       strconv.FormatInt(f.instrumentID, 10),
			})
			if extractErr != nil {
				return fmt.Errorf("history: extract year %d: %w", year, extractErr)
			}

			if err := f.sinkTo(ctx, csv); err != nil {
				return fmt.Errorf("history: save year %d: %w", year, err)
			}

			if firstChanceFailed {
				firstChanceFailed = false
				f.priority -= f.secondChancePriority
			}
			if year == currentYear {
				return nil
			}
			year++

		case resp.StatusCode == http.StatusNotFound:
			resp.Body.Close()
			return nil

		default:
			resp.Body.Close()
			if !firstChanceFailed {
				firstChanceFailed = true
				f.priority += f.secondChancePriority
				if err := retryBackoff.Wait(ctx); err != nil {
					return fmt.Errorf("history: retry backoff: %w", err)
				}
				continue // retry the same year at demoted priority
			}
			f.logger.Warn().
				Str("figi", f.figi).
				Int("year", year).
				Int("status", resp.StatusCode).
				Msg("second chance exhausted, abandoning instrument")
			return nil
		}
	}

	return nil
}

// sinkTo calls the attached Sink, if any; a Fetcher built without one
// (e.g. in tests of the retry state machine) treats every year as
// successfully saved.
func (f *Fetcher) sinkTo(ctx context.Context, csv []byte) error {
	if f.sink == nil {
		return nil
	}
	return f.sink(ctx, csv)
}

// WithSink attaches the callback invoked for each successfully decoded
// year's CSV bytes.
func (f *Fetcher) WithSink(sink Sink) *Fetcher {
	f.sink = sink
	return f
}

// Priority returns the fetcher's current admission priority, exposed for
// tests asserting promotion/demotion around a retry; not used by
// production code paths.
func (f *Fetcher) Priority() int64 { return f.priority }

// FIGI returns the instrument FIGI this fetcher drives.
func (f *Fetcher) FIGI() string { return f.figi }

func (f *Fetcher) get(ctx context.Context, year int) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, upstreamBaseURL, nil)
	if err != nil {
		return nil, err
	}
	q := req.URL.Query()
	q.Set("figi", f.figi)
	q.Set("year", strconv.Itoa(year))
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Authorization", "Bearer "+f.token)

	return f.httpClient.Do(req)
}

// DefaultHTTPClient builds the shared, pooled-transport client every
// Fetcher uses.
func DefaultHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:    10,
			IdleConnTimeout: 30 * time.Second,
		},
	}
}
