package orchestrator

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/sawpanic/investcandles/internal/extract"
	"github.com/sawpanic/investcandles/internal/history"
	"github.com/sawpanic/investcandles/internal/ratelimit"
	"github.com/sawpanic/investcandles/internal/store"
)

// buildArchive mirrors internal/history/fetcher_test.go's helper of the
// same name: a single-entry zip whose content is one semicolon-delimited
// candle row for uid, trailing delimiter included.
func buildArchive(t *testing.T, uid string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("year.csv")
	if err != nil {
		t.Fatalf("create entry: %v", err)
	}
	if _, err := w.Write([]byte(uid + ";2021-01-01T00:00:00Z;1;2;3;4;5;\n")); err != nil {
		t.Fatalf("write entry: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip writer: %v", err)
	}
	return buf.Bytes()
}

type fakeHistoryStore struct {
	endings []store.HistoryEnding

	mu       sync.Mutex
	saved    int
	failSave bool
}

func (s *fakeHistoryStore) GetHistoryEndings(ctx context.Context, figis []string) (<-chan store.HistoryEnding, <-chan error) {
	out := make(chan store.HistoryEnding, len(s.endings))
	errc := make(chan error, 1)
	for _, e := range s.endings {
		out <- e
	}
	close(out)
	close(errc)
	return out, errc
}

func (s *fakeHistoryStore) SaveCandleHistory(ctx context.Context, csv []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSave {
		return fmt.Errorf("disk full")
	}
	s.saved++
	return nil
}

func figiPtr(s string) *string { return &s }

// rewriteHostTransport sends every request to base, keeping the query
// string, so a fetcher that always targets the upstream URL reaches the
// test server instead.
type rewriteHostTransport struct {
	base string
}

func (rt rewriteHostTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	target, err := http.NewRequestWithContext(req.Context(), req.Method, rt.base, nil)
	if err != nil {
		return nil, err
	}
	target.URL.RawQuery = req.URL.RawQuery
	target.Header = req.Header
	return http.DefaultTransport.RoundTrip(target)
}

func TestRunAbortsOnSaveFailure(t *testing.T) {
	archive := buildArchive(t, "u1")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Ratelimit-Remaining", "100")
		w.WriteHeader(http.StatusOK)
		w.Write(archive)
	}))
	defer server.Close()

	st := &fakeHistoryStore{
		failSave: true,
		endings: []store.HistoryEnding{
			{Instrument: store.Instrument{ID: 1, UID: "u1", FIGI: figiPtr("F1")}, HistoryEnd: time.Now()},
		},
	}

	limiter := ratelimit.New(zerolog.Nop(), 1000, time.Hour)
	defer limiter.Close()
	pool := extract.NewPool(1)
	defer pool.Close()

	cfg := history.Config{
		HTTPClient: &http.Client{Transport: rewriteHostTransport{base: server.URL}},
		Token:      "t",
		Limiter:    limiter,
		Extractor:  pool,
		Logger:     zerolog.Nop(),
	}

	// The archive decodes to a single 2021 row, so the fetcher's first
	// save attempt hits fakeHistoryStore.SaveCandleHistory's failSave path
	// and Run must surface that failure as a *saveTaskError via errgroup.
	err := Run(context.Background(), zerolog.Nop(), st, cfg, nil)
	if err == nil {
		t.Fatal("expected Run to return an error when SaveCandleHistory fails")
	}

	var saveErr *saveTaskError
	if !errors.As(err, &saveErr) {
		t.Fatalf("Run error = %v, want errors.As to find a *saveTaskError", err)
	}
	if !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("Run error = %v, want it to contain %q", err, "disk full")
	}
}

func TestRunSkipsInstrumentsWithoutFIGI(t *testing.T) {
	st := &fakeHistoryStore{
		endings: []store.HistoryEnding{
			{Instrument: store.Instrument{ID: 2, UID: "u2", FIGI: nil}, HistoryEnd: time.Now()},
		},
	}

	limiter := ratelimit.New(zerolog.Nop(), 1000, time.Hour)
	defer limiter.Close()
	pool := extract.NewPool(1)
	defer pool.Close()

	cfg := history.Config{
		HTTPClient: http.DefaultClient,
		Token:      "t",
		Limiter:    limiter,
		Extractor:  pool,
		Logger:     zerolog.Nop(),
	}

	if err := Run(context.Background(), zerolog.Nop(), st, cfg, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if st.saved != 0 {
		t.Fatalf("expected no saves for instrument without FIGI, got %d", st.saved)
	}
}
