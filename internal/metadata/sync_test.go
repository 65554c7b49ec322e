package metadata

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/sawpanic/investcandles/internal/store"
)

type fakeClient struct {
	records map[string][]Record
	errs    map[string]error
}

func (c *fakeClient) ListInstruments(ctx context.Context, assetType string) ([]Record, error) {
	if err, ok := c.errs[assetType]; ok {
		return nil, err
	}
	return c.records[assetType], nil
}

type recordingStore struct {
	mu    sync.Mutex
	calls map[string][]store.Instrument
}

func (s *recordingStore) AddInstruments(ctx context.Context, assetTypeName string, instruments []store.Instrument) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.calls == nil {
		s.calls = make(map[string][]store.Instrument)
	}
	s.calls[assetTypeName] = instruments
	return nil
}

func TestSyncConvertsAndUpsertsPerAssetType(t *testing.T) {
	client := &fakeClient{
		records: map[string][]Record{
			"share": {
				{UID: "u1", FIGI: "F1", Name: "Share One", LotSize: 10, RawFirst1MinCandle: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)},
			},
			"bond": {
				{UID: "u2", Name: "Bond One"},
			},
		},
	}
	st := &recordingStore{}

	err := Sync(context.Background(), zerolog.Nop(), client, st, []string{"share", "bond"})
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	shareInstruments := st.calls["share"]
	if len(shareInstruments) != 1 || shareInstruments[0].FIGI == nil || *shareInstruments[0].FIGI != "F1" {
		t.Fatalf("share instruments = %+v", shareInstruments)
	}
	if shareInstruments[0].First1MinCandleDate == nil {
		t.Fatal("expected non-epoch timestamp preserved")
	}

	bondInstruments := st.calls["bond"]
	if len(bondInstruments) != 1 || bondInstruments[0].FIGI != nil {
		t.Fatalf("bond instruments = %+v, want nil FIGI", bondInstruments)
	}
}

func TestSyncSkipsAssetTypeOnFetchError(t *testing.T) {
	client := &fakeClient{
		errs: map[string]error{"future": fmt.Errorf("upstream down")},
		records: map[string][]Record{
			"etf": {{UID: "u3", Name: "ETF One"}},
		},
	}
	st := &recordingStore{}

	if err := Sync(context.Background(), zerolog.Nop(), client, st, []string{"future", "etf"}); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if _, ok := st.calls["future"]; ok {
		t.Fatal("expected no upsert call for failed asset type")
	}
	if _, ok := st.calls["etf"]; !ok {
		t.Fatal("expected etf to still be synced")
	}
}

func TestNormalizeTimestampTreatsEpochAsAbsent(t *testing.T) {
	if got := normalizeTimestamp(time.Unix(0, 0)); got != nil {
		t.Fatalf("normalizeTimestamp(epoch) = %v, want nil", got)
	}
	if got := normalizeTimestamp(time.Time{}); got != nil {
		t.Fatalf("normalizeTimestamp(zero) = %v, want nil", got)
	}

	real := time.Date(2022, 6, 1, 12, 0, 0, 0, time.FixedZone("MSK", 3*3600))
	got := normalizeTimestamp(real)
	if got == nil {
		t.Fatal("expected non-nil for real timestamp")
	}
	if got.Location() != time.UTC {
		t.Fatalf("normalizeTimestamp did not convert to UTC: %v", got.Location())
	}
}
