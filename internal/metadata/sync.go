// Package metadata syncs instrument metadata from the upstream service into
// the local store, one asset type at a time.
package metadata

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/sawpanic/investcandles/internal/store"
)

// instrumentStore is the subset of *store.Store Sync depends on.
type instrumentStore interface {
	AddInstruments(ctx context.Context, assetTypeName string, instruments []store.Instrument) error
}

// Sync fetches every asset type's instruments from client and upserts them
// into st, one asset type per goroutine. The first upsert failure cancels
// the remaining fetches; a fetch failure for one asset type does not stop
// the others from completing.
func Sync(ctx context.Context, logger zerolog.Logger, client Client, st instrumentStore, assetTypes []string) error {
	g, gctx := errgroup.WithContext(ctx)

	for _, assetType := range assetTypes {
		assetType := assetType
		g.Go(func() error {
			records, err := client.ListInstruments(gctx, assetType)
			if err != nil {
				logger.Warn().Err(err).Str("asset_type", assetType).Msg("metadata fetch failed, skipping asset type")
				return nil
			}

			instruments := make([]store.Instrument, 0, len(records))
			for _, r := range records {
				instruments = append(instruments, toInstrument(r))
			}

			if err := st.AddInstruments(gctx, assetType, instruments); err != nil {
				return err
			}
			logger.Info().Str("asset_type", assetType).Int("count", len(instruments)).Msg("instruments synced")
			return nil
		})
	}

	return g.Wait()
}

func toInstrument(r Record) store.Instrument {
	var figi *string
	if r.FIGI != "" {
		figi = &r.FIGI
	}

	return store.Instrument{
		UID:                 r.UID,
		FIGI:                figi,
		Name:                r.Name,
		LotSize:             r.LotSize,
		OTCFlag:             r.OTCFlag,
		QualifiedInvestor:   r.QualifiedInvestor,
		APITradeAvailable:   r.APITradeAvailable,
		First1MinCandleDate: normalizeTimestamp(r.RawFirst1MinCandle),
		First1DayCandleDate: normalizeTimestamp(r.RawFirst1DayCandle),
	}
}

// normalizeTimestamp converts upstream's epoch-for-absent convention into a
// genuinely absent value, and strips monotonic/location data so the result
// is a naive UTC instant.
func normalizeTimestamp(t time.Time) *time.Time {
	if t.IsZero() || t.Unix() == 0 {
		return nil
	}
	naive := t.UTC()
	return &naive
}
