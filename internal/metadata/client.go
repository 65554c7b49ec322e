package metadata

import (
	"context"
	"time"
)

// Record is one instrument as reported by the upstream metadata service,
// before conversion to store.Instrument. RawFirst1MinCandle and
// RawFirst1DayCandle use the service's own epoch-for-absent convention;
// Sync is responsible for normalizing that away.
type Record struct {
	UID               string
	FIGI              string
	Name              string
	LotSize           int32
	OTCFlag           bool
	QualifiedInvestor bool
	APITradeAvailable bool

	RawFirst1MinCandle time.Time
	RawFirst1DayCandle time.Time
}

// Client is the black-box instrument-metadata service this process syncs
// from. A concrete HTTP implementation lives in http_client.go.
type Client interface {
	ListInstruments(ctx context.Context, assetType string) ([]Record, error)
}
