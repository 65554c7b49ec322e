package store

import "time"

// AssetType is a reference row created once at deploy time and never
// mutated thereafter.
type AssetType struct {
	ID   int64  `db:"id"`
	Name string `db:"name"`
}

// Known asset type names.
const (
	AssetTypeBond     = "bond"
	AssetTypeCurrency = "currency"
	AssetTypeETF      = "etf"
	AssetTypeFuture   = "future"
	AssetTypeOption   = "option"
	AssetTypeShare    = "share"
)

// AllAssetTypeNames lists every asset type row the deploy step creates.
func AllAssetTypeNames() []string {
	return []string{AssetTypeBond, AssetTypeCurrency, AssetTypeETF, AssetTypeFuture, AssetTypeOption, AssetTypeShare}
}

// Instrument is one tradable asset, keyed externally on UID and internally
// on a stable surrogate ID.
type Instrument struct {
	ID                  int64      `db:"id"`
	UID                 string     `db:"uid"`
	FIGI                *string    `db:"figi"`
	Name                string     `db:"name"`
	AssetTypeID         int64      `db:"asset_type_id"`
	LotSize             int32      `db:"lot_size"`
	OTCFlag             bool       `db:"otc_flag"`
	QualifiedInvestor   bool       `db:"qualified_investor_flag"`
	APITradeAvailable   bool       `db:"api_trade_available_flag"`
	First1MinCandleDate *time.Time `db:"first_1min_candle_date"`
	First1DayCandleDate *time.Time `db:"first_1day_candle_date"`
}

// Candle is one historical OHLCV datum. Composite primary key is
// (InstrumentID, Timestamp); a conflicting insert is dropped, never
// overwritten.
type Candle struct {
	InstrumentID int64     `db:"instrument_id"`
	Timestamp    time.Time `db:"timestamp"`
	Open         float64   `db:"open"`
	Close        float64   `db:"close"`
	High         float64   `db:"high"`
	Low          float64   `db:"low"`
	Volume       int64     `db:"volume"`
}

// HistoryEnding is derived, never persisted: for an instrument with a FIGI
// and a known earliest-1-minute-candle date, the point up to which its
// history has already been fetched.
type HistoryEnding struct {
	Instrument Instrument
	HistoryEnd time.Time
}
