package store

// Schema DDL, applied in order by Store.Create. Identity columns are
// generated BY DEFAULT AS IDENTITY so existing rows can still specify
// their own id when needed.
const (
	ddlAssetType = `
CREATE TABLE IF NOT EXISTS asset_type (
	id   integer GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY,
	name text NOT NULL UNIQUE
)`

	ddlInstrument = `
CREATE TABLE IF NOT EXISTS instrument (
	id                        integer GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY,
	uid                       text NOT NULL UNIQUE,
	figi                      text,
	name                      text NOT NULL,
	asset_type_id             integer NOT NULL REFERENCES asset_type(id),
	lot_size                  integer NOT NULL,
	otc_flag                  boolean NOT NULL DEFAULT false,
	qualified_investor_flag   boolean NOT NULL DEFAULT false,
	api_trade_available_flag  boolean NOT NULL DEFAULT false,
	first_1min_candle_date    timestamptz,
	first_1day_candle_date    timestamptz
)`

	ddlCandle = `
CREATE TABLE IF NOT EXISTS candle (
	instrument_id integer NOT NULL REFERENCES instrument(id),
	timestamp     timestamptz NOT NULL,
	open          double precision NOT NULL,
	close         double precision NOT NULL,
	high          double precision NOT NULL,
	low           double precision NOT NULL,
	volume        bigint NOT NULL,
	PRIMARY KEY (instrument_id, timestamp)
)`

	dmlSeedAssetTypes = `
INSERT INTO asset_type (name) VALUES
	('bond'), ('currency'), ('etf'), ('future'), ('option'), ('share')
ON CONFLICT (name) DO NOTHING`
)

// tempCandleDDL creates the per-COPY staging table used by
// Store.SaveCandleHistory. It is dropped automatically on commit.
const tempCandleDDL = `CREATE TEMP TABLE %s (LIKE candle) ON COMMIT DROP`
