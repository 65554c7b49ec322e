// Package store owns the database connection pools and implements the
// metadata upserts, the history-endings query, and the COPY-based bulk
// candle load.
package store

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rs/zerolog"
)

// pgOperationalErrorNonexistentDatabase is the SQLSTATE lib/pq reports when
// connecting to a database that has not been created yet.
const pgOperationalErrorNonexistentDatabase = "3D000"

// Store owns one typed connection pool (sqlx over lib/pq) for ordinary
// queries and one raw connection pool (pgx) reserved for the COPY protocol,
// which the typed pool cannot expose.
type Store struct {
	logger zerolog.Logger

	dsn          string
	databaseName string

	db  *sqlx.DB
	raw *pgxpool.Pool

	assetTypeMu    sync.Mutex
	assetTypeCache map[string]int64
}

// Open prepares both pools against dsn without requiring the target
// database to already exist: both lib/pq and pgx establish connections
// lazily, so a fresh deployment can call Open, then Create, in sequence
// without Open itself failing on a "database does not exist" error.
func Open(ctx context.Context, logger zerolog.Logger, dsn, databaseName string) (*Store, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlx pool: %w", err)
	}

	raw, err := pgxpool.New(ctx, dsn)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("store: open raw pgx pool: %w", err)
	}

	return &Store{
		logger:         logger,
		dsn:            dsn,
		databaseName:   databaseName,
		db:             db,
		raw:            raw,
		assetTypeCache: make(map[string]int64),
	}, nil
}

// Close releases both pools.
func (s *Store) Close() {
	if s.raw != nil {
		s.raw.Close()
	}
	if s.db != nil {
		s.db.Close()
	}
}

// Create ensures the database exists, creates all tables, and seeds asset
// type rows. Idempotent: the "database does not exist" operational error
// is recovered exactly once.
func (s *Store) Create(ctx context.Context, assetTypeNames []string) error {
	if err := s.db.PingContext(ctx); err != nil {
		if !isNonexistentDatabase(err) {
			return fmt.Errorf("store: create: unexpected startup error: %w", err)
		}
		if err := s.createDatabase(ctx); err != nil {
			return fmt.Errorf("store: create: bootstrap database: %w", err)
		}
		if err := s.db.PingContext(ctx); err != nil {
			return fmt.Errorf("store: create: ping after bootstrap: %w", err)
		}
	}

	for _, ddl := range []string{ddlAssetType, ddlInstrument, ddlCandle} {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("store: create: apply schema: %w", err)
		}
	}

	if _, err := s.db.ExecContext(ctx, dmlSeedAssetTypes); err != nil {
		return fmt.Errorf("store: create: seed asset types: %w", err)
	}

	s.logger.Info().Strs("asset_types", assetTypeNames).Msg("schema bootstrap complete")
	return nil
}

// createDatabase connects to the server's default "postgres" database and
// issues CREATE DATABASE, recovering the "does not exist yet" case exactly
// once.
func (s *Store) createDatabase(ctx context.Context) error {
	bootstrapDSN := replaceDatabaseName(s.dsn, "postgres")

	admin, err := sql.Open("postgres", bootstrapDSN)
	if err != nil {
		return fmt.Errorf("connect to bootstrap database: %w", err)
	}
	defer admin.Close()

	_, err = admin.ExecContext(ctx, fmt.Sprintf("CREATE DATABASE %s", pq.QuoteIdentifier(s.databaseName)))
	if err != nil && !isDuplicateDatabase(err) {
		return fmt.Errorf("create database %s: %w", s.databaseName, err)
	}
	return nil
}

// AddInstruments upserts a batch keyed on uid; every non-PK column is
// overwritten on conflict. The asset-type -> id mapping is resolved once
// per process and memoized behind a mutex so concurrent first-callers
// serialize on the cache load.
func (s *Store) AddInstruments(ctx context.Context, assetTypeName string, instruments []Instrument) error {
	if len(instruments) == 0 {
		return nil
	}

	assetTypeID, err := s.assetTypeID(ctx, assetTypeName)
	if err != nil {
		return fmt.Errorf("store: add instruments: %w", err)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: add instruments: begin tx: %w", err)
	}
	defer tx.Rollback()

	const query = `
INSERT INTO instrument (
	uid, figi, name, asset_type_id, lot_size, otc_flag,
	qualified_investor_flag, api_trade_available_flag,
	first_1min_candle_date, first_1day_candle_date
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (uid) DO UPDATE SET
	figi = EXCLUDED.figi,
	name = EXCLUDED.name,
	asset_type_id = EXCLUDED.asset_type_id,
	lot_size = EXCLUDED.lot_size,
	otc_flag = EXCLUDED.otc_flag,
	qualified_investor_flag = EXCLUDED.qualified_investor_flag,
	api_trade_available_flag = EXCLUDED.api_trade_available_flag,
	first_1min_candle_date = EXCLUDED.first_1min_candle_date,
	first_1day_candle_date = EXCLUDED.first_1day_candle_date`

	stmt, err := tx.PreparexContext(ctx, query)
	if err != nil {
		return fmt.Errorf("store: add instruments: prepare: %w", err)
	}
	defer stmt.Close()

	for _, inst := range instruments {
		if _, err := uuid.Parse(inst.UID); err != nil {
			return fmt.Errorf("store: add instruments: invalid uid %q: %w", inst.UID, err)
		}
		_, err := stmt.ExecContext(ctx,
			inst.UID, inst.FIGI, inst.Name, assetTypeID, inst.LotSize, inst.OTCFlag,
			inst.QualifiedInvestor, inst.APITradeAvailable,
			inst.First1MinCandleDate, inst.First1DayCandleDate)
		if err != nil {
			return fmt.Errorf("store: add instruments: upsert %s: %w", inst.UID, err)
		}
	}

	return tx.Commit()
}

func (s *Store) assetTypeID(ctx context.Context, name string) (int64, error) {
	s.assetTypeMu.Lock()
	defer s.assetTypeMu.Unlock()

	if id, ok := s.assetTypeCache[name]; ok {
		return id, nil
	}

	var id int64
	err := s.db.GetContext(ctx, &id, `SELECT id FROM asset_type WHERE name = $1`, name)
	if err != nil {
		return 0, fmt.Errorf("resolve asset type %q: %w", name, err)
	}
	s.assetTypeCache[name] = id
	return id, nil
}

// GetHistoryEndings executes the derived history-end query and streams
// rows over the first returned channel, ascending by history_end
// (oldest-ending instruments first). That channel is closed when the query
// is exhausted, the context is cancelled, or an error occurs; the second
// channel then yields the error, if any, and is closed.
func (s *Store) GetHistoryEndings(ctx context.Context, figis []string) (<-chan HistoryEnding, <-chan error) {
	out := make(chan HistoryEnding)
	errc := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errc)

		query := `
SELECT
	i.id, i.uid, i.figi, i.name, i.asset_type_id, i.lot_size, i.otc_flag,
	i.qualified_investor_flag, i.api_trade_available_flag,
	i.first_1min_candle_date, i.first_1day_candle_date,
	COALESCE(c.max_ts, i.first_1min_candle_date) AS history_end
FROM instrument i
LEFT JOIN (
	SELECT instrument_id, max(timestamp) AS max_ts
	FROM candle
	GROUP BY instrument_id
) c ON c.instrument_id = i.id
WHERE i.figi IS NOT NULL
  AND i.first_1min_candle_date IS NOT NULL`
		args := []interface{}{}
		if len(figis) > 0 {
			query += " AND i.figi = ANY($1)"
			args = append(args, pq.Array(figis))
		}
		query += " ORDER BY history_end ASC"

		rows, err := s.db.QueryxContext(ctx, query, args...)
		if err != nil {
			errc <- fmt.Errorf("store: get history endings: query: %w", err)
			return
		}
		defer rows.Close()

		for rows.Next() {
			var inst Instrument
			var historyEnd sql.NullTime
			if err := rows.Scan(
				&inst.ID, &inst.UID, &inst.FIGI, &inst.Name, &inst.AssetTypeID, &inst.LotSize, &inst.OTCFlag,
				&inst.QualifiedInvestor, &inst.APITradeAvailable,
				&inst.First1MinCandleDate, &inst.First1DayCandleDate, &historyEnd,
			); err != nil {
				errc <- fmt.Errorf("store: get history endings: scan: %w", err)
				return
			}
			if !historyEnd.Valid {
				continue
			}
			select {
			case out <- HistoryEnding{Instrument: inst, HistoryEnd: historyEnd.Time}:
			case <-ctx.Done():
				errc <- ctx.Err()
				return
			}
		}
		if err := rows.Err(); err != nil {
			errc <- fmt.Errorf("store: get history endings: rows: %w", err)
		}
	}()

	return out, errc
}

// SaveCandleHistory ingests a rewritten CSV body: it opens a raw connection,
// creates a temp table LIKE candle, streams csv over the COPY wire
// protocol, then merges into candle with ON CONFLICT DO NOTHING so
// duplicate primary keys are silently absorbed.
func (s *Store) SaveCandleHistory(ctx context.Context, csv []byte) error {
	if len(bytes.TrimSpace(csv)) == 0 {
		return nil
	}

	conn, err := s.raw.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("store: save candle history: acquire raw conn: %w", err)
	}
	defer conn.Release()

	tx, err := conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("store: save candle history: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tempTable := tempTableName()
	if _, err := tx.Exec(ctx, fmt.Sprintf(tempCandleDDL, tempTable)); err != nil {
		return fmt.Errorf("store: save candle history: create temp table: %w", err)
	}

	copySQL := fmt.Sprintf(`COPY %s FROM STDIN WITH (FORMAT csv, DELIMITER ';')`, tempTable)
	pgConn := tx.Conn().PgConn()
	copyTag, err := pgConn.CopyFrom(ctx, bytes.NewReader(csv), copySQL)
	if err != nil {
		return fmt.Errorf("store: save candle history: copy: %w", err)
	}

	mergeSQL := fmt.Sprintf(`INSERT INTO candle SELECT * FROM %s ON CONFLICT DO NOTHING`, tempTable)
	if _, err := tx.Exec(ctx, mergeSQL); err != nil {
		return fmt.Errorf("store: save candle history: merge: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("store: save candle history: commit: %w", err)
	}

	s.logger.Debug().Int64("rows_copied", copyTag.RowsAffected()).Msg("candle history ingested")
	return nil
}

func isNonexistentDatabase(err error) bool {
	if err == nil {
		return false
	}
	if pqErr, ok := err.(*pq.Error); ok {
		return string(pqErr.Code) == pgOperationalErrorNonexistentDatabase
	}
	return strings.Contains(err.Error(), "does not exist")
}

func isDuplicateDatabase(err error) bool {
	if pqErr, ok := err.(*pq.Error); ok {
		return pqErr.Code == "42P04"
	}
	return strings.Contains(err.Error(), "already exists")
}

func replaceDatabaseName(dsn, newName string) string {
	idx := strings.LastIndex(dsn, "/")
	if idx < 0 {
		return dsn
	}
	rest := dsn[idx+1:]
	if q := strings.IndexByte(rest, '?'); q >= 0 {
		return dsn[:idx+1] + newName + rest[q:]
	}
	return dsn[:idx+1] + newName
}

var tempTableCounter uint64
var tempTableMu sync.Mutex

// tempTableName returns a process-unique temp table identifier; PostgreSQL
// temp tables are already session-scoped, the counter only avoids
// collisions across concurrent COPY calls sharing one connection pool.
func tempTableName() string {
	tempTableMu.Lock()
	defer tempTableMu.Unlock()
	tempTableCounter++
	return fmt.Sprintf("candle_staging_%d", tempTableCounter)
}
