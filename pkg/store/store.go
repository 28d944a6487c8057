// Copyright 2025 Certen Protocol
//
// Store is the transactional persistence layer for burnchain headers,
// operations, block-commit metadata, interned affirmation maps, the anchor
// registry, and operator overrides (spec §4.1). It follows the teacher's
// database.Client shape (pkg/database/client.go): a *sql.DB wrapped with a
// functional-option constructor, an embedded migration runner, and a thin
// Tx wrapper — adapted from Postgres/lib-pq to an embedded, file-backed
// SQLite store per SPEC_FULL §4 (the spec requires a filesystem path and
// WAL, which Postgres cannot express).
package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "modernc.org/sqlite" // registers driver "sqlite"

	"github.com/certen/burnchaindb/pkg/burnchain"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store holds the open database handles and the burnchain parameters it was
// initialized against. Writes go through db, a pool capped at one physical
// connection so SQLite's single-writer rule is mirrored in the pool rather
// than hidden behind Go's connection queue; reads outside a transaction go
// through rdb, a separate pool whose WAL readers never contend with the
// writer (spec §5 single-writer, multi-reader).
type Store struct {
	db       *sql.DB // writer; nil when opened read-only
	rdb      *sql.DB // committed-snapshot readers
	bc       *burnchain.Burnchain
	readOnly bool
	logger   *log.Logger

	retryMaxElapsed time.Duration
}

// Option configures a Store at construction time.
type Option func(*Store)

// WithLogger sets a custom logger, mirroring database.WithLogger.
func WithLogger(logger *log.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithRetryBudget bounds how long BeginTx will retry a busy database before
// giving up (default 5s).
func WithRetryBudget(d time.Duration) Option {
	return func(s *Store) { s.retryMaxElapsed = d }
}

// Open creates (if absent) or opens the store at path in read-write mode,
// running migrations and seeding genesis state on first creation (spec
// §4.1). If the store already exists, its recorded first_block_hash must
// match bc.FirstBlockHash (SPEC_FULL §5's DBConfig check) or Open fails.
func Open(ctx context.Context, path string, bc *burnchain.Burnchain, opts ...Option) (*Store, error) {
	return open(ctx, path, bc, false, opts...)
}

// OpenReadOnly opens an existing store for read-only access; it fails if
// the store does not already exist.
func OpenReadOnly(ctx context.Context, path string, bc *burnchain.Burnchain, opts ...Option) (*Store, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("burnchain db: open read-only: %w", err)
	}
	return open(ctx, path, bc, true, opts...)
}

func open(ctx context.Context, path string, bc *burnchain.Burnchain, readOnly bool, opts ...Option) (*Store, error) {
	if bc == nil {
		return nil, fmt.Errorf("burnchain db: burnchain parameters cannot be nil")
	}

	_, statErr := os.Stat(path)
	isNew := os.IsNotExist(statErr)

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)

	s := &Store{
		bc:              bc,
		readOnly:        readOnly,
		logger:          log.New(log.Writer(), "[store] ", log.LstdFlags),
		retryMaxElapsed: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}

	if !readOnly {
		db, err := sql.Open("sqlite", dsn)
		if err != nil {
			return nil, fmt.Errorf("burnchain db: open: %w", err)
		}
		// One physical writer: SQLite serializes writers anyway, and capping
		// the pool to 1 keeps BeginTx's retry loop meaningful rather than
		// masking contention behind Go's own connection queue.
		db.SetMaxOpenConns(1)
		s.db = db

		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("burnchain db: ping: %w", err)
		}
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("burnchain db: enable WAL: %w", err)
		}
		if err := s.migrateUp(ctx); err != nil {
			db.Close()
			return nil, err
		}
		if isNew {
			if err := s.seedGenesis(ctx); err != nil {
				db.Close()
				return nil, err
			}
		}
	}

	rdb, err := sql.Open("sqlite", dsn+"&mode=ro")
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("burnchain db: open read pool: %w", err)
	}
	rdb.SetMaxOpenConns(4)
	s.rdb = rdb

	if err := rdb.PingContext(ctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("burnchain db: ping read pool: %w", err)
	}

	if err := s.checkGenesisConsistency(ctx); err != nil {
		s.Close()
		return nil, err
	}

	return s, nil
}

// checkGenesisConsistency enforces SPEC_FULL §5's DBConfig check: a store
// must not be reopened against a different configured genesis.
func (s *Store) checkGenesisConsistency(ctx context.Context) error {
	var height int64
	var hash string
	var ts int64
	err := s.rdb.QueryRowContext(ctx,
		"SELECT first_block_height, first_block_hash, first_block_timestamp FROM db_config").
		Scan(&height, &hash, &ts)
	if err != nil {
		return fmt.Errorf("burnchain db: read db_config: %w", err)
	}
	if uint64(height) != s.bc.FirstBlockHeight || hash != s.bc.FirstBlockHash.Hex() {
		return fmt.Errorf("burnchain db: store genesis (height=%d hash=%s) disagrees with configured genesis (height=%d hash=%s)",
			height, hash, s.bc.FirstBlockHeight, s.bc.FirstBlockHash.Hex())
	}
	return nil
}

func (s *Store) seedGenesis(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("burnchain db: seed genesis: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO db_config (first_block_height, first_block_hash, first_block_timestamp) VALUES (?, ?, ?)`,
		s.bc.FirstBlockHeight, s.bc.FirstBlockHash.Hex(), s.bc.FirstBlockTimestamp,
	); err != nil {
		return fmt.Errorf("burnchain db: seed db_config: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO affirmation_maps (affirmation_id, weight, encoded_map) VALUES (0, 0, '')`,
	); err != nil {
		return fmt.Errorf("burnchain db: seed empty affirmation map: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO anchor_blocks (reward_cycle) VALUES (?)`, int64(burnchain.SentinelCycle),
	); err != nil {
		return fmt.Errorf("burnchain db: seed sentinel anchor row: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO burnchain_db_block_headers (block_hash, height, parent_block_hash, num_txs, timestamp) VALUES (?, ?, ?, 0, ?)`,
		s.bc.FirstBlockHash.Hex(), s.bc.FirstBlockHeight, burnchain.BlockHash{}.Hex(), s.bc.FirstBlockTimestamp,
	); err != nil {
		return fmt.Errorf("burnchain db: seed genesis header: %w", err)
	}

	return tx.Commit()
}

// DB returns the committed-snapshot read pool, for callers (the selector's
// join query, tests) that run their own SQL.
func (s *Store) DB() *sql.DB { return s.rdb }

// Burnchain returns the parameters this store was opened against.
func (s *Store) Burnchain() *burnchain.Burnchain { return s.bc }

// Close closes both database pools.
func (s *Store) Close() error {
	var err error
	if s.db != nil {
		err = s.db.Close()
	}
	if s.rdb != nil {
		if cerr := s.rdb.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// q selects the read view for a lookup: inside a write transaction the
// lookup must observe the transaction's own uncommitted rows (descendancy
// reads the ops it just inserted), so it goes through tx; with a nil tx it
// is served from the last committed snapshot.
func (s *Store) q(tx *Tx) querier {
	if tx != nil {
		return tx.tx
	}
	return s.rdb
}

// ============================================================================
// MIGRATIONS
// ============================================================================

type migration struct {
	version string
	sql     string
}

func (s *Store) migrateUp(ctx context.Context) error {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("burnchain db: read migrations: %w", err)
	}

	var migrations []migration
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		content, err := migrationsFS.ReadFile("migrations/" + e.Name())
		if err != nil {
			return fmt.Errorf("burnchain db: read migration %s: %w", e.Name(), err)
		}
		migrations = append(migrations, migration{
			version: strings.TrimSuffix(e.Name(), ".sql"),
			sql:     string(content),
		})
	}
	sort.Slice(migrations, func(i, j int) bool { return migrations[i].version < migrations[j].version })

	for _, m := range migrations {
		applied, err := s.migrationApplied(ctx, m.version)
		if err != nil {
			return err
		}
		if applied {
			continue
		}
		if err := s.applyMigration(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) migrationApplied(ctx context.Context, version string) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE version = ?", version).Scan(&exists)
	if err != nil {
		if strings.Contains(err.Error(), "no such table") {
			return false, nil
		}
		return false, fmt.Errorf("burnchain db: check migration %s: %w", version, err)
	}
	return exists > 0, nil
}

func (s *Store) applyMigration(ctx context.Context, m migration) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("burnchain db: begin migration %s: %w", m.version, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, m.sql); err != nil {
		return fmt.Errorf("burnchain db: apply migration %s: %w", m.version, err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT OR IGNORE INTO schema_migrations (version, applied_at) VALUES (?, ?)",
		m.version, time.Now().Unix(),
	); err != nil {
		return fmt.Errorf("burnchain db: record migration %s: %w", m.version, err)
	}
	return tx.Commit()
}

// ============================================================================
// TRANSACTIONS
// ============================================================================

// Tx is an exclusive write transaction (spec §4.1 begin_tx/commit).
type Tx struct {
	tx *sql.Tx
}

func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// BeginTx starts a new exclusive write transaction, retrying with capped
// exponential backoff while the database reports itself busy (spec §4.1,
// §5 "a busy-handler retries contended transactions with backoff").
func (s *Store) BeginTx(ctx context.Context) (*Tx, error) {
	if s.readOnly {
		return nil, ErrReadOnly
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = s.retryMaxElapsed
	bo := backoff.WithContext(b, ctx)

	var tx *sql.Tx
	op := func() error {
		var err error
		tx, err = s.db.BeginTx(ctx, nil)
		if err != nil && isBusy(err) {
			return err // retryable
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}

	if err := backoff.Retry(op, bo); err != nil {
		return nil, fmt.Errorf("burnchain db: begin tx: %w", err)
	}
	return &Tx{tx: tx}, nil
}

// Commit commits the transaction. SQLite's own busy handler (set via the
// busy_timeout pragma at open) covers contention at commit time.
func (t *Tx) Commit() error {
	err := t.tx.Commit()
	if err != nil {
		return fmt.Errorf("burnchain db: commit: %w", err)
	}
	return nil
}

// Rollback rolls back the transaction. Safe to call after a successful
// Commit (no-op error, discarded) so callers can always `defer tx.Rollback()`.
func (t *Tx) Rollback() error {
	return t.tx.Rollback()
}
