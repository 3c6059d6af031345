package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"mercator-hq/gatekeeper/pkg/limits/tier"
)

// SQLiteStore implements Store on a SQLite database file.
//
// Each CheckAndDebit runs in a BEGIN IMMEDIATE transaction, which takes the
// database write lock before reading. Processes sharing the same file are
// therefore serialized by SQLite itself, and the busy timeout bounds how
// long a caller waits for the lock.
//
// SQLite has no native key expiry. Expired rows are ignored on read and
// removed by Cleanup.
type SQLiteStore struct {
	db                 *sql.DB
	dbPath             string
	checkpointInterval time.Duration
	now                func() time.Time
	done               chan struct{}
	closeOnce          sync.Once

	// prepared statements
	loadBucketStmt     *sql.Stmt
	saveBucketStmt     *sql.Stmt
	incrViolationStmt  *sql.Stmt
	countViolationStmt *sql.Stmt
	markStmt           *sql.Stmt
	cleanupBucketsStmt *sql.Stmt
	cleanupViolStmt    *sql.Stmt
}

// SQLiteStoreConfig configures the SQLite store.
type SQLiteStoreConfig struct {
	// Path is the path to the SQLite database file.
	Path string

	// BusyTimeout is how long to wait for the write lock before failing.
	// Default: 5 seconds
	BusyTimeout time.Duration

	// CheckpointInterval is how often to checkpoint the WAL.
	// Default: 5 minutes
	CheckpointInterval time.Duration

	// Now overrides the clock used for violation expiry. Default: time.Now
	Now func() time.Time
}

// NewSQLiteStore opens a SQLite store with default settings.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	return NewSQLiteStoreWithConfig(SQLiteStoreConfig{Path: path})
}

// NewSQLiteStoreWithConfig opens a SQLite store with custom configuration.
func NewSQLiteStoreWithConfig(cfg SQLiteStoreConfig) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("db path cannot be empty")
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}
	if cfg.CheckpointInterval == 0 {
		cfg.CheckpointInterval = 5 * time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_txlock=immediate",
		cfg.Path, cfg.BusyTimeout.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite only supports single writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &SQLiteStore{
		db:                 db,
		dbPath:             cfg.Path,
		checkpointInterval: cfg.CheckpointInterval,
		now:                cfg.Now,
		done:               make(chan struct{}),
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	if err := s.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	go s.checkpointLoop()

	return s, nil
}

// initSchema creates the database schema if it doesn't exist.
func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS token_buckets (
		key TEXT PRIMARY KEY,
		tokens REAL NOT NULL,
		last_refill_ms INTEGER NOT NULL,
		expires_at_ms INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_token_buckets_expires ON token_buckets(expires_at_ms);

	CREATE TABLE IF NOT EXISTS violations (
		key TEXT PRIMARY KEY,
		count INTEGER NOT NULL,
		expires_at_ms INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_violations_expires ON violations(expires_at_ms);
	`

	_, err := s.db.Exec(schema)
	return err
}

// prepareStatements prepares SQL statements for reuse.
func (s *SQLiteStore) prepareStatements() error {
	var err error

	s.loadBucketStmt, err = s.db.Prepare(`
		SELECT tokens, last_refill_ms, expires_at_ms
		FROM token_buckets
		WHERE key = ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare load statement: %w", err)
	}

	s.saveBucketStmt, err = s.db.Prepare(`
		INSERT INTO token_buckets (key, tokens, last_refill_ms, expires_at_ms)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET
			tokens = excluded.tokens,
			last_refill_ms = excluded.last_refill_ms,
			expires_at_ms = excluded.expires_at_ms
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare save statement: %w", err)
	}

	s.incrViolationStmt, err = s.db.Prepare(`
		INSERT INTO violations (key, count, expires_at_ms)
		VALUES (?, 1, ?)
		ON CONFLICT (key) DO UPDATE SET
			count = CASE WHEN violations.expires_at_ms <= ? THEN 1 ELSE violations.count + 1 END,
			expires_at_ms = excluded.expires_at_ms
		RETURNING count
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare increment statement: %w", err)
	}

	s.countViolationStmt, err = s.db.Prepare(`
		SELECT count FROM violations
		WHERE key = ? AND expires_at_ms > ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare count statement: %w", err)
	}

	s.markStmt, err = s.db.Prepare(`
		INSERT INTO violations (key, count, expires_at_ms)
		VALUES (?, 1, ?)
		ON CONFLICT (key) DO UPDATE SET
			count = 1,
			expires_at_ms = excluded.expires_at_ms
		WHERE violations.expires_at_ms <= ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare mark statement: %w", err)
	}

	s.cleanupBucketsStmt, err = s.db.Prepare(`DELETE FROM token_buckets WHERE expires_at_ms <= ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare bucket cleanup statement: %w", err)
	}

	s.cleanupViolStmt, err = s.db.Prepare(`DELETE FROM violations WHERE expires_at_ms <= ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare violation cleanup statement: %w", err)
	}

	return nil
}

// CheckAndDebit implements BucketStore.
func (s *SQLiteStore) CheckAndDebit(ctx context.Context, key string, cfg tier.Config, requested int64, now time.Time) (Decision, error) {
	if err := validateCheck(key, cfg, requested); err != nil {
		return Decision{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Decision{}, classifyError("begin", err)
	}
	defer tx.Rollback()

	var (
		current   *BucketState
		tokens    float64
		lastMs    int64
		expiresMs int64
	)
	err = tx.StmtContext(ctx, s.loadBucketStmt).QueryRowContext(ctx, key).Scan(&tokens, &lastMs, &expiresMs)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return Decision{}, classifyError("load bucket", err)
	case expiresMs > now.UnixMilli():
		current = &BucketState{Tokens: tokens, LastRefillAt: time.UnixMilli(lastMs)}
	}

	next, decision := Apply(current, cfg, requested, now)

	_, err = tx.StmtContext(ctx, s.saveBucketStmt).ExecContext(ctx,
		key,
		next.Tokens,
		next.LastRefillAt.UnixMilli(),
		now.Add(cfg.IdleTTL()).UnixMilli(),
	)
	if err != nil {
		return Decision{}, classifyError("save bucket", err)
	}

	if err := tx.Commit(); err != nil {
		return Decision{}, classifyError("commit", err)
	}

	return decision, nil
}

// IncrementViolation implements ViolationStore.
func (s *SQLiteStore) IncrementViolation(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	if key == "" {
		return 0, fmt.Errorf("key cannot be empty")
	}

	now := s.now()

	var count int64
	err := s.incrViolationStmt.QueryRowContext(ctx, key, now.Add(ttl).UnixMilli(), now.UnixMilli()).Scan(&count)
	if err != nil {
		return 0, classifyError("increment violation", err)
	}
	return count, nil
}

// MarkOnce implements ViolationStore. An expired row counts as absent.
func (s *SQLiteStore) MarkOnce(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if key == "" {
		return false, fmt.Errorf("key cannot be empty")
	}

	now := s.now()

	result, err := s.markStmt.ExecContext(ctx, key, now.Add(ttl).UnixMilli(), now.UnixMilli())
	if err != nil {
		return false, classifyError("mark", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, classifyError("mark", err)
	}
	return n == 1, nil
}

// ViolationCount implements ViolationStore.
func (s *SQLiteStore) ViolationCount(ctx context.Context, key string) (int64, error) {
	var count int64
	err := s.countViolationStmt.QueryRowContext(ctx, key, s.now().UnixMilli()).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, classifyError("violation count", err)
	}
	return count, nil
}

// Cleanup implements Cleaner.
func (s *SQLiteStore) Cleanup(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.UnixMilli()
	deleted := 0

	for _, stmt := range []*sql.Stmt{s.cleanupBucketsStmt, s.cleanupViolStmt} {
		result, err := stmt.ExecContext(ctx, cutoff)
		if err != nil {
			return deleted, fmt.Errorf("failed to cleanup: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return deleted, fmt.Errorf("failed to get rows affected: %w", err)
		}
		deleted += int(n)
	}

	return deleted, nil
}

// Ping implements BucketStore.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return classifyError("ping", s.db.PingContext(ctx))
}

// Close releases any resources held by the store.
// Close is idempotent and safe to call multiple times.
func (s *SQLiteStore) Close() error {
	var closeErr error

	s.closeOnce.Do(func() {
		close(s.done)

		for _, stmt := range []*sql.Stmt{
			s.loadBucketStmt,
			s.saveBucketStmt,
			s.incrViolationStmt,
			s.countViolationStmt,
			s.markStmt,
			s.cleanupBucketsStmt,
			s.cleanupViolStmt,
		} {
			if stmt != nil {
				stmt.Close()
			}
		}

		if s.db != nil {
			_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
			closeErr = s.db.Close()
		}
	})

	return closeErr
}

// checkpointLoop runs periodic WAL checkpoints.
func (s *SQLiteStore) checkpointLoop() {
	ticker := time.NewTicker(s.checkpointInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_, _ = s.db.Exec("PRAGMA wal_checkpoint(PASSIVE)")
		case <-s.done:
			return
		}
	}
}
