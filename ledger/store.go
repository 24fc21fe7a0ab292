package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/ethereum/kzg-ceremony-sequencer/ceremony"
)

// ErrAlreadyFinalized means a terminal timestamp was already recorded for
// the uid. A contributor record reaches a terminal state exactly once.
var ErrAlreadyFinalized = errors.New("contributor record already finalized")

// ErrUnknownContributor means no record exists for the uid.
var ErrUnknownContributor = errors.New("unknown contributor")

// Record is one identity's lifetime participation outcome.
type Record struct {
	UID        string
	StartedAt  time.Time
	FinishedAt sql.NullTime
	ExpiredAt  sql.NullTime
}

// Terminal reports whether the record blocks further participation.
func (r Record) Terminal() bool {
	return r.FinishedAt.Valid || r.ExpiredAt.Valid
}

// Store is the durable contributor ledger backed by a relational
// database.
type Store struct {
	db  *sql.DB
	log *slog.Logger
}

// Open connects to the database named by dsn, running schema migration.
// The driver is chosen by the DSN scheme; see the package documentation.
func Open(dsn string, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}

	driver, connStr, err := splitDSN(dsn)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driver, connStr)
	if err != nil {
		return nil, fmt.Errorf("opening ledger database: %w", err)
	}

	if driver == "sqlite" {
		// modernc sqlite serializes writes itself; extra connections only
		// produce SQLITE_BUSY.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("pinging ledger database: %w", err)
	}

	s := &Store{db: db, log: log}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("running ledger migrations: %w", err)
	}

	log.Info("Connected to contributor ledger", "driver", driver)
	return s, nil
}

func splitDSN(dsn string) (driver, connStr string, err error) {
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return "postgres", dsn, nil
	case strings.HasPrefix(dsn, "sqlite://"):
		return "sqlite", strings.TrimPrefix(dsn, "sqlite://"), nil
	default:
		return "", "", fmt.Errorf("unsupported ledger DSN %q", dsn)
	}
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS contributors (
		uid TEXT PRIMARY KEY,
		started_at TIMESTAMP NOT NULL,
		finished_at TIMESTAMP,
		expired_at TIMESTAMP
	);
	`

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close releases the database connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// HasContributed reports whether the uid holds a terminal record and is
// therefore permanently ineligible.
func (s *Store) HasContributed(ctx context.Context, uid string) (bool, error) {
	query := `
	SELECT EXISTS(
		SELECT 1 FROM contributors
		WHERE uid = $1 AND (finished_at IS NOT NULL OR expired_at IS NOT NULL)
	)`

	var terminal bool
	if err := s.db.QueryRowContext(ctx, query, uid).Scan(&terminal); err != nil {
		return false, &ceremony.PersistenceError{Op: "ledger eligibility check", Err: err}
	}
	return terminal, nil
}

// InsertContributor records that the uid was admitted into a session. A
// prior non-terminal row (an earlier attempt that crashed or expired
// before finalize wrote anything) is restarted; a terminal row is never
// touched.
func (s *Store) InsertContributor(ctx context.Context, uid string) error {
	query := `
	INSERT INTO contributors (uid, started_at) VALUES ($1, $2)
	ON CONFLICT (uid) DO UPDATE SET started_at = excluded.started_at
	WHERE contributors.finished_at IS NULL AND contributors.expired_at IS NULL`

	if _, err := s.db.ExecContext(ctx, query, uid, time.Now().UTC()); err != nil {
		return &ceremony.PersistenceError{Op: "ledger insert", Err: err}
	}
	return nil
}

// FinishContribution sets finished_at for the uid. Fails with
// ErrAlreadyFinalized if a terminal timestamp already exists.
func (s *Store) FinishContribution(ctx context.Context, uid string) error {
	return s.finalize(ctx, uid, "finished_at")
}

// ExpireContribution sets expired_at for the uid. Fails with
// ErrAlreadyFinalized if a terminal timestamp already exists.
func (s *Store) ExpireContribution(ctx context.Context, uid string) error {
	return s.finalize(ctx, uid, "expired_at")
}

func (s *Store) finalize(ctx context.Context, uid, column string) error {
	// column is one of the two fixed terminal column names, never user
	// input.
	query := fmt.Sprintf(`
	UPDATE contributors SET %s = $1
	WHERE uid = $2 AND finished_at IS NULL AND expired_at IS NULL`, column)

	res, err := s.db.ExecContext(ctx, query, time.Now().UTC(), uid)
	if err != nil {
		return &ceremony.PersistenceError{Op: "ledger finalize", Err: err}
	}

	n, err := res.RowsAffected()
	if err != nil {
		return &ceremony.PersistenceError{Op: "ledger finalize", Err: err}
	}
	if n == 0 {
		exists, err := s.exists(ctx, uid)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("%w: %s", ErrUnknownContributor, uid)
		}
		return fmt.Errorf("%w: %s", ErrAlreadyFinalized, uid)
	}
	return nil
}

func (s *Store) exists(ctx context.Context, uid string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM contributors WHERE uid = $1)`, uid).Scan(&exists)
	if err != nil {
		return false, &ceremony.PersistenceError{Op: "ledger lookup", Err: err}
	}
	return exists, nil
}

// Lookup returns the full record for a uid.
func (s *Store) Lookup(ctx context.Context, uid string) (Record, error) {
	query := `SELECT uid, started_at, finished_at, expired_at FROM contributors WHERE uid = $1`

	var rec Record
	err := s.db.QueryRowContext(ctx, query, uid).Scan(&rec.UID, &rec.StartedAt, &rec.FinishedAt, &rec.ExpiredAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("%w: %s", ErrUnknownContributor, uid)
	}
	if err != nil {
		return Record{}, &ceremony.PersistenceError{Op: "ledger lookup", Err: err}
	}
	return rec, nil
}
