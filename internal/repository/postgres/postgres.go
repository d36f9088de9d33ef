package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"bikefleet-backend/internal/config"
	"bikefleet-backend/internal/logger"
	"bikefleet-backend/internal/repository"
)

type Store struct {
	db *sqlx.DB
	repository.ClientRepository
	repository.LedgerRepository
	repository.RentalRepository
	repository.BikeRepository
	repository.BookingRepository
	repository.TariffRepository
	repository.IssueRepository
}

func NewStore(db *sqlx.DB) *Store {
	return &Store{
		db:                db,
		ClientRepository:  NewClientRepository(db),
		LedgerRepository:  NewLedgerRepository(db),
		RentalRepository:  NewRentalRepository(db),
		BikeRepository:    NewBikeRepository(db),
		BookingRepository: NewBookingRepository(db),
		TariffRepository:  NewTariffRepository(db),
		IssueRepository:   NewIssueRepository(db),
	}
}

// Open connects to PostgreSQL and verifies the connection
func Open(ctx context.Context, cfg *config.Config) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", cfg.GetDatabaseConnectionString())
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("error connecting to the database: %w", err)
	}

	if cfg.Database.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	}
	if cfg.Database.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	}
	db.SetConnMaxLifetime(2 * time.Hour)

	return db, nil
}

// withTx runs fn in a transaction, committing on success and rolling back otherwise
func withTx(ctx context.Context, db *sqlx.DB, op string, fn func(tx *sqlx.Tx) error) (err error) {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: begin transaction: %w", op, err)
	}

	committed := false
	defer func() {
		if committed {
			return
		}
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Error("Transaction rollback failed", "operation", op, "error", rbErr)
			err = fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("%s: commit: %w", op, err)
	}
	committed = true
	return nil
}

const (
	pqUniqueViolation     = "23505"
	pqForeignKeyViolation = "23503"
)

func pqCode(err error) (string, string) {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code), pqErr.Constraint
	}
	return "", ""
}

func isUniqueViolation(err error) bool {
	code, _ := pqCode(err)
	return code == pqUniqueViolation
}

func isForeignKeyViolation(err error) bool {
	code, _ := pqCode(err)
	return code == pqForeignKeyViolation
}

// notFound maps sql.ErrNoRows to the repository sentinel
func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return repository.ErrNotFound
	}
	return err
}

type queryer interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

// staleOrMissing explains why a conditional update touched no rows
func staleOrMissing(ctx context.Context, q queryer, table string, id any) error {
	var exists bool
	query := fmt.Sprintf("SELECT EXISTS (SELECT 1 FROM %s WHERE id = $1)", table)
	if err := q.GetContext(ctx, &exists, query, id); err != nil {
		return err
	}
	if !exists {
		return repository.ErrNotFound
	}
	return repository.ErrStaleState
}

func checkAffected(ctx context.Context, q queryer, res sql.Result, table string, id any) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return staleOrMissing(ctx, q, table, id)
	}
	return nil
}
