package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"bikefleet-backend/internal/domain"
	"bikefleet-backend/internal/logger"
	"bikefleet-backend/internal/repository"
)

const paymentColumns = `id, client_id, rental_id, booking_id, amount, balance_delta, status,
	payment_type, method, gateway_charge_id, entry_key, description, created_at`

type ledgerRepository struct {
	db *sqlx.DB
}

func NewLedgerRepository(db *sqlx.DB) repository.LedgerRepository {
	return &ledgerRepository{db: db}
}

func (r *ledgerRepository) Post(ctx context.Context, p *domain.Payment, opts repository.PostOptions) (domain.Money, error) {
	var balance domain.Money
	err := withTx(ctx, r.db, "ledger.Post", func(tx *sqlx.Tx) error {
		var err error
		balance, err = postEntry(ctx, tx, p, opts)
		return err
	})
	return balance, err
}

// postEntry inserts the row and applies its balance delta inside tx
func postEntry(ctx context.Context, tx *sqlx.Tx, p *domain.Payment, opts repository.PostOptions) (domain.Money, error) {
	if p.EntryKey == "" {
		return 0, fmt.Errorf("payment entry key is required")
	}

	query := `INSERT INTO payments (client_id, rental_id, booking_id, amount, balance_delta, status,
	                                payment_type, method, gateway_charge_id, entry_key, description)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	          ON CONFLICT (entry_key) DO NOTHING
	          RETURNING id, created_at`
	logger.DatabaseCall("ledger.Post", "INSERT INTO payments", "entry_key", p.EntryKey, "amount", p.Amount)
	err := tx.QueryRowxContext(ctx, query,
		p.ClientID, p.RentalID, p.BookingID, p.Amount, p.BalanceDelta, p.Status,
		p.Type, p.Method, p.GatewayChargeID, p.EntryKey, p.Description,
	).Scan(&p.ID, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, repository.ErrDuplicate
	}
	if isForeignKeyViolation(err) {
		return 0, repository.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("insert payment: %w", err)
	}

	if p.Status != domain.PaymentStatusSucceeded || p.BalanceDelta == 0 {
		var balance domain.Money
		err := tx.GetContext(ctx, &balance, `SELECT balance FROM clients WHERE id = $1`, p.ClientID)
		return balance, notFound(err)
	}
	return applyDelta(ctx, tx, p.ClientID, p.BalanceDelta, opts.RequireFunds)
}

// applyDelta is the only statement that changes a stored balance
func applyDelta(ctx context.Context, tx *sqlx.Tx, clientID string, delta domain.Money, requireFunds bool) (domain.Money, error) {
	query := `UPDATE clients SET balance = balance + $1, updated_at = NOW()
	          WHERE id = $2 RETURNING balance`
	if requireFunds {
		query = `UPDATE clients SET balance = balance + $1, updated_at = NOW()
		         WHERE id = $2 AND balance + $1 >= 0 RETURNING balance`
	}

	var balance domain.Money
	err := tx.GetContext(ctx, &balance, query, delta, clientID)
	if errors.Is(err, sql.ErrNoRows) {
		stale := staleOrMissing(ctx, tx, "clients", clientID)
		if errors.Is(stale, repository.ErrStaleState) {
			return 0, repository.ErrInsufficientBalance
		}
		return 0, stale
	}
	if err != nil {
		return 0, fmt.Errorf("update balance: %w", err)
	}
	return balance, nil
}

func (r *ledgerRepository) GetByEntryKey(ctx context.Context, key string) (*domain.Payment, error) {
	var p domain.Payment
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE entry_key = $1`
	if err := r.db.GetContext(ctx, &p, query, key); err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (r *ledgerRepository) FindSucceededByChargeID(ctx context.Context, chargeID string) (*domain.Payment, error) {
	var p domain.Payment
	query := `SELECT ` + paymentColumns + ` FROM payments
	          WHERE entry_key = $1 AND status IN ('succeeded', 'refunded')`
	if err := r.db.GetContext(ctx, &p, query, domain.GatewayEntryKey(chargeID)); err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (r *ledgerRepository) MarkRefunded(ctx context.Context, chargeID string, amount domain.Money) (domain.Money, error) {
	var balance domain.Money
	err := withTx(ctx, r.db, "ledger.MarkRefunded", func(tx *sqlx.Tx) error {
		var p domain.Payment
		query := `UPDATE payments SET status = 'refunded'
		          WHERE entry_key = $1 AND status = 'succeeded'
		          RETURNING ` + paymentColumns
		err := tx.GetContext(ctx, &p, query, domain.GatewayEntryKey(chargeID))
		if errors.Is(err, sql.ErrNoRows) {
			var exists bool
			if err := tx.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM payments WHERE entry_key = $1)`, domain.GatewayEntryKey(chargeID)); err != nil {
				return err
			}
			if exists {
				return repository.ErrStaleState
			}
			return repository.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("mark refunded: %w", err)
		}

		if p.BalanceDelta == 0 {
			return tx.GetContext(ctx, &balance, `SELECT balance FROM clients WHERE id = $1`, p.ClientID)
		}
		if balance, err = applyDelta(ctx, tx, p.ClientID, -p.BalanceDelta, false); err != nil {
			return err
		}
		if p.BalanceDelta > 0 && amount < p.BalanceDelta {
			balance, err = postEntry(ctx, tx, repository.RefundRemainder(&p, p.BalanceDelta-amount), repository.PostOptions{})
			return err
		}
		return nil
	})
	return balance, err
}

func (r *ledgerRepository) ListByClient(ctx context.Context, clientID string) ([]domain.Payment, error) {
	var payments []domain.Payment
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE client_id = $1 ORDER BY id`
	err := r.db.SelectContext(ctx, &payments, query, clientID)
	return payments, err
}

func (r *ledgerRepository) SumBalanceDeltas(ctx context.Context, clientID string) (domain.Money, error) {
	var sum domain.Money
	query := `SELECT COALESCE(SUM(balance_delta), 0) FROM payments WHERE client_id = $1 AND status = 'succeeded'`
	err := r.db.GetContext(ctx, &sum, query, clientID)
	return sum, err
}
