package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"bikefleet-backend/internal/domain"
	"bikefleet-backend/internal/repository"
)

const rentalColumns = `id, client_id, bike_id, tariff_id, status, starts_at, current_period_ends_at,
	total_paid, source_key, extra_data, created_at, updated_at`

type rentalRepository struct {
	db *sqlx.DB
}

func NewRentalRepository(db *sqlx.DB) repository.RentalRepository {
	return &rentalRepository{db: db}
}

func (r *rentalRepository) Create(ctx context.Context, rental *domain.Rental) error {
	if rental.ExtraData == nil {
		rental.ExtraData = domain.ExtraData{}
	}
	query := `INSERT INTO rentals (client_id, bike_id, tariff_id, status, starts_at, current_period_ends_at,
	                               total_paid, source_key, extra_data)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	          RETURNING id, created_at, updated_at`
	err := r.db.QueryRowxContext(ctx, query,
		rental.ClientID, rental.BikeID, rental.TariffID, rental.Status, rental.StartsAt,
		rental.CurrentPeriodEndsAt, rental.TotalPaid, rental.SourceKey, rental.ExtraData,
	).Scan(&rental.ID, &rental.CreatedAt, &rental.UpdatedAt)
	if err != nil {
		if code, constraint := pqCode(err); code == pqUniqueViolation {
			if constraint == "rentals_source_key_key" {
				return repository.ErrDuplicate
			}
			return repository.ErrStaleState
		}
		if isForeignKeyViolation(err) {
			return repository.ErrNotFound
		}
		return fmt.Errorf("insert rental: %w", err)
	}
	return nil
}

func (r *rentalRepository) GetByID(ctx context.Context, id int64) (*domain.Rental, error) {
	var rental domain.Rental
	query := `SELECT ` + rentalColumns + ` FROM rentals WHERE id = $1`
	if err := r.db.GetContext(ctx, &rental, query, id); err != nil {
		return nil, notFound(err)
	}
	return &rental, nil
}

func (r *rentalRepository) GetBySourceKey(ctx context.Context, key string) (*domain.Rental, error) {
	var rental domain.Rental
	query := `SELECT ` + rentalColumns + ` FROM rentals WHERE source_key = $1`
	if err := r.db.GetContext(ctx, &rental, query, key); err != nil {
		return nil, notFound(err)
	}
	return &rental, nil
}

func (r *rentalRepository) ListByClient(ctx context.Context, clientID string) ([]domain.Rental, error) {
	var rentals []domain.Rental
	query := `SELECT ` + rentalColumns + ` FROM rentals WHERE client_id = $1 ORDER BY id`
	err := r.db.SelectContext(ctx, &rentals, query, clientID)
	return rentals, err
}

func (r *rentalRepository) ListDue(ctx context.Context, before time.Time) ([]domain.Rental, error) {
	var rentals []domain.Rental
	query := `SELECT ` + rentalColumns + ` FROM rentals
	          WHERE status = 'active' AND current_period_ends_at <= $1 ORDER BY id`
	err := r.db.SelectContext(ctx, &rentals, query, before)
	return rentals, err
}

func (r *rentalRepository) ListBatteries(ctx context.Context, rentalID int64) ([]domain.Battery, error) {
	var batteries []domain.Battery
	query := `SELECT b.id, b.serial_number, b.status FROM batteries b
	          JOIN rental_batteries rb ON rb.battery_id = b.id
	          WHERE rb.rental_id = $1 ORDER BY b.id`
	err := r.db.SelectContext(ctx, &batteries, query, rentalID)
	return batteries, err
}

func (r *rentalRepository) Delete(ctx context.Context, id int64) error {
	query := `DELETE FROM rentals WHERE id = $1
	          AND NOT EXISTS (SELECT 1 FROM payments WHERE rental_id = $1)`
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}
	err = checkAffected(ctx, r.db, res, "rentals", id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	return err
}

func (r *rentalRepository) Transition(ctx context.Context, id int64, from, to domain.RentalStatus, extra domain.ExtraData) error {
	query := `UPDATE rentals SET status = $3, extra_data = extra_data || $4::jsonb, updated_at = NOW()
	          WHERE id = $1 AND status = $2`
	res, err := r.db.ExecContext(ctx, query, id, from, to, extra)
	if err != nil {
		return err
	}
	return checkAffected(ctx, r.db, res, "rentals", id)
}

func (r *rentalRepository) AssignBike(ctx context.Context, rentalID, bikeID int64) error {
	return withTx(ctx, r.db, "rental.AssignBike", func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE bikes SET status = 'rented' WHERE id = $1 AND status = 'available'`, bikeID)
		if err != nil {
			return err
		}
		if err := checkAffected(ctx, tx, res, "bikes", bikeID); err != nil {
			return err
		}

		query := `UPDATE rentals SET bike_id = $2, status = 'awaiting_battery_assignment', updated_at = NOW()
		          WHERE id = $1 AND status = 'pending_assignment'`
		res, err = tx.ExecContext(ctx, query, rentalID, bikeID)
		if err != nil {
			return err
		}
		return checkAffected(ctx, tx, res, "rentals", rentalID)
	})
}

func (r *rentalRepository) AssignBatteries(ctx context.Context, rentalID int64, batteryIDs []int64) error {
	return withTx(ctx, r.db, "rental.AssignBatteries", func(tx *sqlx.Tx) error {
		query := `UPDATE rentals SET status = 'awaiting_contract_signing', updated_at = NOW()
		          WHERE id = $1 AND status = 'awaiting_battery_assignment'`
		res, err := tx.ExecContext(ctx, query, rentalID)
		if err != nil {
			return err
		}
		if err := checkAffected(ctx, tx, res, "rentals", rentalID); err != nil {
			return err
		}

		res, err = tx.ExecContext(ctx,
			`UPDATE batteries SET status = 'in_use' WHERE id = ANY($1) AND status = 'available'`,
			pq.Array(batteryIDs))
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n != int64(len(batteryIDs)) {
			return repository.ErrStaleState
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO rental_batteries (rental_id, battery_id) SELECT $1, unnest($2::bigint[])`,
			rentalID, pq.Array(batteryIDs))
		return err
	})
}

func (r *rentalRepository) Extend(ctx context.Context, rentalID int64, chargeID string, days int, paid domain.Money) error {
	return withTx(ctx, r.db, "rental.Extend", func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO rental_renewals (charge_id, rental_id, days, amount) VALUES ($1, $2, $3, $4)
			 ON CONFLICT (charge_id) DO NOTHING`,
			chargeID, rentalID, days, paid)
		if isForeignKeyViolation(err) {
			return repository.ErrNotFound
		}
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return repository.ErrDuplicate
		}

		query := `UPDATE rentals
		          SET current_period_ends_at = current_period_ends_at + make_interval(days => $2),
		              total_paid = total_paid + $3, updated_at = NOW()
		          WHERE id = $1 AND status NOT IN ('completed', 'completed_by_admin', 'rejected')`
		res, err = tx.ExecContext(ctx, query, rentalID, days, paid)
		if err != nil {
			return err
		}
		return checkAffected(ctx, tx, res, "rentals", rentalID)
	})
}

func (r *rentalRepository) Reject(ctx context.Context, rentalID int64, refund *domain.Payment) (domain.Money, error) {
	var balance domain.Money
	err := withTx(ctx, r.db, "rental.Reject", func(tx *sqlx.Tx) error {
		var prev struct {
			TotalPaid domain.Money `db:"total_paid"`
			BikeID    *int64       `db:"bike_id"`
		}
		query := `WITH prev AS (
		              SELECT id, bike_id FROM rentals
		              WHERE id = $1 AND status = 'pending_assignment' FOR UPDATE
		          )
		          UPDATE rentals r SET status = 'rejected', bike_id = NULL, updated_at = NOW()
		          FROM prev WHERE r.id = prev.id
		          RETURNING r.total_paid, prev.bike_id`
		err := tx.GetContext(ctx, &prev, query, rentalID)
		if errors.Is(err, sql.ErrNoRows) {
			return staleOrMissing(ctx, tx, "rentals", rentalID)
		}
		if err != nil {
			return err
		}

		if prev.BikeID != nil {
			if _, err := tx.ExecContext(ctx,
				`UPDATE bikes SET status = 'available' WHERE id = $1 AND status = 'rented'`, *prev.BikeID); err != nil {
				return err
			}
		}

		refund.Amount = prev.TotalPaid
		refund.BalanceDelta = prev.TotalPaid
		balance, err = postEntry(ctx, tx, refund, repository.PostOptions{})
		return err
	})
	return balance, err
}

func (r *rentalRepository) FinalizeReturn(ctx context.Context, rentalID int64, bikeStatus domain.BikeStatus, serviceReason string, extra domain.ExtraData) error {
	return withTx(ctx, r.db, "rental.FinalizeReturn", func(tx *sqlx.Tx) error {
		var bikeID *int64
		query := `WITH prev AS (
		              SELECT id, bike_id FROM rentals
		              WHERE id = $1 AND status IN ('pending_return', 'overdue') FOR UPDATE
		          )
		          UPDATE rentals r SET status = 'awaiting_return_signature',
		                 extra_data = r.extra_data || $2::jsonb, updated_at = NOW()
		          FROM prev WHERE r.id = prev.id
		          RETURNING prev.bike_id`
		err := tx.GetContext(ctx, &bikeID, query, rentalID, extra)
		if errors.Is(err, sql.ErrNoRows) {
			return staleOrMissing(ctx, tx, "rentals", rentalID)
		}
		if err != nil {
			return err
		}

		if bikeID != nil {
			res, err := tx.ExecContext(ctx,
				`UPDATE bikes SET status = $2, service_reason = $3 WHERE id = $1 AND status = 'rented'`,
				*bikeID, bikeStatus, serviceReason)
			if err != nil {
				return err
			}
			if err := checkAffected(ctx, tx, res, "bikes", *bikeID); err != nil {
				return err
			}
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE batteries SET status = 'available'
			 WHERE status = 'in_use' AND id IN (SELECT battery_id FROM rental_batteries WHERE rental_id = $1)`,
			rentalID)
		return err
	})
}
