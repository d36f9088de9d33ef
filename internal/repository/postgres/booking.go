package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"bikefleet-backend/internal/domain"
	"bikefleet-backend/internal/repository"
)

const bookingColumns = `id, client_id, status, cost, expires_at, source_charge_id, created_at, closed_at`

type bookingRepository struct {
	db *sqlx.DB
}

func NewBookingRepository(db *sqlx.DB) repository.BookingRepository {
	return &bookingRepository{db: db}
}

func (r *bookingRepository) Create(ctx context.Context, b *domain.Booking) error {
	query := `INSERT INTO bookings (client_id, status, cost, expires_at, source_charge_id)
	          VALUES ($1, $2, $3, $4, $5)
	          ON CONFLICT (source_charge_id) DO NOTHING
	          RETURNING id, created_at`
	err := r.db.QueryRowxContext(ctx, query, b.ClientID, b.Status, b.Cost, b.ExpiresAt, b.SourceChargeID).
		Scan(&b.ID, &b.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return repository.ErrDuplicate
	}
	if isForeignKeyViolation(err) {
		return repository.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("insert booking: %w", err)
	}
	return nil
}

func (r *bookingRepository) GetByID(ctx context.Context, id int64) (*domain.Booking, error) {
	var b domain.Booking
	if err := r.db.GetContext(ctx, &b, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id); err != nil {
		return nil, notFound(err)
	}
	return &b, nil
}

func (r *bookingRepository) GetBySourceCharge(ctx context.Context, chargeID string) (*domain.Booking, error) {
	var b domain.Booking
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE source_charge_id = $1`
	if err := r.db.GetContext(ctx, &b, query, chargeID); err != nil {
		return nil, notFound(err)
	}
	return &b, nil
}

func (r *bookingRepository) Close(ctx context.Context, id int64, status domain.BookingStatus, at time.Time) error {
	query := `UPDATE bookings SET status = $2, closed_at = $3 WHERE id = $1 AND status = 'active'`
	res, err := r.db.ExecContext(ctx, query, id, status, at)
	if err != nil {
		return err
	}
	return checkAffected(ctx, r.db, res, "bookings", id)
}

func (r *bookingRepository) ExpireBefore(ctx context.Context, now time.Time) ([]domain.Booking, error) {
	var bookings []domain.Booking
	query := `UPDATE bookings SET status = 'cancelled', closed_at = $1
	          WHERE status = 'active' AND expires_at <= $1
	          RETURNING ` + bookingColumns
	err := r.db.SelectContext(ctx, &bookings, query, now)
	return bookings, err
}
