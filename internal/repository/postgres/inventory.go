package postgres

import (
	"context"

	"github.com/jmoiron/sqlx"

	"bikefleet-backend/internal/domain"
	"bikefleet-backend/internal/repository"
)

const bikeColumns = `id, bike_code, status, tariff_id, city, frame_number, registration_number,
	iot_device_id, service_reason`

type bikeRepository struct {
	db *sqlx.DB
}

func NewBikeRepository(db *sqlx.DB) repository.BikeRepository {
	return &bikeRepository{db: db}
}

func (r *bikeRepository) GetByID(ctx context.Context, id int64) (*domain.Bike, error) {
	var b domain.Bike
	if err := r.db.GetContext(ctx, &b, `SELECT `+bikeColumns+` FROM bikes WHERE id = $1`, id); err != nil {
		return nil, notFound(err)
	}
	return &b, nil
}

func (r *bikeRepository) GetByCode(ctx context.Context, code string) (*domain.Bike, error) {
	var b domain.Bike
	if err := r.db.GetContext(ctx, &b, `SELECT `+bikeColumns+` FROM bikes WHERE bike_code = $1`, code); err != nil {
		return nil, notFound(err)
	}
	return &b, nil
}

func (r *bikeRepository) ListAvailable(ctx context.Context, tariffID int64, city string) ([]domain.Bike, error) {
	var bikes []domain.Bike
	query := `SELECT ` + bikeColumns + ` FROM bikes
	          WHERE status = 'available' AND city = $2 AND (tariff_id IS NULL OR tariff_id = $1)
	          ORDER BY id`
	err := r.db.SelectContext(ctx, &bikes, query, tariffID, city)
	return bikes, err
}

func (r *bikeRepository) CompareAndSetStatus(ctx context.Context, id int64, from, to domain.BikeStatus, reason string) error {
	query := `UPDATE bikes SET status = $3, service_reason = $4 WHERE id = $1 AND status = $2`
	res, err := r.db.ExecContext(ctx, query, id, from, to, reason)
	if err != nil {
		return err
	}
	return checkAffected(ctx, r.db, res, "bikes", id)
}

type tariffRepository struct {
	db *sqlx.DB
}

func NewTariffRepository(db *sqlx.DB) repository.TariffRepository {
	return &tariffRepository{db: db}
}

func (r *tariffRepository) GetByID(ctx context.Context, id int64) (*domain.Tariff, error) {
	var t domain.Tariff
	query := `SELECT id, name, price, duration_days, is_active FROM tariffs WHERE id = $1`
	if err := r.db.GetContext(ctx, &t, query, id); err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}
