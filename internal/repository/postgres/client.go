package postgres

import (
	"context"

	"github.com/jmoiron/sqlx"

	"bikefleet-backend/internal/domain"
	"bikefleet-backend/internal/repository"
)

type clientRepository struct {
	db *sqlx.DB
}

func NewClientRepository(db *sqlx.DB) repository.ClientRepository {
	return &clientRepository{db: db}
}

func (r *clientRepository) GetByID(ctx context.Context, id string) (*domain.Client, error) {
	var c domain.Client
	query := `SELECT id, name, phone, city, balance, payment_method_id, payment_method_title,
	                 autopay_enabled, push_token, created_at, updated_at
	          FROM clients WHERE id = $1`
	if err := r.db.GetContext(ctx, &c, query, id); err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

func (r *clientRepository) SavePaymentMethod(ctx context.Context, clientID, methodID, title string) error {
	query := `UPDATE clients SET payment_method_id = $2, payment_method_title = $3,
	                 autopay_enabled = TRUE, updated_at = NOW()
	          WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, clientID, methodID, title)
	if err != nil {
		return err
	}
	return checkAffected(ctx, r.db, res, "clients", clientID)
}

func (r *clientRepository) ListIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := r.db.SelectContext(ctx, &ids, `SELECT id FROM clients ORDER BY id`)
	return ids, err
}
