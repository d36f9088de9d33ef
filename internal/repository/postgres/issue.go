package postgres

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"bikefleet-backend/internal/domain"
	"bikefleet-backend/internal/repository"
)

type issueRepository struct {
	db *sqlx.DB
}

func NewIssueRepository(db *sqlx.DB) repository.IssueRepository {
	return &issueRepository{db: db}
}

func (r *issueRepository) Create(ctx context.Context, issue *domain.ReconciliationIssue) error {
	if issue.Status == "" {
		issue.Status = domain.IssueStatusOpen
	}
	query := `INSERT INTO reconciliation_issues (kind, status, charge_id, client_id, rental_id, amount, detail, issue_key)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id, created_at`
	err := r.db.QueryRowxContext(ctx, query,
		issue.Kind, issue.Status, issue.ChargeID, issue.ClientID, issue.RentalID, issue.Amount, issue.Detail, issue.Key,
	).Scan(&issue.ID, &issue.CreatedAt)
	if isUniqueViolation(err) {
		return repository.ErrDuplicate
	}
	return err
}

func (r *issueRepository) ListOpen(ctx context.Context) ([]domain.ReconciliationIssue, error) {
	var issues []domain.ReconciliationIssue
	query := `SELECT id, kind, status, charge_id, client_id, rental_id, amount, detail, issue_key,
	                 resolution, created_at, resolved_at
	          FROM reconciliation_issues WHERE status = 'open' ORDER BY id`
	err := r.db.SelectContext(ctx, &issues, query)
	return issues, err
}

func (r *issueRepository) Resolve(ctx context.Context, id int64, resolution string, at time.Time) error {
	query := `UPDATE reconciliation_issues SET status = 'resolved', resolution = $2, resolved_at = $3
	          WHERE id = $1 AND status = 'open'`
	res, err := r.db.ExecContext(ctx, query, id, resolution, at)
	if err != nil {
		return err
	}
	return checkAffected(ctx, r.db, res, "reconciliation_issues", id)
}
