package domain

import "time"

type IssueKind string

const (
	// Money moved on the gateway but a local write after it failed.
	IssueChargeNotApplied IssueKind = "charge_not_applied"
	// A compensating action of an aborted workflow failed.
	IssueCompensationFailed IssueKind = "compensation_failed"
	// The gateway refunded but the payment row could not be marked.
	IssueRefundNotRecorded IssueKind = "refund_not_recorded"
	// Stored balance differs from the sum of succeeded balance deltas.
	IssueLedgerMismatch IssueKind = "ledger_mismatch"
	// A webhook debit left the balance negative.
	IssueNegativeBalance IssueKind = "negative_balance"
)

type IssueStatus string

const (
	IssueStatusOpen     IssueStatus = "open"
	IssueStatusResolved IssueStatus = "resolved"
)

// ReconciliationIssue is an entry of the manual review queue.
type ReconciliationIssue struct {
	ID       int64       `json:"id" db:"id"`
	Kind     IssueKind   `json:"kind" db:"kind"`
	Status   IssueStatus `json:"status" db:"status"`
	ChargeID *string     `json:"charge_id,omitempty" db:"charge_id"`
	ClientID *string     `json:"client_id,omitempty" db:"client_id"`
	RentalID *int64      `json:"rental_id,omitempty" db:"rental_id"`
	Amount   Money       `json:"amount" db:"amount"`
	Detail   string      `json:"detail" db:"detail"`
	// Key collapses repeated reports of the same problem into one issue.
	Key        *string    `json:"key,omitempty" db:"issue_key"`
	Resolution string     `json:"resolution,omitempty" db:"resolution"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty" db:"resolved_at"`
}

// NotAppliedIssueKey identifies the single issue kept for a charge whose effects are missing
func NotAppliedIssueKey(chargeID string) string {
	return "charge:" + chargeID + ":not_applied"
}
