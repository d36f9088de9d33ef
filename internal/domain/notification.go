package domain

type NotificationKind string

const (
	NotifyRentalCreated     NotificationKind = "rental_created"
	NotifyBikeAssigned      NotificationKind = "bike_assigned"
	NotifyBatteriesAssigned NotificationKind = "batteries_assigned"
	NotifyReturnFinalized   NotificationKind = "return_finalized"
	NotifyRentalRejected    NotificationKind = "rental_rejected"
	NotifyRenewalFailed     NotificationKind = "renewal_failed"
	NotifyBookingCreated    NotificationKind = "booking_created"
	NotifyBalanceTopUp      NotificationKind = "balance_top_up"
	NotifyDamageCharged     NotificationKind = "damage_charged"
	NotifyCardSaved         NotificationKind = "card_saved"
)

// Notification is a best-effort message to a client. Delivery never affects ledger state.
type Notification struct {
	Kind     NotificationKind  `json:"kind"`
	ClientID string            `json:"client_id"`
	Title    string            `json:"title"`
	Body     string            `json:"body"`
	Data     map[string]string `json:"data,omitempty"`
}
