package domain

import "time"

// Client is a rider. Balance is a stored value that must always equal the sum of
// balance deltas of the client's succeeded payments.
type Client struct {
	ID                 string    `json:"id" db:"id"`
	Name               string    `json:"name" db:"name"`
	Phone              string    `json:"phone" db:"phone"`
	City               string    `json:"city" db:"city"`
	Balance            Money     `json:"balance" db:"balance"`
	PaymentMethodID    *string   `json:"payment_method_id,omitempty" db:"payment_method_id"`
	PaymentMethodTitle string    `json:"payment_method_title" db:"payment_method_title"`
	AutopayEnabled     bool      `json:"autopay_enabled" db:"autopay_enabled"`
	PushToken          *string   `json:"-" db:"push_token"`
	CreatedAt          time.Time `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time `json:"updated_at" db:"updated_at"`
}

// HasSavedMethod reports whether the client can be charged without a redirect
func (c *Client) HasSavedMethod() bool {
	return c.PaymentMethodID != nil && *c.PaymentMethodID != ""
}

// NormalizedPhone returns the phone in +7XXXXXXXXXX form for gateway receipts
func (c *Client) NormalizedPhone() string {
	digits := make([]byte, 0, len(c.Phone))
	for i := 0; i < len(c.Phone); i++ {
		if c.Phone[i] >= '0' && c.Phone[i] <= '9' {
			digits = append(digits, c.Phone[i])
		}
	}
	if len(digits) == 0 {
		return ""
	}
	switch {
	case len(digits) == 11 && (digits[0] == '8' || digits[0] == '7'):
		digits = digits[1:]
	case len(digits) == 10:
	default:
		return "+" + string(digits)
	}
	return "+7" + string(digits)
}
