package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sendgrid/rest"

	"bikefleet-backend/internal/domain"
	"bikefleet-backend/internal/logger"
	"bikefleet-backend/internal/metrics"
)

// YooKassaClient talks to the YooKassa v3 REST API.
type YooKassaClient struct {
	baseURL  string
	auth     string
	currency string
	timeout  time.Duration
	client   *rest.Client
}

func NewYooKassaClient(baseURL, shopID, secretKey, currency string, timeout time.Duration) *YooKassaClient {
	return &YooKassaClient{
		baseURL:  strings.TrimRight(baseURL, "/"),
		auth:     "Basic " + base64.StdEncoding.EncodeToString([]byte(shopID+":"+secretKey)),
		currency: currency,
		timeout:  timeout,
		client:   &rest.Client{HTTPClient: &http.Client{Timeout: timeout}},
	}
}

type amountBody struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

type confirmationBody struct {
	Type            string `json:"type"`
	ReturnURL       string `json:"return_url,omitempty"`
	ConfirmationURL string `json:"confirmation_url,omitempty"`
}

type receiptItem struct {
	Description string     `json:"description"`
	Quantity    string     `json:"quantity"`
	Amount      amountBody `json:"amount"`
	VATCode     int        `json:"vat_code"`
}

type receiptBody struct {
	Customer struct {
		Phone string `json:"phone"`
	} `json:"customer"`
	Items []receiptItem `json:"items"`
}

type createPaymentBody struct {
	Amount            amountBody        `json:"amount"`
	Capture           bool              `json:"capture"`
	Description       string            `json:"description,omitempty"`
	Metadata          map[string]string `json:"metadata"`
	Confirmation      *confirmationBody `json:"confirmation,omitempty"`
	PaymentMethodID   string            `json:"payment_method_id,omitempty"`
	SavePaymentMethod bool              `json:"save_payment_method,omitempty"`
	Receipt           *receiptBody      `json:"receipt,omitempty"`
}

type paymentResponse struct {
	ID            string             `json:"id"`
	Status        string             `json:"status"`
	Amount        amountBody         `json:"amount"`
	Confirmation  *confirmationBody  `json:"confirmation"`
	Metadata      map[string]string  `json:"metadata"`
	PaymentMethod *PaymentMethodBody `json:"payment_method"`
}

type createRefundBody struct {
	PaymentID   string     `json:"payment_id"`
	Amount      amountBody `json:"amount"`
	Description string     `json:"description,omitempty"`
}

type refundResponse struct {
	ID        string     `json:"id"`
	PaymentID string     `json:"payment_id"`
	Status    string     `json:"status"`
	Amount    amountBody `json:"amount"`
}

func (c *YooKassaClient) amount(m domain.Money) amountBody {
	return amountBody{Value: m.String(), Currency: c.currency}
}

func (c *YooKassaClient) CreateCharge(ctx context.Context, req ChargeRequest) (*Charge, error) {
	body := createPaymentBody{
		Amount:            c.amount(req.Amount),
		Capture:           true,
		Description:       req.Description,
		Metadata:          req.Metadata.Map(),
		SavePaymentMethod: req.SavePaymentMethod,
	}
	if req.PaymentMethodID != "" {
		body.PaymentMethodID = req.PaymentMethodID
	} else {
		body.Confirmation = &confirmationBody{Type: "redirect", ReturnURL: req.ReturnURL}
	}
	if req.ReceiptPhone != "" {
		body.Receipt = &receiptBody{Items: []receiptItem{{
			Description: req.Description,
			Quantity:    "1.00",
			Amount:      c.amount(req.Amount),
			VATCode:     1,
		}}}
		body.Receipt.Customer.Phone = req.ReceiptPhone
	}

	var resp paymentResponse
	if err := c.post(ctx, "create_payment", "/payments", req.IdempotencyKey, body, &resp); err != nil {
		return nil, err
	}

	charged, err := domain.ParseMoney(resp.Amount.Value)
	if err != nil {
		return nil, fmt.Errorf("%w: bad amount in response: %v", ErrUnavailable, err)
	}
	charge := &Charge{
		ID:       resp.ID,
		Status:   ChargeStatus(resp.Status),
		Amount:   charged,
		Metadata: resp.Metadata,
	}
	if resp.Confirmation != nil {
		charge.ConfirmationURL = resp.Confirmation.ConfirmationURL
	}
	if pm := resp.PaymentMethod; pm != nil {
		charge.PaymentMethod = &PaymentMethod{ID: pm.ID, Type: pm.Type, Title: pm.Title, Saved: pm.Saved}
	}
	return charge, nil
}

func (c *YooKassaClient) CreateRefund(ctx context.Context, req RefundRequest) (*Refund, error) {
	body := createRefundBody{
		PaymentID:   req.ChargeID,
		Amount:      c.amount(req.Amount),
		Description: req.Reason,
	}

	var resp refundResponse
	if err := c.post(ctx, "create_refund", "/refunds", req.IdempotencyKey, body, &resp); err != nil {
		return nil, err
	}

	refunded, err := domain.ParseMoney(resp.Amount.Value)
	if err != nil {
		return nil, fmt.Errorf("%w: bad amount in response: %v", ErrUnavailable, err)
	}
	return &Refund{
		ID:       resp.ID,
		ChargeID: resp.PaymentID,
		Status:   RefundStatus(resp.Status),
		Amount:   refunded,
	}, nil
}

func (c *YooKassaClient) post(ctx context.Context, op, path, idempotencyKey string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", op, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	request := rest.Request{
		Method:  rest.Post,
		BaseURL: c.baseURL + path,
		Headers: map[string]string{
			"Authorization":   c.auth,
			"Content-Type":    "application/json",
			"Idempotence-Key": idempotencyKey,
		},
		Body: payload,
	}

	logger.ExternalServiceCall("yookassa", op, "idempotence_key", idempotencyKey)
	start := time.Now()
	resp, err := c.client.SendWithContext(ctx, request)
	outcome := "ok"
	defer func() {
		metrics.GatewayRequestDuration.WithLabelValues(op, outcome).Observe(time.Since(start).Seconds())
	}()
	if err != nil {
		outcome = "transport_error"
		logger.ExternalServiceResult("yookassa", op, err)
		return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
	}
	if resp.StatusCode >= 500 {
		outcome = "server_error"
		err := fmt.Errorf("%w: %s: status %d", ErrUnavailable, op, resp.StatusCode)
		logger.ExternalServiceResult("yookassa", op, err)
		return err
	}
	if resp.StatusCode >= 400 {
		outcome = "rejected"
		err := fmt.Errorf("%w: %s: status %d: %s", ErrRejected, op, resp.StatusCode, resp.Body)
		logger.ExternalServiceResult("yookassa", op, err)
		return err
	}
	logger.ExternalServiceResult("yookassa", op, nil, "status", resp.StatusCode)

	if err := json.Unmarshal([]byte(resp.Body), out); err != nil {
		outcome = "bad_response"
		return fmt.Errorf("%w: decode %s response: %v", ErrUnavailable, op, err)
	}
	return nil
}
