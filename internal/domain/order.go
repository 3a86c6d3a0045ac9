package domain

import (
	"encoding/json"
	"time"
)

// Order statuses. The set is open: any other value coming from the store is
// carried through unchanged.
const (
	StatusPendingPayment = "pending_payment"
	StatusPending        = "pending"
	StatusAccepted       = "accepted"
	StatusRejected       = "rejected"
)

// Payment statuses.
const (
	PaymentPending = "pending"
	PaymentPaid    = "paid"
)

const DefaultPaymentMethod = "payme"

type Order struct {
	ID            int64           `json:"id"`
	OrderID       string          `json:"order_id"`
	Name          string          `json:"name"`
	Phone         string          `json:"phone"`
	Items         json.RawMessage `json:"items"`
	Total         int             `json:"total"`
	Status        string          `json:"status"`
	PaymentStatus string          `json:"payment_status"`
	PaymentMethod string          `json:"payment_method"`
	Location      *string         `json:"location"`
	TgID          *int64          `json:"tg_id"`
	CreatedAt     time.Time       `json:"created_at"`
	AcceptedAt    *time.Time      `json:"accepted_at"`
	RejectedAt    *time.Time      `json:"rejected_at"`
	Notified      bool            `json:"notified"`
}

type CreateOrderRequest struct {
	OrderID       string          `json:"order_id"`
	Name          string          `json:"name"`
	Phone         string          `json:"phone"`
	Items         json.RawMessage `json:"items"`
	Total         int             `json:"total"`
	Location      *string         `json:"location,omitempty"`
	TgID          *int64          `json:"tg_id,omitempty"`
	PaymentMethod string          `json:"payment_method,omitempty"`
}

type UpdateStatusRequest struct {
	Status        *string `json:"status,omitempty"`
	PaymentStatus *string `json:"payment_status,omitempty"`
}

type PaymentCallbackRequest struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
}
