package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/Priya8975/order-relay/internal/domain"
)

// ErrOrderNotFound is returned by updates that match no order.
var ErrOrderNotFound = errors.New("order not found")

// Nullable text columns are coalesced so a row written by another client
// with NULLs still scans.
const orderColumns = `
	id, order_id, name, phone, items, total,
	COALESCE(status, ''), COALESCE(payment_status, ''), COALESCE(payment_method, ''),
	location, tg_id, COALESCE(created_at, NOW()), accepted_at, rejected_at,
	COALESCE(notified, FALSE)`

func scanOrder(row pgx.Row) (domain.Order, error) {
	var o domain.Order
	var items []byte
	err := row.Scan(
		&o.ID, &o.OrderID, &o.Name, &o.Phone, &items, &o.Total,
		&o.Status, &o.PaymentStatus, &o.PaymentMethod,
		&o.Location, &o.TgID, &o.CreatedAt, &o.AcceptedAt, &o.RejectedAt,
		&o.Notified,
	)
	if err != nil {
		return domain.Order{}, err
	}
	o.Items = json.RawMessage(items)
	return o, nil
}

func (s *PostgresStore) CreateOrder(ctx context.Context, req domain.CreateOrderRequest) (*domain.Order, error) {
	items := req.Items
	if len(items) == 0 {
		items = json.RawMessage("[]")
	}
	method := req.PaymentMethod
	if method == "" {
		method = domain.DefaultPaymentMethod
	}

	o, err := scanOrder(s.pool.QueryRow(ctx, `
		INSERT INTO orders (order_id, name, phone, items, total, location, tg_id, status, payment_status, payment_method)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING `+orderColumns,
		req.OrderID, req.Name, req.Phone, string(items), req.Total, req.Location, req.TgID,
		domain.StatusPendingPayment, domain.PaymentPending, method,
	))
	if err != nil {
		return nil, fmt.Errorf("inserting order: %w", err)
	}
	return &o, nil
}

func (s *PostgresStore) ListOrders(ctx context.Context) ([]domain.Order, error) {
	return s.queryOrders(ctx, `SELECT `+orderColumns+` FROM orders ORDER BY created_at DESC`)
}

// GetOrder returns nil, nil when no order has the given external id.
func (s *PostgresStore) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	o, err := scanOrder(s.pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE order_id = $1`, orderID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying order: %w", err)
	}
	return &o, nil
}

// UpdateStatus applies the non-nil fields of req. accepted_at and rejected_at
// are stamped the first time the order enters that status. The order becomes
// eligible for reconciliation again.
func (s *PostgresStore) UpdateStatus(ctx context.Context, orderID string, req domain.UpdateStatusRequest) (*domain.Order, error) {
	o, err := scanOrder(s.pool.QueryRow(ctx, `
		UPDATE orders SET
			status = COALESCE($1::varchar, status),
			payment_status = COALESCE($2::varchar, payment_status),
			accepted_at = CASE WHEN $1::varchar = 'accepted' THEN COALESCE(accepted_at, NOW()) ELSE accepted_at END,
			rejected_at = CASE WHEN $1::varchar = 'rejected' THEN COALESCE(rejected_at, NOW()) ELSE rejected_at END,
			notified = FALSE
		WHERE order_id = $3
		RETURNING `+orderColumns,
		req.Status, req.PaymentStatus, orderID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("updating order status: %w", err)
	}
	return &o, nil
}

// ApplyPaymentCallback records the payment provider's verdict. A paid order
// moves to pending so it shows up for acceptance.
func (s *PostgresStore) ApplyPaymentCallback(ctx context.Context, req domain.PaymentCallbackRequest) (*domain.Order, error) {
	o, err := scanOrder(s.pool.QueryRow(ctx, `
		UPDATE orders SET
			payment_status = $1::varchar,
			status = CASE WHEN $1::varchar = 'paid' THEN 'pending' ELSE status END,
			notified = FALSE
		WHERE order_id = $2
		RETURNING `+orderColumns,
		req.Status, req.OrderID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("applying payment callback: %w", err)
	}
	return &o, nil
}

// ListUnnotifiedPaid returns paid orders still waiting for acceptance that
// have not been announced yet.
func (s *PostgresStore) ListUnnotifiedPaid(ctx context.Context) ([]domain.Order, error) {
	return s.queryOrders(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE payment_status = 'paid'
		  AND status = 'pending'
		  AND notified IS NOT TRUE
		ORDER BY id`)
}

func (s *PostgresStore) MarkNotified(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx, `UPDATE orders SET notified = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("marking order %d notified: %w", id, err)
	}
	return nil
}

func (s *PostgresStore) queryOrders(ctx context.Context, sql string, args ...any) ([]domain.Order, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("querying orders: %w", err)
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning order: %w", err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating orders: %w", err)
	}
	return orders, nil
}
