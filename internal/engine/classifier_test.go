package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Priya8975/order-relay/internal/domain"
)

func row(orderID, status, payment string) domain.Row {
	return domain.Row{
		"id":             float64(7),
		"order_id":       orderID,
		"status":         status,
		"payment_status": payment,
		"total":          float64(45000),
	}
}

func events(ns []domain.Notification) []string {
	out := make([]string, 0, len(ns))
	for _, n := range ns {
		out = append(out, n.Room+"/"+n.Event)
	}
	return out
}

func TestClassify_InsertPendingPayment(t *testing.T) {
	ev := domain.ChangeEvent{
		Operation: domain.OpInsert,
		Data:      row("A1", domain.StatusPendingPayment, domain.PaymentPending),
	}

	got := Classify(ev)

	assert.Equal(t, []string{
		"broadcast/order_change",
		"admin/admin_order_update",
		"admin/new_order_alert",
	}, events(got))
	assert.Equal(t, ev, got[0].Payload, "order_change carries the raw change event")
	assert.Equal(t, ev, got[1].Payload)
	assert.Equal(t, ev.Data, got[2].Payload)
	for _, n := range got {
		assert.Equal(t, "A1", n.OrderID)
	}
}

func TestClassify_InsertOtherStatus(t *testing.T) {
	ev := domain.ChangeEvent{
		Operation: domain.OpInsert,
		Data:      row("A2", domain.StatusPending, domain.PaymentPending),
	}

	assert.Equal(t, []string{"broadcast/order_change", "admin/admin_order_update"}, events(Classify(ev)))
}

func TestClassify_PaymentBecamePaid(t *testing.T) {
	ev := domain.ChangeEvent{
		Operation: domain.OpUpdate,
		Data:      row("A1", domain.StatusPending, domain.PaymentPaid),
		OldData:   row("A1", domain.StatusPendingPayment, domain.PaymentPending),
	}

	got := Classify(ev)

	require.Len(t, got, 4)
	assert.Equal(t, []string{
		"broadcast/order_change",
		"admin/admin_order_update",
		"broadcast/payment_success",
		"order:A1/payment_success",
	}, events(got))

	var paid int
	for _, n := range got {
		if n.Event == domain.EventPaymentSuccess {
			paid++
			assert.Equal(t, ev.Data, n.Payload)
		}
	}
	assert.Equal(t, 2, paid)
}

func TestClassify_NumericOrderID(t *testing.T) {
	data := row("", domain.StatusPending, domain.PaymentPaid)
	data["order_id"] = float64(1042)
	ev := domain.ChangeEvent{
		Operation: domain.OpUpdate,
		Data:      data,
		OldData:   row("", domain.StatusPending, domain.PaymentPending),
	}

	got := Classify(ev)

	require.Len(t, got, 4)
	assert.Equal(t, "order:1042", got[3].Room)
}

func TestClassify_OnlyUnconditionalNotifications(t *testing.T) {
	tests := []struct {
		name string
		ev   domain.ChangeEvent
	}{
		{
			name: "update already paid",
			ev: domain.ChangeEvent{
				Operation: domain.OpUpdate,
				Data:      row("B1", domain.StatusAccepted, domain.PaymentPaid),
				OldData:   row("B1", domain.StatusPending, domain.PaymentPaid),
			},
		},
		{
			name: "update to non-paid payment status",
			ev: domain.ChangeEvent{
				Operation: domain.OpUpdate,
				Data:      row("B2", domain.StatusPendingPayment, "failed"),
				OldData:   row("B2", domain.StatusPendingPayment, domain.PaymentPending),
			},
		},
		{
			name: "status change with unknown value",
			ev: domain.ChangeEvent{
				Operation: domain.OpUpdate,
				Data:      row("B3", "out_for_delivery", domain.PaymentPaid),
				OldData:   row("B3", domain.StatusAccepted, domain.PaymentPaid),
			},
		},
		{
			name: "delete of paid order",
			ev: domain.ChangeEvent{
				Operation: domain.OpDelete,
				Data:      row("B4", domain.StatusPendingPayment, domain.PaymentPaid),
			},
		},
		{
			name: "delete of new order",
			ev: domain.ChangeEvent{
				Operation: domain.OpDelete,
				Data:      row("B5", domain.StatusPendingPayment, domain.PaymentPending),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.ev)
			assert.Equal(t, []string{"broadcast/order_change", "admin/admin_order_update"}, events(got))
		})
	}
}

func TestPaymentConfirmed(t *testing.T) {
	order := domain.Order{ID: 3, OrderID: "C9", Status: domain.StatusPending, PaymentStatus: domain.PaymentPaid}

	got := PaymentConfirmed(order)

	assert.Equal(t, []string{"admin/payment_paid", "order:C9/payment_success"}, events(got))
	for _, n := range got {
		assert.Equal(t, order, n.Payload)
	}
}
