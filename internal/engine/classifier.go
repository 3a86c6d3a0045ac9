package engine

import (
	"github.com/Priya8975/order-relay/internal/domain"
)

// Classify maps one change event to the notifications it should produce.
// Every matching rule fires; the result order is stable.
//
//   - every event goes to everyone as order_change and to admins as admin_order_update
//   - a new order awaiting payment raises new_order_alert for admins
//   - an update flipping payment_status to paid raises payment_success for
//     everyone and for the order's own room
func Classify(ev domain.ChangeEvent) []domain.Notification {
	orderID := ev.Data.OrderID()

	out := []domain.Notification{
		{Room: domain.RoomBroadcast, Event: domain.EventOrderChange, OrderID: orderID, Payload: ev},
		{Room: domain.RoomAdmin, Event: domain.EventAdminOrderUpdate, OrderID: orderID, Payload: ev},
	}

	if ev.Operation == domain.OpInsert && ev.Data.Status() == domain.StatusPendingPayment {
		out = append(out, domain.Notification{
			Room: domain.RoomAdmin, Event: domain.EventNewOrderAlert, OrderID: orderID, Payload: ev.Data,
		})
	}

	if ev.Operation == domain.OpUpdate && paymentBecamePaid(ev) {
		out = append(out,
			domain.Notification{Room: domain.RoomBroadcast, Event: domain.EventPaymentSuccess, OrderID: orderID, Payload: ev.Data},
		)
		if orderID != "" {
			out = append(out,
				domain.Notification{Room: domain.OrderRoom(orderID), Event: domain.EventPaymentSuccess, OrderID: orderID, Payload: ev.Data},
			)
		}
	}

	return out
}

func paymentBecamePaid(ev domain.ChangeEvent) bool {
	return ev.OldData.PaymentStatus() != ev.Data.PaymentStatus() &&
		ev.Data.PaymentStatus() == domain.PaymentPaid
}

// PaymentConfirmed returns the notifications the reconciliation sweep emits
// for an order whose payment was confirmed but never announced.
func PaymentConfirmed(order domain.Order) []domain.Notification {
	return []domain.Notification{
		{Room: domain.RoomAdmin, Event: domain.EventPaymentPaid, OrderID: order.OrderID, Payload: order},
		{Room: domain.OrderRoom(order.OrderID), Event: domain.EventPaymentSuccess, OrderID: order.OrderID, Payload: order},
	}
}
