package domain

import "strings"

// Rooms
const (
	RoomBroadcast = "broadcast"
	RoomAdmin     = "admin"

	orderRoomPrefix = "order:"
)

// Outbound real-time event names.
const (
	EventOrderChange      = "order_change"
	EventAdminOrderUpdate = "admin_order_update"
	EventNewOrderAlert    = "new_order_alert"
	EventPaymentSuccess   = "payment_success"
	EventPaymentPaid      = "payment_paid"
	EventError            = "error"
)

// OrderRoom returns the room customers of a single order join.
func OrderRoom(orderID string) string {
	return orderRoomPrefix + orderID
}

// IsOrderRoom reports whether room is an order:<id> room.
func IsOrderRoom(room string) bool {
	return strings.HasPrefix(room, orderRoomPrefix) && len(room) > len(orderRoomPrefix)
}

// Notification is a single event addressed to a room.
type Notification struct {
	Room    string `json:"room"`
	Event   string `json:"event"`
	OrderID string `json:"order_id,omitempty"`
	Payload any    `json:"payload"`
}
