package domain

import (
	"encoding/json"
	"fmt"
)

// Operation is the kind of row mutation reported by the change feed.
type Operation string

const (
	OpInsert Operation = "INSERT"
	OpUpdate Operation = "UPDATE"
	OpDelete Operation = "DELETE"
)

func (o Operation) Valid() bool {
	switch o {
	case OpInsert, OpUpdate, OpDelete:
		return true
	}
	return false
}

// Row is an order snapshot as produced by row_to_json. It is kept untyped so
// columns this service does not know about still reach subscribers.
type Row map[string]any

// String returns the column as a string. Non-string values are formatted,
// missing or null columns return "".
func (r Row) String(key string) string {
	v, ok := r[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		// JSON numbers decode as float64; order ids may be numeric.
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%g", t)
	default:
		return fmt.Sprint(t)
	}
}

func (r Row) OrderID() string       { return r.String("order_id") }
func (r Row) Status() string        { return r.String("status") }
func (r Row) PaymentStatus() string { return r.String("payment_status") }

// ChangeEvent is one committed mutation of the orders table.
type ChangeEvent struct {
	Operation Operation `json:"operation"`
	Data      Row       `json:"data"`
	OldData   Row       `json:"old_data,omitempty"`
}
