package feed

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Priya8975/order-relay/internal/domain"
)

// ErrMalformedPayload marks a notification that could not be turned into a
// ChangeEvent. Such notifications are dropped.
var ErrMalformedPayload = errors.New("malformed change feed payload")

// ParseChangeEvent decodes one notification payload produced by the orders
// trigger. Numbers are kept as json.Number so bigint columns survive intact.
func ParseChangeEvent(payload []byte) (domain.ChangeEvent, error) {
	var ev domain.ChangeEvent

	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	if err := dec.Decode(&ev); err != nil {
		return domain.ChangeEvent{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	if !ev.Operation.Valid() {
		return domain.ChangeEvent{}, fmt.Errorf("%w: unknown operation %q", ErrMalformedPayload, ev.Operation)
	}
	if ev.Data == nil {
		return domain.ChangeEvent{}, fmt.Errorf("%w: %s without data", ErrMalformedPayload, ev.Operation)
	}

	return ev, nil
}
