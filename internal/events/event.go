// Package events relays recorded order lifecycle events to Kafka.
package events

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/retail-orders/internal/domain/order"
)

// Message is an encoded event waiting in the outbox.
type Message struct {
	ID        int64
	Type      string
	Key       string
	Payload   []byte
	CreatedAt time.Time
}

// Encode renders e as the JSON payload published for it.
func Encode(ev order.Event) []byte {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("id")
	e.Str(ev.ID)
	e.FieldStart("type")
	e.Str(ev.Type)
	e.FieldStart("orderId")
	e.Str(ev.OrderID)
	e.FieldStart("userId")
	e.Str(ev.UserID)
	if ev.From != "" {
		e.FieldStart("from")
		e.Str(string(ev.From))
	}
	e.FieldStart("to")
	e.Str(string(ev.To))
	e.FieldStart("occurredAt")
	e.Str(ev.OccurredAt.UTC().Format(time.RFC3339Nano))
	e.ObjEnd()
	return e.Bytes()
}

// Decode parses a payload produced by Encode. Unknown fields are skipped.
func Decode(data []byte) (order.Event, error) {
	var ev order.Event
	err := jx.DecodeBytes(data).ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "id":
			return decodeStr(d, &ev.ID)
		case "type":
			return decodeStr(d, &ev.Type)
		case "orderId":
			return decodeStr(d, &ev.OrderID)
		case "userId":
			return decodeStr(d, &ev.UserID)
		case "from":
			var s string
			if err := decodeStr(d, &s); err != nil {
				return err
			}
			ev.From = order.Status(s)
		case "to":
			var s string
			if err := decodeStr(d, &s); err != nil {
				return err
			}
			ev.To = order.Status(s)
		case "occurredAt":
			var s string
			if err := decodeStr(d, &s); err != nil {
				return err
			}
			t, err := time.Parse(time.RFC3339Nano, s)
			if err != nil {
				return errors.Wrap(err, "occurredAt")
			}
			ev.OccurredAt = t
		default:
			return d.Skip()
		}
		return nil
	})
	if err != nil {
		return order.Event{}, errors.Wrap(err, "decode event")
	}
	return ev, nil
}

func decodeStr(d *jx.Decoder, dst *string) error {
	s, err := d.Str()
	if err != nil {
		return err
	}
	*dst = s
	return nil
}
