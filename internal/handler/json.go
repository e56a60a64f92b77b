package handler

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/retail-orders/internal/domain/order"
	"github.com/xenking/retail-orders/internal/domain/page"
	"github.com/xenking/retail-orders/internal/domain/product"
)

const maxBodySize = 64 << 10

func writeJSON(w http.ResponseWriter, status int, encode func(e *jx.Encoder)) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	encode(e)

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(len(e.Bytes())))
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("code")
		e.Int(status)
		e.FieldStart("message")
		e.Str(message)
		e.ObjEnd()
	})
}

func encodeTime(e *jx.Encoder, t time.Time) {
	e.Str(t.UTC().Format(time.RFC3339))
}

func encodeOrder(e *jx.Encoder, o *order.Order) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(o.ID)
	e.FieldStart("userId")
	e.Str(o.UserID)
	e.FieldStart("status")
	e.Str(string(o.Status))
	e.FieldStart("deliveryMethod")
	e.Str(string(o.Delivery))
	e.FieldStart("recipient")
	encodeRecipient(e, o.Recipient)
	e.FieldStart("createdAt")
	encodeTime(e, o.CreatedAt)
	e.FieldStart("updatedAt")
	encodeTime(e, o.UpdatedAt)
	e.FieldStart("version")
	e.Int64(o.Version)
	if o.Items != nil {
		e.FieldStart("items")
		e.ArrStart()
		for _, it := range o.Items {
			encodeItem(e, it, nil)
		}
		e.ArrEnd()
	}
	e.ObjEnd()
}

func encodeRecipient(e *jx.Encoder, r order.Recipient) {
	e.ObjStart()
	e.FieldStart("firstName")
	e.Str(r.FirstName)
	e.FieldStart("lastName")
	e.Str(r.LastName)
	e.FieldStart("street")
	e.Str(r.Street)
	e.FieldStart("postalCode")
	e.Str(r.PostalCode)
	e.FieldStart("city")
	e.Str(r.City)
	e.FieldStart("phone")
	e.Str(r.Phone)
	e.ObjEnd()
}

// encodeItem writes an order line. The product field is only emitted for
// item views, as null when the product is no longer in the catalog.
func encodeItem(e *jx.Encoder, it order.Item, view *order.ItemView) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(it.ID)
	e.FieldStart("productId")
	e.Str(it.ProductID)
	e.FieldStart("quantity")
	e.Int(it.Quantity)
	e.FieldStart("priceAtPurchase")
	e.Str(it.PriceAtPurchase.StringFixed(2))
	e.FieldStart("lineNo")
	e.Int(it.LineNo)
	if view != nil {
		e.FieldStart("product")
		if view.Product == nil {
			e.Null()
		} else {
			encodeProduct(e, view.Product)
		}
	}
	e.ObjEnd()
}

func encodeProduct(e *jx.Encoder, p *product.Product) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(p.ID)
	e.FieldStart("name")
	e.Str(p.Name)
	e.FieldStart("price")
	e.Str(p.Price.StringFixed(2))
	e.FieldStart("category")
	e.Str(p.Category)
	e.FieldStart("available")
	e.Bool(p.Available)
	e.FieldStart("image")
	e.ObjStart()
	e.FieldStart("thumbnail")
	e.Str(p.Image.Thumbnail)
	e.FieldStart("desktop")
	e.Str(p.Image.Desktop)
	e.ObjEnd()
	e.ObjEnd()
}

func encodeTransition(e *jx.Encoder, t *order.Transition) {
	e.ObjStart()
	e.FieldStart("orderId")
	e.Str(t.OrderID)
	e.FieldStart("from")
	e.Str(string(t.From))
	e.FieldStart("to")
	e.Str(string(t.To))
	e.FieldStart("message")
	e.Str(t.Message())
	if t.Order != nil {
		e.FieldStart("order")
		encodeOrder(e, t.Order)
	}
	e.ObjEnd()
}

func encodePage[T any](e *jx.Encoder, p page.Page[T], item func(e *jx.Encoder, v *T)) {
	e.ObjStart()
	e.FieldStart("items")
	e.ArrStart()
	for i := range p.Items {
		item(e, &p.Items[i])
	}
	e.ArrEnd()
	e.FieldStart("page")
	e.Int(p.Index)
	e.FieldStart("size")
	e.Int(p.Size)
	e.FieldStart("total")
	e.Int64(p.Total)
	e.FieldStart("totalPages")
	e.Int(p.TotalPages())
	e.ObjEnd()
}

// decodePatch reads a JSON object of recipient and delivery fields. Absent
// keys stay nil; unknown keys and nulls are rejected.
func decodePatch(r io.Reader) (order.Patch, error) {
	var p order.Patch
	d := jx.Decode(io.LimitReader(r, maxBodySize), 512)
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var dst **string
		switch string(key) {
		case "firstName":
			dst = &p.FirstName
		case "lastName":
			dst = &p.LastName
		case "street":
			dst = &p.Street
		case "postalCode":
			dst = &p.PostalCode
		case "city":
			dst = &p.City
		case "phone":
			dst = &p.Phone
		case "deliveryMethod":
			s, err := decodeString(d, "deliveryMethod")
			if err != nil {
				return err
			}
			m := order.DeliveryMethod(s)
			p.Delivery = &m
			return nil
		default:
			return &order.ValidationError{Field: string(key), Message: "unknown field"}
		}
		s, err := decodeString(d, string(key))
		if err != nil {
			return err
		}
		*dst = &s
		return nil
	})
	if err != nil {
		var ve *order.ValidationError
		if errors.As(err, &ve) {
			return order.Patch{}, ve
		}
		return order.Patch{}, errors.Wrap(err, "invalid JSON body")
	}
	return p, nil
}

func decodeString(d *jx.Decoder, field string) (string, error) {
	if d.Next() != jx.String {
		return "", &order.ValidationError{Field: field, Message: "must be a string"}
	}
	return d.Str()
}

// decodePlaceOrder reads a checkout body: the recipient fields and the
// delivery method. Missing fields surface as blank values.
func decodePlaceOrder(r io.Reader) (order.Recipient, order.DeliveryMethod, error) {
	p, err := decodePatch(r)
	if err != nil {
		return order.Recipient{}, "", err
	}
	deref := func(s *string) string {
		if s == nil {
			return ""
		}
		return *s
	}
	rcp := order.Recipient{
		FirstName:  deref(p.FirstName),
		LastName:   deref(p.LastName),
		Street:     deref(p.Street),
		PostalCode: deref(p.PostalCode),
		City:       deref(p.City),
		Phone:      deref(p.Phone),
	}
	var delivery order.DeliveryMethod
	if p.Delivery != nil {
		delivery = *p.Delivery
	}
	return rcp, delivery, nil
}
