package domain

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
)

// ErrNotObject is returned by FromJSON when the record is not a JSON object.
var ErrNotObject = errors.New("record is not an object")

// Warning describes a unit that was skipped or defaulted while reading a record.
type Warning struct {
	PaymentID PaymentID
	Field     string
	Reason    string
}

func (w Warning) String() string {
	id := string(w.PaymentID)
	if id == "" {
		id = "N/A"
	}
	return fmt.Sprintf("payment %s: %s: %s", id, w.Field, w.Reason)
}

// FromJSON maps one raw upstream record onto Payment. All defaulting lives here:
// absent fields stay zero, wrong-typed sub-structures are dropped with a warning.
func FromJSON(raw []byte) (Payment, []Warning, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return Payment{}, nil, fmt.Errorf("decode record: %w", err)
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return Payment{}, nil, ErrNotObject
	}

	r := reader{}
	p := Payment{
		ID:                PaymentID(scalar(obj["id"])),
		State:             scalar(obj["state"]),
		CashOutState:      scalar(obj["cashOutState"]),
		CashOutDate:       scalar(obj["cashOutDate"]),
		PaymentReceiptURL: scalar(obj["paymentReceiptUrl"]),
	}
	r.id = p.ID
	p.Amount = r.minorUnits("amount", obj["amount"])

	if order := r.object("order", obj["order"]); order != nil {
		p.Order = Order{ID: scalar(order["id"]), Date: scalar(order["date"])}
	}
	if payer := r.object("payer", obj["payer"]); payer != nil {
		p.Payer = Payer{
			LastName:    scalar(payer["lastName"]),
			FirstName:   scalar(payer["firstName"]),
			Email:       scalar(payer["email"]),
			DateOfBirth: scalar(payer["dateOfBirth"]),
			Company:     scalar(payer["company"]),
			Address:     scalar(payer["address"]),
			ZipCode:     scalar(payer["zipCode"]),
			City:        scalar(payer["city"]),
		}
	}

	for i, entry := range r.list("items", obj["items"]) {
		field := fmt.Sprintf("items[%d]", i)
		item, ok := entry.(map[string]any)
		if !ok {
			r.warn(field, "not an object, skipped")
			continue
		}
		p.Items = append(p.Items, Item{
			Amount: r.minorUnits(field+".amount", item["amount"]),
			State:  scalar(item["state"]),
			Name:   scalar(item["name"]),
		})
	}

	for i, entry := range r.list("refundOperations", obj["refundOperations"]) {
		field := fmt.Sprintf("refundOperations[%d]", i)
		refund, ok := entry.(map[string]any)
		if !ok {
			r.warn(field, "not an object, skipped")
			continue
		}
		before := len(r.warnings)
		out := Refund{Amount: r.minorUnits(field+".amount", refund["amount"])}
		out.AmountInvalid = len(r.warnings) > before
		if meta := r.object(field+".meta", refund["meta"]); meta != nil {
			out.CreatedAt = scalar(meta["createdAt"])
		}
		p.Refunds = append(p.Refunds, out)
	}

	return p, r.warnings, nil
}

type reader struct {
	id       PaymentID
	warnings []Warning
}

func (r *reader) warn(field, reason string) {
	r.warnings = append(r.warnings, Warning{PaymentID: r.id, Field: field, Reason: reason})
}

func (r *reader) object(field string, v any) map[string]any {
	if v == nil {
		return nil
	}
	obj, ok := v.(map[string]any)
	if !ok {
		r.warn(field, "not an object, ignored")
		return nil
	}
	return obj
}

func (r *reader) list(field string, v any) []any {
	if v == nil {
		return nil
	}
	items, ok := v.([]any)
	if !ok {
		r.warn(field, "not a list, ignored")
		return nil
	}
	return items
}

func (r *reader) minorUnits(field string, v any) decimal.Decimal {
	switch n := v.(type) {
	case nil:
		return decimal.Zero
	case json.Number:
		d, err := decimal.NewFromString(n.String())
		if err != nil {
			r.warn(field, "invalid number "+n.String())
			return decimal.Zero
		}
		return d
	default:
		r.warn(field, fmt.Sprintf("not a number (%T)", v))
		return decimal.Zero
	}
}

// scalar renders a JSON scalar the way it should appear in a cell.
func scalar(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case json.Number:
		return s.String()
	case bool:
		return strconv.FormatBool(s)
	default:
		data, err := json.Marshal(s)
		if err != nil {
			return ""
		}
		return string(data)
	}
}
