package domain

import (
	"github.com/shopspring/decimal"
)

type PaymentID string

// Payment is the subset of a HelloAsso payment the export reads.
// Every field is optional upstream; the zero value means "absent".
type Payment struct {
	ID                PaymentID
	Amount            decimal.Decimal // в минимальных единицах (центы)
	State             string
	CashOutState      string
	CashOutDate       string
	PaymentReceiptURL string

	Order   Order
	Payer   Payer
	Items   []Item
	Refunds []Refund
}

type Order struct {
	ID   string
	Date string
}

type Payer struct {
	LastName    string
	FirstName   string
	Email       string
	DateOfBirth string
	Company     string
	Address     string
	ZipCode     string
	City        string
}

type Item struct {
	Amount decimal.Decimal
	State  string
	Name   string
}

type Refund struct {
	Amount decimal.Decimal
	// AmountInvalid is set when amount was present but not a number.
	AmountInvalid bool
	// CreatedAt is the raw meta.createdAt value, empty when absent.
	CreatedAt string
}
