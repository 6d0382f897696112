package flatten

import (
	"errors"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/arnaduga/notif-hello-asso/internal/export/domain"
	"github.com/arnaduga/notif-hello-asso/internal/export/translate"
)

const ColumnCount = 20

// Header is the deployed column order of the export.
var Header = []string{
	"Référence commande", "Référence du paiement", "Montant total", "Date du paiement",
	"Statut du paiement", "Versé", "Date du versement", "Nom payeur", "Prénom payeur",
	"Email payeur", "Date de naissance", "Raison sociale", "Adresse payeur",
	"Code postal payeur", "Ville payeur", "Montant du tarif", "Attestation",
	"Remboursement", "Status paiement (items)", "Description (items)",
}

// RefundFormatError is the cell text used for a refund whose amount or date
// cannot be read.
const RefundFormatError = "Erreur formatage remboursement"

// ErrRefundAmount is returned by RefundLine for a refund with a non-numeric
// amount. The decoder has already reported it.
var ErrRefundAmount = errors.New("refund amount is not a number")

type Row [ColumnCount]string

func (r Row) Cells() []string {
	return r[:]
}

// Records decodes and flattens a batch. Records that are not objects are
// dropped; every skipped or defaulted unit is reported as a warning.
func Records(raw []json.RawMessage) ([]Row, []domain.Warning) {
	rows := make([]Row, 0, len(raw))
	var warnings []domain.Warning
	for i, rec := range raw {
		p, ws, err := domain.FromJSON(rec)
		warnings = append(warnings, ws...)
		if err != nil {
			reason := "not an object, skipped"
			if !errors.Is(err, domain.ErrNotObject) {
				reason = err.Error()
			}
			warnings = append(warnings, domain.Warning{Field: recordField(i), Reason: reason})
			continue
		}
		row, ws := Flatten(p)
		warnings = append(warnings, ws...)
		rows = append(rows, row)
	}
	return rows, warnings
}

// Flatten turns one payment into one export row. It never fails; refunds with
// an unreadable amount or date get the RefundFormatError marker.
func Flatten(p domain.Payment) (Row, []domain.Warning) {
	var warnings []domain.Warning

	amounts := make([]string, 0, len(p.Items))
	states := make([]string, 0, len(p.Items))
	names := make([]string, 0, len(p.Items))
	for _, it := range p.Items {
		amounts = append(amounts, Amount(it.Amount))
		states = append(states, it.State)
		names = append(names, it.Name)
	}

	refunds := make([]string, 0, len(p.Refunds))
	for _, rf := range p.Refunds {
		line, err := RefundLine(rf)
		if err != nil {
			if !errors.Is(err, ErrRefundAmount) {
				warnings = append(warnings, domain.Warning{PaymentID: p.ID, Field: "refundOperations.meta.createdAt", Reason: err.Error()})
			}
			line = RefundFormatError
		}
		refunds = append(refunds, line)
	}

	return Row{
		p.Order.ID,
		string(p.ID),
		Amount(p.Amount),
		p.Order.Date,
		translate.PaymentState(p.State),
		translate.CashOutState(p.CashOutState),
		p.CashOutDate,
		p.Payer.LastName,
		p.Payer.FirstName,
		p.Payer.Email,
		p.Payer.DateOfBirth,
		p.Payer.Company,
		p.Payer.Address,
		p.Payer.ZipCode,
		p.Payer.City,
		strings.Join(amounts, "/"),
		p.PaymentReceiptURL,
		strings.Join(refunds, "\n"),
		strings.Join(states, "/"),
		strings.Join(names, "/"),
	}, warnings
}

// Amount renders minor units as major units with at least one decimal:
// 12345 -> "123.45", 100 -> "1.0", 0 -> "0.0".
func Amount(minor decimal.Decimal) string {
	s := minor.Shift(-2).String()
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

var refundDateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// RefundLine formats one refund operation. The date keeps the offset it was
// written with.
func RefundLine(rf domain.Refund) (string, error) {
	if rf.AmountInvalid {
		return "", ErrRefundAmount
	}
	amount := rf.Amount.Shift(-2).StringFixed(2)
	if rf.CreatedAt == "" {
		return "Remboursement de " + amount + " (date inconnue)", nil
	}
	at, err := parseTimestamp(rf.CreatedAt)
	if err != nil {
		return "", err
	}
	return "Remboursement de " + amount + " le " + at.Format("02/01/2006"), nil
}

func parseTimestamp(s string) (time.Time, error) {
	var firstErr error
	for _, layout := range refundDateLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return time.Time{}, firstErr
}

func recordField(i int) string {
	return "data[" + strconv.Itoa(i) + "]"
}
