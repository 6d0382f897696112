package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromJSONFullRecord(t *testing.T) {
	raw := []byte(`{
		"id": 987654,
		"amount": 12345,
		"state": "Authorized",
		"cashOutState": "CashedOut",
		"cashOutDate": "2024-01-20T10:00:00+01:00",
		"paymentReceiptUrl": "https://example.org/receipt/987654",
		"order": {"id": 42, "date": "2024-01-15T09:30:00+01:00"},
		"payer": {"lastName": "Dupont", "firstName": "Jeanne", "email": "jeanne@example.org",
			"dateOfBirth": "1980-05-01", "company": "ACME", "address": "1 rue de la Paix",
			"zipCode": "75002", "city": "Paris"},
		"items": [{"amount": 100, "state": "Processed", "name": "Adhésion"}],
		"refundOperations": [{"amount": 500, "meta": {"createdAt": "2024-01-18T12:00:00+01:00"}}]
	}`)

	p, warnings, err := FromJSON(raw)
	require.NoError(t, err)
	assert.Empty(t, warnings)

	assert.Equal(t, PaymentID("987654"), p.ID)
	assert.Equal(t, "12345", p.Amount.String())
	assert.Equal(t, "42", p.Order.ID)
	assert.Equal(t, "Paris", p.Payer.City)
	require.Len(t, p.Items, 1)
	assert.Equal(t, "Adhésion", p.Items[0].Name)
	require.Len(t, p.Refunds, 1)
	assert.Equal(t, "2024-01-18T12:00:00+01:00", p.Refunds[0].CreatedAt)
}

func TestFromJSONEmptyObject(t *testing.T) {
	p, warnings, err := FromJSON([]byte(`{}`))
	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.True(t, p.Amount.IsZero())
	assert.Empty(t, p.Items)
	assert.Empty(t, p.Refunds)
	assert.Equal(t, Order{}, p.Order)
	assert.Equal(t, Payer{}, p.Payer)
}

func TestFromJSONNullSubStructures(t *testing.T) {
	p, warnings, err := FromJSON([]byte(`{"id":"x","order":null,"payer":null,"items":null,"refundOperations":null}`))
	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.Equal(t, PaymentID("x"), p.ID)
}

func TestFromJSONNotObject(t *testing.T) {
	for _, raw := range []string{`"text"`, `[1,2]`, `12`, `null`} {
		_, _, err := FromJSON([]byte(raw))
		assert.ErrorIs(t, err, ErrNotObject, raw)
	}

	_, _, err := FromJSON([]byte(`{broken`))
	assert.Error(t, err)
}

func TestFromJSONMalformedUnitsAreSkipped(t *testing.T) {
	raw := []byte(`{
		"id": 7,
		"amount": "12",
		"order": "oops",
		"items": [{"amount": 100, "state": "A", "name": "X"}, "junk", {"amount": 200, "state": "B", "name": "Y"}],
		"refundOperations": {"amount": 1}
	}`)

	p, warnings, err := FromJSON(raw)
	require.NoError(t, err)

	require.Len(t, p.Items, 2)
	assert.Equal(t, "Y", p.Items[1].Name)
	assert.Empty(t, p.Refunds)
	assert.True(t, p.Amount.IsZero())

	fields := make([]string, 0, len(warnings))
	for _, w := range warnings {
		assert.Equal(t, PaymentID("7"), w.PaymentID)
		fields = append(fields, w.Field)
	}
	assert.ElementsMatch(t, []string{"amount", "order", "items[1]", "refundOperations"}, fields)
}

func TestFromJSONFlagsInvalidRefundAmount(t *testing.T) {
	p, warnings, err := FromJSON([]byte(`{"refundOperations":[{"amount":"abc"},{"amount":250},{}]}`))
	require.NoError(t, err)
	require.Len(t, p.Refunds, 3)
	assert.True(t, p.Refunds[0].AmountInvalid)
	assert.False(t, p.Refunds[1].AmountInvalid)
	assert.False(t, p.Refunds[2].AmountInvalid, "absent amount defaults to zero")
	require.Len(t, warnings, 1)
	assert.Equal(t, "refundOperations[0].amount", warnings[0].Field)
}

func TestWarningString(t *testing.T) {
	w := Warning{Field: "items[0]", Reason: "not an object, skipped"}
	assert.Equal(t, "payment N/A: items[0]: not an object, skipped", w.String())
}
