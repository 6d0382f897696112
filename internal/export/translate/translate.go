package translate

// https://dev.helloasso.com/docs/status-des-versements

var paymentStates = map[string]string{
	"Pending":    "Paiement est planifiée à une date ultérieur, pas encore traité",
	"Authorized": "Paiement autorisé, validé et traité",
	"Refused":    "Paiement refusé",
	"Registered": "Paiement fait hors ligne",
	"Refunded":   "Paiement remboursé",
	"Refunding":  "Paiement en cours de remboursement",
	"Contested":  "Paiement contesté",
}

var cashOutStates = map[string]string{
	"CashedOut":                     "Versé sur le compte bancaire",
	"WaitingForCashOutConfirmation": "En attente de confirmation de versement",
	"Refunding":                     "Paiement en cours de remboursement",
	"Refunded":                      "Paiement remboursé",
	"TransferInProgress":            "Le paiement est en cours de transfert vers le compte",
	"Transfered":                    "Somme transférée sur le compte HelloAsso de l'association",
}

// PaymentState returns the display label of a payment state.
// Unknown codes are returned unchanged.
func PaymentState(code string) string {
	return lookup(paymentStates, code)
}

// CashOutState returns the display label of a cash-out state.
// Unknown codes are returned unchanged.
func CashOutState(code string) string {
	return lookup(cashOutStates, code)
}

func lookup(table map[string]string, code string) string {
	if label, ok := table[code]; ok {
		return label
	}
	return code
}
