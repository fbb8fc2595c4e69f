package domain

import "github.com/shopspring/decimal"

// CollectionResult is the outcome of a fiat collection (push payment).
type CollectionResult struct {
	ProviderRef string
	ResultCode  int
	ResultDesc  string
	ReceiptRef  string
	Amount      decimal.Decimal
	Phone       string
	// Pending is set by status queries when the provider has no final answer yet.
	Pending bool
}

// Succeeded reports a final successful collection.
func (r *CollectionResult) Succeeded() bool {
	return !r.Pending && r.ResultCode == 0
}

// PayoutResult is the outcome of a fiat payout.
type PayoutResult struct {
	ProviderRef    string
	ResultCode     int
	ResultDesc     string
	TransactionRef string
	Parameters     map[string]string
}

// Succeeded reports a successful payout.
func (r *PayoutResult) Succeeded() bool {
	return r.ResultCode == 0
}
