package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transaction is a transaction submitted for charge calculation.
// The engine never persists it.
type Transaction struct {
	TransactionID      string          `json:"transactionId"`
	CustomerCode       string          `json:"customerCode"`
	TransactionType    string          `json:"transactionType"`
	Amount             decimal.Decimal `json:"amount"`
	Channel            string          `json:"channel"`
	SourceAccount      string          `json:"sourceAccount,omitempty"`
	DestinationAccount string          `json:"destinationAccount,omitempty"`
	TransactionDate    time.Time       `json:"transactionDate"`
}

// CustomerType classifies customers for rule scoping.
type CustomerType string

const (
	CustomerRetail    CustomerType = "RETAIL"
	CustomerCorporate CustomerType = "CORPORATE"
	CustomerPremium   CustomerType = "PREMIUM"
	CustomerStaff     CustomerType = "STAFF"
)

// Customer is read-only reference data.
type Customer struct {
	Code string       `json:"code"`
	Name string       `json:"name"`
	Type CustomerType `json:"type"`
}

// CalculatedCharge is one itemized charge.
type CalculatedCharge struct {
	RuleCode         string          `json:"ruleCode"`
	RuleName         string          `json:"ruleName"`
	ChargeAmount     decimal.Decimal `json:"chargeAmount"`
	CalculationBasis string          `json:"calculationBasis"`
}

// CalculationResult is the outcome of evaluating one transaction.
type CalculationResult struct {
	TransactionID     string             `json:"transactionId"`
	CustomerCode      string             `json:"customerCode"`
	TransactionType   string             `json:"transactionType"`
	TransactionAmount decimal.Decimal    `json:"transactionAmount"`
	Channel           string             `json:"channel"`
	CalculatedCharges []CalculatedCharge `json:"calculatedCharges"`
	TotalCharges      decimal.Decimal    `json:"totalCharges"`
	CalculatedAt      time.Time          `json:"calculatedAt"`
}

// HasCharges reports whether any rule matched.
func (r *CalculationResult) HasCharges() bool {
	return len(r.CalculatedCharges) > 0
}
