package domain

import "github.com/shopspring/decimal"

// BatchRequest is the input of a bulk calculation.
type BatchRequest struct {
	BatchID      string        `json:"batchId"`
	Description  string        `json:"description,omitempty"`
	Transactions []Transaction `json:"transactions"`
	StopOnError  bool          `json:"stopOnError"`
}

// BatchResult aggregates a bulk calculation.
// TotalTransactions always equals SuccessfulCalculations + FailedCalculations;
// items never reached are absent and Incomplete is set.
type BatchResult struct {
	BatchID                string                     `json:"batchId"`
	RequestedTransactions  int                        `json:"requestedTransactions"`
	TotalTransactions      int                        `json:"totalTransactions"`
	SuccessfulCalculations int                        `json:"successfulCalculations"`
	FailedCalculations     int                        `json:"failedCalculations"`
	ProcessingTimeMs       int64                      `json:"processingTimeMs"`
	TotalChargesCalculated decimal.Decimal            `json:"totalChargesCalculated"`
	TransactionTypeCount   map[string]int             `json:"transactionTypeCount"`
	ChargesByRule          map[string]decimal.Decimal `json:"chargesByRule"`
	Errors                 map[string]string          `json:"errors"`
	ErrorDetails           map[string]string          `json:"errorDetails,omitempty"`
	Results                []*CalculationResult       `json:"results,omitempty"`
	Incomplete             bool                       `json:"incomplete"`
}

// NewBatchResult returns an empty result with initialized maps.
func NewBatchResult(batchID string, requested int) *BatchResult {
	return &BatchResult{
		BatchID:                batchID,
		RequestedTransactions:  requested,
		TotalChargesCalculated: decimal.Zero,
		TransactionTypeCount:   make(map[string]int),
		ChargesByRule:          make(map[string]decimal.Decimal),
		Errors:                 make(map[string]string),
		ErrorDetails:           make(map[string]string),
	}
}
