package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// SettlementStatus is the state of a settlement request.
type SettlementStatus string

const (
	SettlementPending   SettlementStatus = "PENDING"
	SettlementApproved  SettlementStatus = "APPROVED"
	SettlementProcessed SettlementStatus = "PROCESSED"
	SettlementRejected  SettlementStatus = "REJECTED"
)

func (s SettlementStatus) String() string { return string(s) }

// SettlementType only affects presentation: DEBIT charges the customer,
// CREDIT refunds. Stored amounts are always positive.
type SettlementType string

const (
	SettlementDebit  SettlementType = "DEBIT"
	SettlementCredit SettlementType = "CREDIT"
)

// Settlement is a settlement request.
type Settlement struct {
	ID             string           `json:"id"`
	CustomerCode   string           `json:"customerCode"`
	AccountNumber  string           `json:"accountNumber"`
	SettlementType SettlementType   `json:"settlementType"`
	Amount         decimal.Decimal  `json:"amount"`
	Description    string           `json:"description,omitempty"`
	RequestedBy    string           `json:"requestedBy,omitempty"`
	Status         SettlementStatus `json:"status"`
	ReviewedBy     string           `json:"reviewedBy,omitempty"`
	Remarks        string           `json:"remarks,omitempty"`
	CreatedAt      time.Time        `json:"createdAt"`
	UpdatedAt      time.Time        `json:"updatedAt"`
	Version        int64            `json:"version"`
}

// SettlementFilter narrows a settlement listing.
type SettlementFilter struct {
	Status       SettlementStatus
	CustomerCode string
	From         time.Time
	To           time.Time
}
