package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// RuleStatus is the lifecycle state of a charge rule.
type RuleStatus string

const (
	RuleStatusDraft    RuleStatus = "DRAFT"
	RuleStatusActive   RuleStatus = "ACTIVE"
	RuleStatusInactive RuleStatus = "INACTIVE"
	RuleStatusArchived RuleStatus = "ARCHIVED"
)

func (s RuleStatus) String() string { return string(s) }

// Valid reports whether s is a known status.
func (s RuleStatus) Valid() bool {
	switch s {
	case RuleStatusDraft, RuleStatusActive, RuleStatusInactive, RuleStatusArchived:
		return true
	}
	return false
}

// RuleStatuses lists every status in display order.
func RuleStatuses() []RuleStatus {
	return []RuleStatus{RuleStatusDraft, RuleStatusActive, RuleStatusInactive, RuleStatusArchived}
}

// RuleAction names a lifecycle operation.
type RuleAction string

const (
	ActionApprove    RuleAction = "approve"
	ActionDeactivate RuleAction = "deactivate"
	ActionReactivate RuleAction = "reactivate"
	ActionDelete     RuleAction = "delete"
)

// FeeType selects how a rule computes its charge.
type FeeType string

const (
	FeeTypeFlat       FeeType = "FLAT"
	FeeTypePercentage FeeType = "PERCENTAGE"
)

// Valid reports whether t is a known fee type.
func (t FeeType) Valid() bool {
	return t == FeeTypeFlat || t == FeeTypePercentage
}

// Rule categories.
const (
	CategoryATM       = "ATM"
	CategoryTransfer  = "TRANSFER"
	CategoryCard      = "CARD"
	CategoryStatement = "STATEMENT"
	CategoryAccount   = "ACCOUNT"
	CategorySMS       = "SMS"
	CategoryOther     = "OTHER"
)

// RuleCategories lists every supported category.
func RuleCategories() []string {
	return []string{
		CategoryATM, CategoryTransfer, CategoryCard, CategoryStatement,
		CategoryAccount, CategorySMS, CategoryOther,
	}
}

// Channels lists the transaction channels known to the dashboard.
func Channels() []string {
	return []string{"ATM", "BRANCH", "INTERNET", "MOBILE", "POS"}
}

// Rule is a charge rule.
type Rule struct {
	ID           string `json:"id"`
	RuleCode     string `json:"ruleCode"`
	RuleName     string `json:"ruleName"`
	Description  string `json:"description,omitempty"`
	Category     string `json:"category"`
	ActivityType string `json:"activityType"`

	// Empty Channel and CustomerType match anything.
	Channel      string `json:"channel,omitempty"`
	CustomerType string `json:"customerType,omitempty"`

	// Condition is an optional CEL predicate over transaction attributes.
	Condition string `json:"condition,omitempty"`

	FeeType  FeeType          `json:"feeType"`
	FeeValue decimal.Decimal  `json:"feeValue"`
	MaxFee   *decimal.Decimal `json:"maxFee,omitempty"`

	Status    RuleStatus `json:"status"`
	CreatedBy string     `json:"createdBy,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	Version   int64      `json:"version"`

	// Seq is the creation sequence; it fixes evaluation order.
	Seq int64 `json:"-"`
}

// RuleFilter narrows a rule listing. Empty fields impose no constraint.
type RuleFilter struct {
	Status   RuleStatus
	Category string
	Search   string
}

// RuleStatistics counts rules per status.
type RuleStatistics struct {
	TotalRules    int `json:"totalRules"`
	ActiveRules   int `json:"activeRules"`
	DraftRules    int `json:"draftRules"`
	InactiveRules int `json:"inactiveRules"`
	ArchivedRules int `json:"archivedRules"`
}

// RuleMetadata carries the enumerations used by the dashboard filters.
type RuleMetadata struct {
	Statuses   []RuleStatus `json:"statuses"`
	Categories []string     `json:"categories"`
	FeeTypes   []FeeType    `json:"feeTypes"`
	Channels   []string     `json:"channels"`
}
