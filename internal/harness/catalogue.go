package harness

import "github.com/shopspring/decimal"

// Scenario is a transaction template run against a chosen customer.
type Scenario struct {
	TransactionType string          `json:"transactionType"`
	Amount          decimal.Decimal `json:"amount"`
	Channel         string          `json:"channel"`
	Description     string          `json:"description,omitempty"`
}

// Suite is a named list of scenarios.
type Suite struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Scenarios   []Scenario `json:"scenarios"`
}

// Scenario tags.
const (
	TagATM      = "atm"
	TagTransfer = "transfer"
	TagSpecial  = "special"
)

func scenario(txType string, amount int64, channel, description string) Scenario {
	return Scenario{
		TransactionType: txType,
		Amount:          decimal.NewFromInt(amount),
		Channel:         channel,
		Description:     description,
	}
}

var templates = map[string][]Scenario{
	TagATM: {
		scenario("ATM_WITHDRAWAL_PARENT", 1000, "ATM", "Withdrawal at own bank ATM"),
		scenario("ATM_WITHDRAWAL_OTHER", 500, "ATM", "Withdrawal at other bank ATM"),
		scenario("ATM_WITHDRAWAL_OTHER", 10000, "ATM", "Large withdrawal at other bank ATM"),
	},
	TagTransfer: {
		scenario("FUNDS_TRANSFER", 5000, "INTERNET", "Small online transfer"),
		scenario("FUNDS_TRANSFER", 50000, "INTERNET", "Large online transfer"),
		scenario("FUNDS_TRANSFER", 25000, "BRANCH", "Branch transfer"),
		scenario("FUNDS_TRANSFER", 2000, "MOBILE", "Mobile transfer"),
	},
	TagSpecial: {
		scenario("STATEMENT_PRINT", 0, "BRANCH", "Statement print"),
		scenario("DUPLICATE_DEBIT_CARD", 0, "BRANCH", "Duplicate debit card"),
		scenario("DUPLICATE_CREDIT_CARD", 0, "BRANCH", "Duplicate credit card"),
	},
}

var edgeCases = []Scenario{
	scenario("ATM_WITHDRAWAL_OTHER", 0, "ATM", "Zero amount withdrawal"),
	scenario("FUNDS_TRANSFER", 10000000, "INTERNET", "Very large transfer"),
	scenario("UNKNOWN_SERVICE", 100, "BRANCH", "Transaction type with no rules"),
}

// Templates returns the scenarios carrying tag.
func Templates(tag string) []Scenario {
	return append([]Scenario(nil), templates[tag]...)
}

func all() []Scenario {
	var out []Scenario
	for _, tag := range []string{TagATM, TagTransfer, TagSpecial} {
		out = append(out, templates[tag]...)
	}
	return out
}

// Suites lists the named suites in display order.
func Suites() []Suite {
	return []Suite{
		{ID: "comprehensive", Name: "Comprehensive Test Suite", Description: "Tests all rule categories with multiple scenarios", Scenarios: all()},
		{ID: "atm_scenarios", Name: "ATM Transaction Tests", Description: "Focus on ATM withdrawal charges", Scenarios: Templates(TagATM)},
		{ID: "funds_transfer", Name: "Funds Transfer Tests", Description: "Various funds transfer scenarios", Scenarios: Templates(TagTransfer)},
		{ID: "special_services", Name: "Special Services Tests", Description: "Card replacement, statement printing and similar services", Scenarios: Templates(TagSpecial)},
		{ID: "edge_cases", Name: "Edge Case Tests", Description: "Boundary conditions and special scenarios", Scenarios: append([]Scenario(nil), edgeCases...)},
	}
}

// FindSuite returns the suite with id.
func FindSuite(id string) (Suite, bool) {
	for _, s := range Suites() {
		if s.ID == id {
			return s, true
		}
	}
	return Suite{}, false
}

// defaultChannel picks the channel of the first template for txType.
func defaultChannel(txType string) string {
	for _, s := range all() {
		if s.TransactionType == txType {
			return s.Channel
		}
	}
	return ""
}
