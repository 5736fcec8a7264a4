package lifecycle

import (
	"slices"
	"strings"

	"github.com/opensource-finance/chargeflow/internal/domain"
	"github.com/shopspring/decimal"
)

const maxCodeLength = 50

var hundred = decimal.NewFromInt(100)

// ValidationResult reports every problem found in a rule definition.
type ValidationResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors"`
}

// Validate checks a rule definition without persisting it. The condition,
// when present, must compile to a boolean predicate.
func (s *Service) Validate(rule *domain.Rule) ValidationResult {
	problems := []string{}

	if rule == nil {
		return ValidationResult{Errors: []string{"rule is required"}}
	}

	code := strings.TrimSpace(rule.RuleCode)
	switch {
	case code == "":
		problems = append(problems, "ruleCode is required")
	case len(code) > maxCodeLength:
		problems = append(problems, "ruleCode must be at most 50 characters")
	case strings.ContainsAny(code, " \t\n"):
		problems = append(problems, "ruleCode must not contain whitespace")
	}

	if strings.TrimSpace(rule.RuleName) == "" {
		problems = append(problems, "ruleName is required")
	}
	if !slices.Contains(domain.RuleCategories(), rule.Category) {
		problems = append(problems, "category must be one of "+strings.Join(domain.RuleCategories(), ", "))
	}
	if strings.TrimSpace(rule.ActivityType) == "" {
		problems = append(problems, "activityType is required")
	}

	if !rule.FeeType.Valid() {
		problems = append(problems, "feeType must be FLAT or PERCENTAGE")
	}
	if rule.FeeValue.IsNegative() {
		problems = append(problems, "feeValue must not be negative")
	}
	if rule.FeeType == domain.FeeTypePercentage && rule.FeeValue.GreaterThan(hundred) {
		problems = append(problems, "percentage feeValue must not exceed 100")
	}
	if rule.MaxFee != nil {
		if rule.MaxFee.IsNegative() {
			problems = append(problems, "maxFee must not be negative")
		}
		if rule.FeeType == domain.FeeTypeFlat {
			problems = append(problems, "maxFee only applies to PERCENTAGE rules")
		}
	}

	if rule.CustomerType != "" {
		switch domain.CustomerType(rule.CustomerType) {
		case domain.CustomerRetail, domain.CustomerCorporate, domain.CustomerPremium, domain.CustomerStaff:
		default:
			problems = append(problems, "customerType must be RETAIL, CORPORATE, PREMIUM or STAFF")
		}
	}

	if _, err := s.conditions.Compile(rule.Condition); err != nil {
		problems = append(problems, err.Error())
	}

	return ValidationResult{Valid: len(problems) == 0, Errors: problems}
}

func (s *Service) validate(rule *domain.Rule) error {
	res := s.Validate(rule)
	if res.Valid {
		return nil
	}
	return domain.Errorf(domain.KindValidation, "%s", strings.Join(res.Errors, "; "))
}

func normalize(rule *domain.Rule) {
	rule.RuleCode = strings.TrimSpace(rule.RuleCode)
	rule.RuleName = strings.TrimSpace(rule.RuleName)
	rule.ActivityType = strings.TrimSpace(rule.ActivityType)
	rule.Channel = strings.TrimSpace(rule.Channel)
	rule.CustomerType = strings.TrimSpace(rule.CustomerType)
	rule.Condition = strings.TrimSpace(rule.Condition)
}
