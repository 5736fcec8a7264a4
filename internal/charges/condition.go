package charges

import (
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/opensource-finance/chargeflow/internal/domain"
)

// Conditions compiles rule condition predicates against the transaction
// attributes a rule may inspect.
type Conditions struct {
	env *cel.Env
}

// NewConditions builds the CEL environment for rule conditions.
func NewConditions() (*Conditions, error) {
	env, err := cel.NewEnv(
		cel.Variable("tx", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("channel", cel.StringType),
		cel.Variable("transaction_type", cel.StringType),
		cel.Variable("customer_code", cel.StringType),
		cel.Variable("customer_type", cel.StringType),
		cel.Variable("source_account", cel.StringType),
		cel.Variable("destination_account", cel.StringType),
		cel.CrossTypeNumericComparisons(true),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return &Conditions{env: env}, nil
}

// Compile returns the program for expr, or nil for a blank condition.
func (c *Conditions) Compile(expr string) (cel.Program, error) {
	if strings.TrimSpace(expr) == "" {
		return nil, nil
	}

	ast, issues := c.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("invalid condition: %w", issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("condition must return bool, got %s", ast.OutputType())
	}

	program, err := c.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program: %w", err)
	}
	return program, nil
}

// activation exposes a transaction to conditions. amount is a double here;
// it is only compared, never used for money arithmetic.
func activation(tx *domain.Transaction, customer *domain.Customer) map[string]any {
	amount := tx.Amount.InexactFloat64()
	return map[string]any{
		"tx": map[string]any{
			"id":                  tx.TransactionID,
			"type":                tx.TransactionType,
			"amount":              amount,
			"channel":             tx.Channel,
			"customer_code":       tx.CustomerCode,
			"source_account":      tx.SourceAccount,
			"destination_account": tx.DestinationAccount,
		},
		"amount":              amount,
		"channel":             tx.Channel,
		"transaction_type":    tx.TransactionType,
		"customer_code":       customer.Code,
		"customer_type":       string(customer.Type),
		"source_account":      tx.SourceAccount,
		"destination_account": tx.DestinationAccount,
	}
}

func evalCondition(program cel.Program, vars map[string]any) (bool, error) {
	out, _, err := program.Eval(vars)
	if err != nil {
		return false, err
	}
	b, ok := out.(types.Bool)
	if !ok {
		return false, fmt.Errorf("condition returned %s, not bool", out.Type())
	}
	return bool(b), nil
}
