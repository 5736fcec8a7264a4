// Package charges evaluates transactions against the active charge rules.
package charges

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/opensource-finance/chargeflow/internal/domain"
	"github.com/opensource-finance/chargeflow/internal/metrics"
	"github.com/opensource-finance/chargeflow/internal/repository"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("chargeflow-charges")

var hundred = decimal.NewFromInt(100)

// Snapshot is an immutable view of the ACTIVE rules, in evaluation order,
// with conditions precompiled. It is never modified after construction.
type Snapshot struct {
	rules    []*compiledRule
	loadedAt time.Time
}

type compiledRule struct {
	rule      *domain.Rule
	condition cel.Program
}

// Rules returns the rules in evaluation order.
func (s *Snapshot) Rules() []*domain.Rule {
	out := make([]*domain.Rule, len(s.rules))
	for i, cr := range s.rules {
		out[i] = cr.rule
	}
	return out
}

// Len returns the number of rules in the snapshot.
func (s *Snapshot) Len() int { return len(s.rules) }

// LoadedAt returns when the snapshot was built.
func (s *Snapshot) LoadedAt() time.Time { return s.loadedAt }

// Engine computes charges for transactions. Calculations read the current
// snapshot once and never take a lock; Refresh swaps in a new one.
type Engine struct {
	conditions  *Conditions
	rules       domain.RuleStore
	customers   domain.CustomerStore
	cache       domain.Cache
	customerTTL time.Duration
	snapshot    atomic.Pointer[Snapshot]
	now         func() time.Time
}

// NewEngine creates an engine with an empty snapshot. cache may be nil.
func NewEngine(rules domain.RuleStore, customers domain.CustomerStore, cache domain.Cache, customerTTL time.Duration) (*Engine, error) {
	conditions, err := NewConditions()
	if err != nil {
		return nil, err
	}
	if customerTTL <= 0 {
		customerTTL = 10 * time.Minute
	}

	e := &Engine{
		conditions:  conditions,
		rules:       rules,
		customers:   customers,
		cache:       cache,
		customerTTL: customerTTL,
		now:         func() time.Time { return time.Now().UTC() },
	}
	e.snapshot.Store(&Snapshot{loadedAt: e.now()})
	return e, nil
}

// Conditions returns the engine's condition compiler.
func (e *Engine) Conditions() *Conditions {
	return e.conditions
}

// Snapshot returns the snapshot calculations currently read.
func (e *Engine) Snapshot() *Snapshot {
	return e.snapshot.Load()
}

// Refresh reloads ACTIVE rules from the store and swaps the snapshot.
func (e *Engine) Refresh(ctx context.Context) error {
	rules, err := e.rules.ListActiveRules(ctx)
	if err != nil {
		return fmt.Errorf("failed to load active rules: %w", err)
	}
	e.Load(rules)
	return nil
}

// Load builds a snapshot from rules and installs it. Non-ACTIVE rules are
// ignored. A rule whose condition does not compile is left out and logged.
func (e *Engine) Load(rules []*domain.Rule) {
	compiled := make([]*compiledRule, 0, len(rules))
	for _, r := range rules {
		if r.Status != domain.RuleStatusActive {
			continue
		}
		program, err := e.conditions.Compile(r.Condition)
		if err != nil {
			slog.Warn("excluding rule with invalid condition",
				"rule_id", r.ID,
				"rule_code", r.RuleCode,
				"error", err,
			)
			continue
		}
		compiled = append(compiled, &compiledRule{rule: r, condition: program})
	}

	sort.SliceStable(compiled, func(i, j int) bool {
		a, b := compiled[i].rule, compiled[j].rule
		if a.Seq != b.Seq {
			return a.Seq < b.Seq
		}
		return a.ID < b.ID
	})

	e.snapshot.Store(&Snapshot{rules: compiled, loadedAt: e.now()})
	metrics.ActiveRules.Set(float64(len(compiled)))
}

// ResolveCustomer looks a customer up through the cache, falling back to
// the store. An unknown code yields an UnknownCustomer error.
func (e *Engine) ResolveCustomer(ctx context.Context, code string) (*domain.Customer, error) {
	if code == "" {
		return nil, domain.Errorf(domain.KindUnknownCustomer, "customer code is required")
	}

	if e.cache != nil {
		c, err := e.cache.GetCustomer(ctx, code)
		if err != nil {
			slog.Debug("customer cache read failed", "customer_code", code, "error", err)
		}
		if c != nil {
			return c, nil
		}
	}

	c, err := e.customers.GetCustomer(ctx, code)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, domain.Errorf(domain.KindUnknownCustomer, "customer %s not found", code)
	}
	if err != nil {
		return nil, domain.Wrap(domain.KindInternal, err, "failed to load customer")
	}

	if e.cache != nil {
		if err := e.cache.SetCustomer(ctx, c, e.customerTTL); err != nil {
			slog.Debug("customer cache write failed", "customer_code", code, "error", err)
		}
	}
	return c, nil
}

// Calculate computes the charges for one transaction against the current
// snapshot.
func (e *Engine) Calculate(ctx context.Context, tx domain.Transaction) (*domain.CalculationResult, error) {
	ctx, span := tracer.Start(ctx, "charges.Calculate")
	defer span.End()
	span.SetAttributes(
		attribute.String("transaction.id", tx.TransactionID),
		attribute.String("transaction.type", tx.TransactionType),
	)

	start := time.Now()
	result, err := e.calculate(ctx, tx)
	metrics.CalculationLatency.Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.Calculations.WithLabelValues(string(domain.KindOf(err))).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, domain.MessageOf(err))
		return nil, err
	}

	metrics.Calculations.WithLabelValues("ok").Inc()
	span.SetAttributes(
		attribute.Int("charges.count", len(result.CalculatedCharges)),
		attribute.String("charges.total", result.TotalCharges.StringFixed(2)),
	)
	return result, nil
}

func (e *Engine) calculate(ctx context.Context, tx domain.Transaction) (*domain.CalculationResult, error) {
	if tx.Amount.IsNegative() {
		return nil, domain.Errorf(domain.KindInvalidAmount, "amount must not be negative, got %s", tx.Amount)
	}

	customer, err := e.ResolveCustomer(ctx, tx.CustomerCode)
	if err != nil {
		return nil, err
	}

	return Evaluate(e.snapshot.Load(), &tx, customer, e.now()), nil
}

// Evaluate applies a snapshot to a transaction. It is a pure function of its
// inputs; at only stamps the result.
func Evaluate(snap *Snapshot, tx *domain.Transaction, customer *domain.Customer, at time.Time) *domain.CalculationResult {
	result := &domain.CalculationResult{
		TransactionID:     tx.TransactionID,
		CustomerCode:      tx.CustomerCode,
		TransactionType:   tx.TransactionType,
		TransactionAmount: tx.Amount,
		Channel:           tx.Channel,
		CalculatedCharges: make([]domain.CalculatedCharge, 0),
		TotalCharges:      decimal.Zero,
		CalculatedAt:      at,
	}

	var vars map[string]any
	total := decimal.Zero

	for _, cr := range snap.rules {
		r := cr.rule
		if r.ActivityType != tx.TransactionType {
			continue
		}
		if r.Channel != "" && r.Channel != tx.Channel {
			continue
		}
		if r.CustomerType != "" && r.CustomerType != string(customer.Type) {
			continue
		}
		if cr.condition != nil {
			if vars == nil {
				vars = activation(tx, customer)
			}
			ok, err := evalCondition(cr.condition, vars)
			if err != nil {
				slog.Warn("rule condition failed, rule skipped",
					"rule_code", r.RuleCode,
					"transaction_id", tx.TransactionID,
					"error", err,
				)
				continue
			}
			if !ok {
				continue
			}
		}

		charge := ComputeCharge(r, tx.Amount)
		total = total.Add(charge.ChargeAmount)
		result.CalculatedCharges = append(result.CalculatedCharges, charge)
	}

	result.TotalCharges = total.Round(2)
	return result
}

// ComputeCharge applies one rule's fee to an amount. Percentage fees are
// capped by MaxFee when present; the result is rounded half-up to 2dp.
func ComputeCharge(r *domain.Rule, amount decimal.Decimal) domain.CalculatedCharge {
	var charge decimal.Decimal
	var basis string

	switch r.FeeType {
	case domain.FeeTypePercentage:
		computed := amount.Mul(r.FeeValue).Div(hundred)
		basis = fmt.Sprintf("%s%% of %s = %s", r.FeeValue.String(), amount.StringFixed(2), computed.Round(2).StringFixed(2))
		charge = computed
		if r.MaxFee != nil && computed.GreaterThan(*r.MaxFee) {
			charge = *r.MaxFee
			basis += fmt.Sprintf(", capped at %s", r.MaxFee.StringFixed(2))
		}
	default:
		charge = r.FeeValue
		basis = fmt.Sprintf("Flat fee of %s", r.FeeValue.StringFixed(2))
	}

	return domain.CalculatedCharge{
		RuleCode:         r.RuleCode,
		RuleName:         r.RuleName,
		ChargeAmount:     charge.Round(2),
		CalculationBasis: basis,
	}
}
