package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/opensource-finance/chargeflow/internal/domain"
	"github.com/shopspring/decimal"
)

const ruleColumns = `
	id, rule_code, rule_name, description, category, activity_type,
	channel, customer_type, condition_expr, fee_type, fee_value, max_fee,
	status, created_by, created_at, updated_at, version, seq
`

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (*domain.Rule, error) {
	var rule domain.Rule
	var maxFee decimal.NullDecimal

	err := row.Scan(
		&rule.ID, &rule.RuleCode, &rule.RuleName, &rule.Description,
		&rule.Category, &rule.ActivityType,
		&rule.Channel, &rule.CustomerType, &rule.Condition,
		&rule.FeeType, &rule.FeeValue, &maxFee,
		&rule.Status, &rule.CreatedBy, &rule.CreatedAt, &rule.UpdatedAt,
		&rule.Version, &rule.Seq,
	)
	if err != nil {
		return nil, err
	}
	rule.MaxFee = decimalPtr(maxFee)
	return &rule, nil
}

const (
	seqIndex       = "idx_charge_rules_seq_unique"
	maxSeqAttempts = 5
)

// CreateRule inserts a rule and assigns it the next evaluation sequence.
func (r *SQLRepository) CreateRule(ctx context.Context, rule *domain.Rule) error {
	if rule.ID == "" || rule.RuleCode == "" {
		return fmt.Errorf("%w: rule id and code are required", ErrInvalidInput)
	}

	now := time.Now().UTC()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = rule.CreatedAt
	if rule.Version == 0 {
		rule.Version = 1
	}

	query := `
		INSERT INTO charge_rules (
			id, rule_code, rule_name, description, category, activity_type,
			channel, customer_type, condition_expr, fee_type, fee_value, max_fee,
			status, created_by, created_at, updated_at, version, seq
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?,
			(SELECT COALESCE(MAX(seq), 0) + 1 FROM charge_rules))
		RETURNING seq
	`

	// Concurrent inserts on PostgreSQL can read the same MAX(seq); the
	// unique index rejects the loser, which takes the next value.
	var err error
	for attempt := 1; attempt <= maxSeqAttempts; attempt++ {
		var seq int64
		err = r.db.QueryRowContext(ctx, r.rebind(query),
			rule.ID, rule.RuleCode, rule.RuleName, rule.Description,
			rule.Category, rule.ActivityType,
			rule.Channel, rule.CustomerType, rule.Condition,
			string(rule.FeeType), rule.FeeValue, nullDecimal(rule.MaxFee),
			string(rule.Status), rule.CreatedBy, rule.CreatedAt, rule.UpdatedAt,
			rule.Version,
		).Scan(&seq)
		switch {
		case err == nil:
			rule.Seq = seq
			return nil
		case isSeqConflict(err):
			continue
		case isUniqueViolation(err):
			return fmt.Errorf("%w: rule code %s", ErrConflict, rule.RuleCode)
		default:
			return err
		}
	}
	return fmt.Errorf("assign seq for rule %s after %d attempts: %w", rule.RuleCode, maxSeqAttempts, err)
}

// GetRule retrieves a rule by ID.
func (r *SQLRepository) GetRule(ctx context.Context, id string) (*domain.Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM charge_rules WHERE id = ?`

	rule, err := scanRule(r.db.QueryRowContext(ctx, r.rebind(query), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rule, err
}

// GetRuleByCode retrieves a rule by its unique code.
func (r *SQLRepository) GetRuleByCode(ctx context.Context, code string) (*domain.Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM charge_rules WHERE rule_code = ?`

	rule, err := scanRule(r.db.QueryRowContext(ctx, r.rebind(query), code))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rule, err
}

// ListRules returns rules matching every non-empty filter field, in
// creation order.
func (r *SQLRepository) ListRules(ctx context.Context, filter domain.RuleFilter) ([]*domain.Rule, error) {
	var where []string
	var args []any

	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Category != "" {
		where = append(where, "category = ?")
		args = append(args, filter.Category)
	}

	query := `SELECT ` + ruleColumns + ` FROM charge_rules`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY seq, id`

	rules, err := r.queryRules(ctx, query, args...)
	if err != nil || filter.Search == "" {
		return rules, err
	}

	// Search is matched in Go: SQLite's LOWER folds ASCII only.
	needle := strings.ToLower(filter.Search)
	return slices.DeleteFunc(rules, func(rule *domain.Rule) bool {
		return !strings.Contains(strings.ToLower(rule.RuleName), needle) &&
			!strings.Contains(strings.ToLower(rule.RuleCode), needle)
	}), nil
}

// ListActiveRules returns ACTIVE rules in evaluation order.
func (r *SQLRepository) ListActiveRules(ctx context.Context) ([]*domain.Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM charge_rules WHERE status = ? ORDER BY seq, id`
	return r.queryRules(ctx, query, string(domain.RuleStatusActive))
}

func (r *SQLRepository) queryRules(ctx context.Context, query string, args ...any) ([]*domain.Rule, error) {
	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rules := make([]*domain.Rule, 0)
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}

	return rules, rows.Err()
}

// UpdateRule rewrites the editable fields of a rule. The write only lands if
// the stored version and status still match; otherwise ErrStaleStatus.
func (r *SQLRepository) UpdateRule(ctx context.Context, rule *domain.Rule, expectedVersion int64, requiredStatus domain.RuleStatus) error {
	now := time.Now().UTC()

	query := `
		UPDATE charge_rules SET
			rule_code = ?, rule_name = ?, description = ?, category = ?,
			activity_type = ?, channel = ?, customer_type = ?, condition_expr = ?,
			fee_type = ?, fee_value = ?, max_fee = ?,
			updated_at = ?, version = version + 1
		WHERE id = ? AND version = ? AND status = ?
	`

	res, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.RuleCode, rule.RuleName, rule.Description, rule.Category,
		rule.ActivityType, rule.Channel, rule.CustomerType, rule.Condition,
		string(rule.FeeType), rule.FeeValue, nullDecimal(rule.MaxFee),
		now,
		rule.ID, expectedVersion, string(requiredStatus),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: rule code %s", ErrConflict, rule.RuleCode)
	}
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := r.GetRule(ctx, rule.ID); err != nil {
			return err
		}
		return ErrStaleStatus
	}

	rule.UpdatedAt = now
	rule.Version = expectedVersion + 1
	return nil
}

// UpdateRuleStatus moves a rule from one status to another in a single
// conditional write. When the stored status is not from, it returns the
// current rule together with ErrStaleStatus.
func (r *SQLRepository) UpdateRuleStatus(ctx context.Context, id string, from, to domain.RuleStatus) (*domain.Rule, error) {
	query := `
		UPDATE charge_rules SET status = ?, updated_at = ?, version = version + 1
		WHERE id = ? AND status = ?
	`

	res, err := r.db.ExecContext(ctx, r.rebind(query),
		string(to), time.Now().UTC(), id, string(from),
	)
	if err != nil {
		return nil, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}

	rule, err := r.GetRule(ctx, id)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return rule, ErrStaleStatus
	}
	return rule, nil
}

// DeleteRule hard-deletes a rule while it has requiredStatus.
func (r *SQLRepository) DeleteRule(ctx context.Context, id string, requiredStatus domain.RuleStatus) error {
	res, err := r.db.ExecContext(ctx,
		r.rebind(`DELETE FROM charge_rules WHERE id = ? AND status = ?`),
		id, string(requiredStatus),
	)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := r.GetRule(ctx, id); err != nil {
			return err
		}
		return ErrStaleStatus
	}
	return nil
}

// CountRulesByStatus returns the number of rules in each status.
func (r *SQLRepository) CountRulesByStatus(ctx context.Context) (map[domain.RuleStatus]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM charge_rules GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[domain.RuleStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[domain.RuleStatus(status)] = n
	}

	return counts, rows.Err()
}
