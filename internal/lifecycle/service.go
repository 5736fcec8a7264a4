// Package lifecycle governs charge rule authoring and status transitions.
package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/chargeflow/internal/bus"
	"github.com/opensource-finance/chargeflow/internal/charges"
	"github.com/opensource-finance/chargeflow/internal/domain"
	"github.com/opensource-finance/chargeflow/internal/metrics"
	"github.com/opensource-finance/chargeflow/internal/repository"
)

// Refresher rebuilds the engine snapshot after rules change.
type Refresher interface {
	Refresh(ctx context.Context) error
}

type edge struct {
	from, to domain.RuleStatus
}

// transitions lists every status change the lifecycle performs.
// ARCHIVED has no outgoing edge.
var transitions = map[domain.RuleAction]edge{
	domain.ActionApprove:    {domain.RuleStatusDraft, domain.RuleStatusActive},
	domain.ActionDeactivate: {domain.RuleStatusActive, domain.RuleStatusInactive},
	domain.ActionReactivate: {domain.RuleStatusInactive, domain.RuleStatusActive},
}

// Service implements rule CRUD and the rule state machine.
type Service struct {
	rules      domain.RuleStore
	conditions *charges.Conditions
	engine     Refresher
	events     domain.EventBus
	now        func() time.Time
}

// NewService creates a lifecycle service. events may be nil.
func NewService(rules domain.RuleStore, conditions *charges.Conditions, engine Refresher, events domain.EventBus) *Service {
	return &Service{
		rules:      rules,
		conditions: conditions,
		engine:     engine,
		events:     events,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Create validates and stores a new DRAFT rule.
func (s *Service) Create(ctx context.Context, input *domain.Rule) (*domain.Rule, error) {
	if input == nil {
		return nil, domain.Errorf(domain.KindValidation, "rule is required")
	}
	rule := *input
	normalize(&rule)
	if err := s.validate(&rule); err != nil {
		return nil, err
	}

	rule.ID = uuid.New().String()
	rule.Status = domain.RuleStatusDraft
	rule.Version = 1
	rule.CreatedAt = s.now()

	if err := s.rules.CreateRule(ctx, &rule); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, domain.Errorf(domain.KindConflict, "rule code %s already exists", rule.RuleCode)
		}
		return nil, domain.Wrap(domain.KindInternal, err, "failed to create rule")
	}

	s.afterMutation(ctx, &rule, "create", "", domain.RuleStatusDraft)
	return &rule, nil
}

// Update rewrites the editable fields of a DRAFT rule.
func (s *Service) Update(ctx context.Context, id string, input *domain.Rule) (*domain.Rule, error) {
	if input == nil {
		return nil, domain.Errorf(domain.KindValidation, "rule is required")
	}
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status != domain.RuleStatusDraft {
		return nil, domain.InvalidTransition("rule", current.RuleCode, current.Status, "update")
	}

	updated := *current
	updated.RuleCode = input.RuleCode
	updated.RuleName = input.RuleName
	updated.Description = input.Description
	updated.Category = input.Category
	updated.ActivityType = input.ActivityType
	updated.Channel = input.Channel
	updated.CustomerType = input.CustomerType
	updated.Condition = input.Condition
	updated.FeeType = input.FeeType
	updated.FeeValue = input.FeeValue
	updated.MaxFee = input.MaxFee
	normalize(&updated)

	if err := s.validate(&updated); err != nil {
		return nil, err
	}

	err = s.rules.UpdateRule(ctx, &updated, current.Version, domain.RuleStatusDraft)
	switch {
	case err == nil:
	case errors.Is(err, repository.ErrConflict):
		return nil, domain.Errorf(domain.KindConflict, "rule code %s already exists", updated.RuleCode)
	case errors.Is(err, repository.ErrNotFound):
		return nil, domain.Errorf(domain.KindNotFound, "rule %s not found", id)
	case errors.Is(err, repository.ErrStaleStatus):
		latest, gerr := s.Get(ctx, id)
		if gerr != nil {
			return nil, gerr
		}
		if latest.Status != domain.RuleStatusDraft {
			return nil, domain.InvalidTransition("rule", latest.RuleCode, latest.Status, "update")
		}
		return nil, domain.Errorf(domain.KindConflict, "rule %s was modified concurrently", latest.RuleCode)
	default:
		return nil, domain.Wrap(domain.KindInternal, err, "failed to update rule")
	}

	s.afterMutation(ctx, &updated, "update", domain.RuleStatusDraft, domain.RuleStatusDraft)
	return &updated, nil
}

// Get returns a rule by ID.
func (s *Service) Get(ctx context.Context, id string) (*domain.Rule, error) {
	rule, err := s.rules.GetRule(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, domain.Errorf(domain.KindNotFound, "rule %s not found", id)
	}
	if err != nil {
		return nil, domain.Wrap(domain.KindInternal, err, "failed to load rule")
	}
	return rule, nil
}

// GetByCode returns a rule by its code.
func (s *Service) GetByCode(ctx context.Context, code string) (*domain.Rule, error) {
	rule, err := s.rules.GetRuleByCode(ctx, code)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, domain.Errorf(domain.KindNotFound, "rule %s not found", code)
	}
	if err != nil {
		return nil, domain.Wrap(domain.KindInternal, err, "failed to load rule")
	}
	return rule, nil
}

// List returns rules matching every non-empty filter field.
func (s *Service) List(ctx context.Context, filter domain.RuleFilter) ([]*domain.Rule, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, domain.Errorf(domain.KindValidation, "unknown status %s", filter.Status)
	}
	rules, err := s.rules.ListRules(ctx, filter)
	if err != nil {
		return nil, domain.Wrap(domain.KindInternal, err, "failed to list rules")
	}
	return rules, nil
}

// ListActive returns the ACTIVE rules.
func (s *Service) ListActive(ctx context.Context) ([]*domain.Rule, error) {
	return s.List(ctx, domain.RuleFilter{Status: domain.RuleStatusActive})
}

// ListByCategory returns rules in one category.
func (s *Service) ListByCategory(ctx context.Context, category string) ([]*domain.Rule, error) {
	return s.List(ctx, domain.RuleFilter{Category: category})
}

// ListPendingApproval returns the DRAFT rules.
func (s *Service) ListPendingApproval(ctx context.Context) ([]*domain.Rule, error) {
	return s.List(ctx, domain.RuleFilter{Status: domain.RuleStatusDraft})
}

// Approve moves a DRAFT rule to ACTIVE.
func (s *Service) Approve(ctx context.Context, id string) (*domain.Rule, error) {
	return s.Transition(ctx, id, domain.ActionApprove)
}

// Deactivate moves an ACTIVE rule to INACTIVE.
func (s *Service) Deactivate(ctx context.Context, id string) (*domain.Rule, error) {
	return s.Transition(ctx, id, domain.ActionDeactivate)
}

// Reactivate moves an INACTIVE rule back to ACTIVE.
func (s *Service) Reactivate(ctx context.Context, id string) (*domain.Rule, error) {
	return s.Transition(ctx, id, domain.ActionReactivate)
}

// Transition applies a status-changing action. The rule is unchanged when
// the action is not allowed from its current status, including when a
// concurrent caller changed it first.
func (s *Service) Transition(ctx context.Context, id string, action domain.RuleAction) (rule *domain.Rule, err error) {
	defer func() {
		metrics.RuleTransitions.WithLabelValues(string(action), metrics.Result(err)).Inc()
	}()

	e, ok := transitions[action]
	if !ok {
		return nil, domain.Errorf(domain.KindValidation, "unknown action %s", action)
	}

	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status != e.from {
		return nil, domain.InvalidTransition("rule", current.RuleCode, current.Status, string(action))
	}

	updated, err := s.rules.UpdateRuleStatus(ctx, id, e.from, e.to)
	switch {
	case err == nil:
	case errors.Is(err, repository.ErrStaleStatus):
		return nil, domain.InvalidTransition("rule", updated.RuleCode, updated.Status, string(action))
	case errors.Is(err, repository.ErrNotFound):
		return nil, domain.Errorf(domain.KindNotFound, "rule %s not found", id)
	default:
		return nil, domain.Wrap(domain.KindInternal, err, "failed to update rule status")
	}

	slog.Info("rule transitioned",
		"rule_id", updated.ID,
		"rule_code", updated.RuleCode,
		"action", string(action),
		"from", string(e.from),
		"to", string(e.to),
	)

	s.afterMutation(ctx, updated, string(action), e.from, e.to)
	return updated, nil
}

// Delete hard-deletes a DRAFT rule. Any other status is refused.
func (s *Service) Delete(ctx context.Context, id string) (err error) {
	defer func() {
		metrics.RuleTransitions.WithLabelValues(string(domain.ActionDelete), metrics.Result(err)).Inc()
	}()

	current, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if current.Status != domain.RuleStatusDraft {
		return domain.InvalidTransition("rule", current.RuleCode, current.Status, string(domain.ActionDelete))
	}

	err = s.rules.DeleteRule(ctx, id, domain.RuleStatusDraft)
	switch {
	case err == nil:
	case errors.Is(err, repository.ErrStaleStatus):
		latest, gerr := s.Get(ctx, id)
		if gerr != nil {
			return gerr
		}
		return domain.InvalidTransition("rule", latest.RuleCode, latest.Status, string(domain.ActionDelete))
	case errors.Is(err, repository.ErrNotFound):
		return domain.Errorf(domain.KindNotFound, "rule %s not found", id)
	default:
		return domain.Wrap(domain.KindInternal, err, "failed to delete rule")
	}

	slog.Info("rule deleted", "rule_id", id, "rule_code", current.RuleCode)
	s.afterMutation(ctx, current, string(domain.ActionDelete), domain.RuleStatusDraft, "")
	return nil
}

// Statistics counts rules per status.
func (s *Service) Statistics(ctx context.Context) (*domain.RuleStatistics, error) {
	counts, err := s.rules.CountRulesByStatus(ctx)
	if err != nil {
		return nil, domain.Wrap(domain.KindInternal, err, "failed to count rules")
	}

	stats := &domain.RuleStatistics{
		ActiveRules:   counts[domain.RuleStatusActive],
		DraftRules:    counts[domain.RuleStatusDraft],
		InactiveRules: counts[domain.RuleStatusInactive],
		ArchivedRules: counts[domain.RuleStatusArchived],
	}
	for _, n := range counts {
		stats.TotalRules += n
	}
	return stats, nil
}

// Metadata returns the enumerations the dashboard offers as filters.
func (s *Service) Metadata() domain.RuleMetadata {
	return domain.RuleMetadata{
		Statuses:   domain.RuleStatuses(),
		Categories: domain.RuleCategories(),
		FeeTypes:   []domain.FeeType{domain.FeeTypeFlat, domain.FeeTypePercentage},
		Channels:   domain.Channels(),
	}
}

// syncTimeout bounds the post-commit refresh and publish.
const syncTimeout = 5 * time.Second

// afterMutation keeps the engine and other nodes in step with the store.
// The mutation is already committed, so it runs detached from the caller's
// cancellation and failures are only logged.
func (s *Service) afterMutation(ctx context.Context, rule *domain.Rule, action string, from, to domain.RuleStatus) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), syncTimeout)
	defer cancel()

	if s.engine != nil {
		if err := s.engine.Refresh(ctx); err != nil {
			slog.Error("engine refresh failed", "rule_id", rule.ID, "error", err)
		}
	}

	if s.events == nil {
		return
	}
	event := domain.RuleEvent{
		RuleID:     rule.ID,
		RuleCode:   rule.RuleCode,
		Action:     action,
		FromStatus: from,
		ToStatus:   to,
		At:         s.now(),
	}
	if err := bus.PublishJSON(ctx, s.events, domain.TopicRuleChanged, event); err != nil {
		slog.Warn("failed to publish rule event", "rule_id", rule.ID, "error", err)
	}
}
