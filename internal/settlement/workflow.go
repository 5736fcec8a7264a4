// Package settlement implements the settlement request workflow.
package settlement

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/chargeflow/internal/bus"
	"github.com/opensource-finance/chargeflow/internal/domain"
	"github.com/opensource-finance/chargeflow/internal/metrics"
	"github.com/opensource-finance/chargeflow/internal/repository"
)

// Actions.
const (
	ActionApprove = "approve"
	ActionReject  = "reject"
	ActionProcess = "process"
)

type edge struct {
	from, to domain.SettlementStatus
}

// Nothing returns to PENDING; REJECTED and PROCESSED are terminal.
var transitions = map[string]edge{
	ActionApprove: {domain.SettlementPending, domain.SettlementApproved},
	ActionReject:  {domain.SettlementPending, domain.SettlementRejected},
	ActionProcess: {domain.SettlementApproved, domain.SettlementProcessed},
}

// Review carries the reviewer and remarks recorded with a transition.
// Empty fields keep the stored values.
type Review struct {
	ReviewedBy string `json:"reviewedBy,omitempty"`
	Remarks    string `json:"remarks,omitempty"`
}

// Workflow manages settlement requests.
type Workflow struct {
	store  domain.SettlementStore
	events domain.EventBus
	now    func() time.Time
}

// NewWorkflow creates a settlement workflow. events may be nil.
func NewWorkflow(store domain.SettlementStore, events domain.EventBus) *Workflow {
	return &Workflow{
		store:  store,
		events: events,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Create validates and stores a PENDING settlement.
func (w *Workflow) Create(ctx context.Context, input *domain.Settlement) (*domain.Settlement, error) {
	if input == nil {
		return nil, domain.Errorf(domain.KindValidation, "settlement is required")
	}

	s := *input
	s.CustomerCode = strings.TrimSpace(s.CustomerCode)
	s.AccountNumber = strings.TrimSpace(s.AccountNumber)

	var problems []string
	if s.CustomerCode == "" {
		problems = append(problems, "customerCode is required")
	}
	if s.AccountNumber == "" {
		problems = append(problems, "accountNumber is required")
	}
	if s.SettlementType != domain.SettlementDebit && s.SettlementType != domain.SettlementCredit {
		problems = append(problems, "settlementType must be DEBIT or CREDIT")
	}
	if !s.Amount.IsPositive() {
		problems = append(problems, "amount must be greater than zero")
	}
	if len(problems) > 0 {
		return nil, domain.Errorf(domain.KindValidation, "%s", strings.Join(problems, "; "))
	}

	s.ID = uuid.New().String()
	s.Status = domain.SettlementPending
	s.ReviewedBy = ""
	s.Remarks = ""
	s.CreatedAt = w.now()
	s.Version = 1

	if err := w.store.CreateSettlement(ctx, &s); err != nil {
		return nil, domain.Wrap(domain.KindInternal, err, "failed to create settlement")
	}

	slog.Info("settlement created",
		"settlement_id", s.ID,
		"customer_code", s.CustomerCode,
		"type", string(s.SettlementType),
		"amount", s.Amount.StringFixed(2),
	)
	w.publish(ctx, &s, "")
	return &s, nil
}

// Get returns a settlement by ID.
func (w *Workflow) Get(ctx context.Context, id string) (*domain.Settlement, error) {
	s, err := w.store.GetSettlement(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, domain.Errorf(domain.KindNotFound, "settlement %s not found", id)
	}
	if err != nil {
		return nil, domain.Wrap(domain.KindInternal, err, "failed to load settlement")
	}
	return s, nil
}

// List returns settlements matching the filter, newest first.
func (w *Workflow) List(ctx context.Context, filter domain.SettlementFilter) ([]*domain.Settlement, error) {
	switch filter.Status {
	case "", domain.SettlementPending, domain.SettlementApproved, domain.SettlementProcessed, domain.SettlementRejected:
	default:
		return nil, domain.Errorf(domain.KindValidation, "unknown status %s", filter.Status)
	}
	if !filter.From.IsZero() && !filter.To.IsZero() && filter.To.Before(filter.From) {
		return nil, domain.Errorf(domain.KindValidation, "dateTo must not be before dateFrom")
	}

	list, err := w.store.ListSettlements(ctx, filter)
	if err != nil {
		return nil, domain.Wrap(domain.KindInternal, err, "failed to list settlements")
	}
	return list, nil
}

// Approve moves a PENDING settlement to APPROVED.
func (w *Workflow) Approve(ctx context.Context, id string, review Review) (*domain.Settlement, error) {
	return w.Transition(ctx, id, ActionApprove, review)
}

// Reject moves a PENDING settlement to REJECTED.
func (w *Workflow) Reject(ctx context.Context, id string, review Review) (*domain.Settlement, error) {
	return w.Transition(ctx, id, ActionReject, review)
}

// Process moves an APPROVED settlement to PROCESSED.
func (w *Workflow) Process(ctx context.Context, id string, review Review) (*domain.Settlement, error) {
	return w.Transition(ctx, id, ActionProcess, review)
}

// Transition applies action with a single check-and-set. A refused or lost
// transition leaves the settlement unchanged.
func (w *Workflow) Transition(ctx context.Context, id, action string, review Review) (s *domain.Settlement, err error) {
	defer func() {
		metrics.SettlementTransitions.WithLabelValues(action, metrics.Result(err)).Inc()
	}()

	e, ok := transitions[action]
	if !ok {
		return nil, domain.Errorf(domain.KindValidation, "unknown action %s", action)
	}

	current, err := w.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status != e.from {
		return nil, domain.InvalidTransition("settlement", id, current.Status, action)
	}

	reviewedBy := current.ReviewedBy
	if review.ReviewedBy != "" {
		reviewedBy = review.ReviewedBy
	}
	remarks := current.Remarks
	if review.Remarks != "" {
		remarks = review.Remarks
	}

	updated, err := w.store.UpdateSettlementStatus(ctx, id, e.from, e.to, reviewedBy, remarks)
	switch {
	case err == nil:
	case errors.Is(err, repository.ErrStaleStatus):
		return nil, domain.InvalidTransition("settlement", id, updated.Status, action)
	case errors.Is(err, repository.ErrNotFound):
		return nil, domain.Errorf(domain.KindNotFound, "settlement %s not found", id)
	default:
		return nil, domain.Wrap(domain.KindInternal, err, "failed to update settlement")
	}

	slog.Info("settlement transitioned",
		"settlement_id", id,
		"action", action,
		"from", string(e.from),
		"to", string(e.to),
		"reviewed_by", reviewedBy,
	)
	w.publish(ctx, updated, e.from)
	return updated, nil
}

func (w *Workflow) publish(ctx context.Context, s *domain.Settlement, from domain.SettlementStatus) {
	if w.events == nil {
		return
	}
	event := domain.SettlementEvent{
		SettlementID: s.ID,
		CustomerCode: s.CustomerCode,
		FromStatus:   from,
		ToStatus:     s.Status,
		At:           w.now(),
	}
	if err := bus.PublishJSON(ctx, w.events, domain.TopicSettlementChanged, event); err != nil {
		slog.Warn("failed to publish settlement event", "settlement_id", s.ID, "error", err)
	}
}
