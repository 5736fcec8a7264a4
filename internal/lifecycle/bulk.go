package lifecycle

import (
	"context"

	"github.com/opensource-finance/chargeflow/internal/domain"
)

// BulkItemResult is the outcome for one rule in a bulk action.
type BulkItemResult struct {
	ID      string            `json:"id"`
	Success bool              `json:"success"`
	Status  domain.RuleStatus `json:"status,omitempty"`
	Kind    domain.Kind       `json:"kind,omitempty"`
	Error   string            `json:"error,omitempty"`
}

// BulkResult summarizes a bulk action.
type BulkResult struct {
	Action    domain.RuleAction `json:"action"`
	Total     int               `json:"total"`
	Succeeded int               `json:"succeeded"`
	Failed    int               `json:"failed"`
	Results   []BulkItemResult  `json:"results"`
}

// BulkAction applies one action to each id independently, in order.
// A failure on one id never affects the others.
func (s *Service) BulkAction(ctx context.Context, action domain.RuleAction, ids []string) (*BulkResult, error) {
	if _, ok := transitions[action]; !ok && action != domain.ActionDelete {
		return nil, domain.Errorf(domain.KindValidation, "unknown action %s", action)
	}
	if len(ids) == 0 {
		return nil, domain.Errorf(domain.KindValidation, "at least one rule id is required")
	}

	res := &BulkResult{
		Action:  action,
		Total:   len(ids),
		Results: make([]BulkItemResult, 0, len(ids)),
	}

	for _, id := range ids {
		item := BulkItemResult{ID: id}

		var err error
		if action == domain.ActionDelete {
			err = s.Delete(ctx, id)
		} else {
			var rule *domain.Rule
			rule, err = s.Transition(ctx, id, action)
			if err == nil {
				item.Status = rule.Status
			}
		}

		if err != nil {
			item.Kind = domain.KindOf(err)
			item.Error = domain.MessageOf(err)
			res.Failed++
		} else {
			item.Success = true
			res.Succeeded++
		}
		res.Results = append(res.Results, item)
	}

	return res, nil
}
