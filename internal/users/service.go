// Package users manages dashboard user records.
package users

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/opensource-finance/chargeflow/internal/domain"
	"github.com/opensource-finance/chargeflow/internal/repository"
)

// Service is plain CRUD over the user store.
type Service struct {
	store domain.UserStore
}

// NewService creates a user service.
func NewService(store domain.UserStore) *Service {
	return &Service{store: store}
}

func normalize(u *domain.User) error {
	u.Username = strings.TrimSpace(u.Username)
	u.Email = strings.TrimSpace(strings.ToLower(u.Email))
	u.FirstName = strings.TrimSpace(u.FirstName)
	u.LastName = strings.TrimSpace(u.LastName)
	if u.Role == "" {
		u.Role = domain.RoleRuleViewer
	}

	var problems []string
	if u.Username == "" {
		problems = append(problems, "username is required")
	}
	if u.Email == "" {
		problems = append(problems, "email is required")
	} else if !strings.Contains(u.Email, "@") {
		problems = append(problems, "email must contain @")
	}
	if !u.Role.Valid() {
		problems = append(problems, "role must be ADMIN, APPROVER, CREATOR or RULE_VIEWER")
	}
	if len(problems) > 0 {
		return domain.Errorf(domain.KindValidation, "%s", strings.Join(problems, "; "))
	}
	return nil
}

func storeError(err error, id, op string) error {
	switch {
	case errors.Is(err, repository.ErrConflict):
		return domain.Errorf(domain.KindConflict, "username or email already in use")
	case errors.Is(err, repository.ErrNotFound):
		return domain.Errorf(domain.KindNotFound, "user %s not found", id)
	default:
		return domain.Wrap(domain.KindInternal, err, "failed to "+op+" user")
	}
}

// Create stores a new active user.
func (s *Service) Create(ctx context.Context, input *domain.User) (*domain.User, error) {
	if input == nil {
		return nil, domain.Errorf(domain.KindValidation, "user is required")
	}
	u := *input
	if err := normalize(&u); err != nil {
		return nil, err
	}
	u.ID = uuid.New().String()
	u.IsActive = true

	if err := s.store.CreateUser(ctx, &u); err != nil {
		return nil, storeError(err, u.ID, "create")
	}
	return &u, nil
}

// Get returns a user by ID.
func (s *Service) Get(ctx context.Context, id string) (*domain.User, error) {
	u, err := s.store.GetUser(ctx, id)
	if err != nil {
		return nil, storeError(err, id, "load")
	}
	return u, nil
}

// List returns every user ordered by username.
func (s *Service) List(ctx context.Context) ([]*domain.User, error) {
	list, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, storeError(err, "", "list")
	}
	return list, nil
}

// Update replaces a user's profile fields.
func (s *Service) Update(ctx context.Context, id string, input *domain.User) (*domain.User, error) {
	if input == nil {
		return nil, domain.Errorf(domain.KindValidation, "user is required")
	}
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	u := *input
	u.ID = current.ID
	u.CreatedAt = current.CreatedAt
	if err := normalize(&u); err != nil {
		return nil, err
	}

	if err := s.store.UpdateUser(ctx, &u); err != nil {
		return nil, storeError(err, id, "update")
	}
	return &u, nil
}

// Delete removes a user.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.store.DeleteUser(ctx, id); err != nil {
		return storeError(err, id, "delete")
	}
	return nil
}
