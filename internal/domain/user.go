package domain

import "time"

// Role is a dashboard user role.
type Role string

const (
	RoleAdmin      Role = "ADMIN"
	RoleApprover   Role = "APPROVER"
	RoleCreator    Role = "CREATOR"
	RoleRuleViewer Role = "RULE_VIEWER"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleApprover, RoleCreator, RoleRuleViewer:
		return true
	}
	return false
}

// User is a dashboard user record.
type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	FirstName string    `json:"firstName"`
	LastName  string    `json:"lastName"`
	Role      Role      `json:"role"`
	IsActive  bool      `json:"isActive"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
