package models

// AgentRole represents the role of an inbox agent
type AgentRole string

const (
	RoleAdmin  AgentRole = "admin"
	RoleSeller AgentRole = "seller"
)

// Agent represents a human who answers customers from the inbox
type Agent struct {
	ID          string    `yaml:"id" json:"id"`
	Username    string    `yaml:"username" json:"username"`
	DisplayName string    `yaml:"display_name" json:"display_name"`
	Role        AgentRole `yaml:"role" json:"role"`

	// Authentication
	PasswordHash string `yaml:"password_hash" json:"-"`
}

// Actor is the authenticated caller of an agent-facing operation
type Actor struct {
	ID   string
	Name string
	Role AgentRole
}

// IsAdmin reports whether the actor carries admin authority
func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}

// SenderRole maps the agent role onto the ledger sender role
func (a Actor) SenderRole() SenderRole {
	if a.Role == RoleAdmin {
		return SenderRoleAdmin
	}
	return SenderRoleSeller
}

// IsValidRole checks if a role is valid
func IsValidRole(role string) bool {
	switch AgentRole(role) {
	case RoleAdmin, RoleSeller:
		return true
	}
	return false
}
