package services

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"social-inbox/models"
)

// ErrInvalidCredentials is returned by Authenticate for any login failure
var ErrInvalidCredentials = fmt.Errorf("%w: invalid username or password", ErrForbidden)

// AgentDirectory holds the agents allowed to use the inbox. Accounts are
// managed outside the relay and loaded from the seed file.
type AgentDirectory struct {
	mu         sync.RWMutex
	byID       map[string]models.Agent
	byUsername map[string]models.Agent
}

// NewAgentDirectory creates a directory with the given agents
func NewAgentDirectory(agents []models.Agent) (*AgentDirectory, error) {
	d := &AgentDirectory{}
	if err := d.Replace(agents); err != nil {
		return nil, err
	}
	return d, nil
}

// Replace swaps the whole agent set, rejecting invalid entries
func (d *AgentDirectory) Replace(agents []models.Agent) error {
	byID := make(map[string]models.Agent, len(agents))
	byUsername := make(map[string]models.Agent, len(agents))

	for _, a := range agents {
		if a.ID == "" || a.Username == "" {
			return fmt.Errorf("agent %q: id and username are required", a.Username)
		}
		// Validate role
		if !models.IsValidRole(string(a.Role)) {
			return fmt.Errorf("agent %q: invalid role: %s", a.Username, a.Role)
		}
		if _, dup := byID[a.ID]; dup {
			return fmt.Errorf("duplicate agent id %q", a.ID)
		}
		if a.DisplayName == "" {
			a.DisplayName = a.Username
		}
		byID[a.ID] = a
		byUsername[strings.ToLower(a.Username)] = a
	}

	d.mu.Lock()
	d.byID = byID
	d.byUsername = byUsername
	d.mu.Unlock()

	slog.Info("Agent directory loaded", "agents", len(byID))
	return nil
}

// Get returns the agent with id
func (d *AgentDirectory) Get(id string) (models.Agent, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	a, ok := d.byID[id]
	return a, ok
}

// Authenticate checks a username and password against the bcrypt hash
func (d *AgentDirectory) Authenticate(username, password string) (*models.Agent, error) {
	d.mu.RLock()
	agent, ok := d.byUsername[strings.ToLower(strings.TrimSpace(username))]
	d.mu.RUnlock()

	if !ok || agent.PasswordHash == "" {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(agent.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return &agent, nil
}

// HashPassword hashes a password for the seed file
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
