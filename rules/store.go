package rules

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrRuleNotFound is returned by stores when a rule ID does not exist.
var ErrRuleNotFound = errors.New("rule not found")

// RuleStore manages rule catalog persistence and retrieval.
type RuleStore interface {
	// Add a new rule definition
	Add(def *RuleDefinition) error

	// Get a definition by ID
	Get(id string) (*RuleDefinition, error)

	// List all active definitions
	ListActive() ([]*RuleDefinition, error)

	// Update an existing definition
	Update(def *RuleDefinition) error

	// Delete a definition
	Delete(id string) error
}

// InMemoryRuleStore implements RuleStore with a mutex-guarded map. Used in
// tests and single-process deployments without a database.
type InMemoryRuleStore struct {
	defs map[string]*RuleDefinition
	mu   sync.RWMutex
}

// NewInMemoryRuleStore creates an empty in-memory rule store.
func NewInMemoryRuleStore() *InMemoryRuleStore {
	return &InMemoryRuleStore{
		defs: make(map[string]*RuleDefinition),
	}
}

// Add stores a new definition, enforcing unique IDs and stamping the
// creation time.
func (s *InMemoryRuleStore) Add(def *RuleDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.defs[def.ID]; exists {
		return fmt.Errorf("rule with ID %s already exists", def.ID)
	}

	now := time.Now()
	def.CreatedAt = now
	def.UpdatedAt = now
	s.defs[def.ID] = def
	return nil
}

// Get retrieves a definition by ID.
func (s *InMemoryRuleStore) Get(id string) (*RuleDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	def, exists := s.defs[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}
	return def, nil
}

// ListActive returns all active definitions.
func (s *InMemoryRuleStore) ListActive() ([]*RuleDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var active []*RuleDefinition
	for _, def := range s.defs {
		if def.Active {
			active = append(active, def)
		}
	}
	return active, nil
}

// Update replaces an existing definition, preserving CreatedAt.
func (s *InMemoryRuleStore) Update(def *RuleDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.defs[def.ID]
	if !exists {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, def.ID)
	}

	def.CreatedAt = existing.CreatedAt
	def.UpdatedAt = time.Now()
	s.defs[def.ID] = def
	return nil
}

// Delete removes a definition.
func (s *InMemoryRuleStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.defs[id]; !exists {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}

	delete(s.defs, id)
	return nil
}
