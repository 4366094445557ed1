// Package cliniccatalog manages one rule engine per clinic. Each clinic
// in the SaaS owns its rule catalog; the patient snapshot shape is fixed,
// so clinics differ only in catalog content and field-catalog extensions.
package cliniccatalog

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/beanhealth/redflag/rules"
)

// ErrClinicNotFound is returned when no engine is loaded for a clinic.
var ErrClinicNotFound = errors.New("clinic not found")

// StoreFactory builds the rule store backing one clinic's engine. The
// indirection lets tests substitute in-memory stores for PostgreSQL.
type StoreFactory func(clinicID string) rules.RuleStore

// Manager holds the loaded engines for all clinics.
type Manager struct {
	engines  map[string]*rules.Engine
	db       *sql.DB
	catalog  rules.FieldCatalog
	newStore StoreFactory
	mu       sync.RWMutex
}

// NewManager creates a manager whose clinics are backed by PostgreSQL.
func NewManager(db *sql.DB) *Manager {
	return &Manager{
		engines: make(map[string]*rules.Engine),
		db:      db,
		catalog: rules.DefaultFieldCatalog(),
		newStore: func(clinicID string) rules.RuleStore {
			return rules.NewPostgresRuleStore(db, clinicID)
		},
	}
}

// NewManagerWithStores creates a manager with a custom field catalog and
// store factory. No database handle is held; LoadAll is unavailable.
func NewManagerWithStores(catalog rules.FieldCatalog, factory StoreFactory) *Manager {
	return &Manager{
		engines:  make(map[string]*rules.Engine),
		catalog:  catalog,
		newStore: factory,
	}
}

// LoadAll loads every clinic from the database and initializes an engine
// for each. A clinic whose catalog fails validation aborts startup: a
// silently skipped catalog would mean silently missing alerts.
func (m *Manager) LoadAll() error {
	if m.db == nil {
		return fmt.Errorf("manager has no database handle")
	}

	rows, err := m.db.Query(`SELECT id FROM clinics ORDER BY created_at`)
	if err != nil {
		return fmt.Errorf("failed to fetch clinics: %w", err)
	}
	defer rows.Close()

	var clinicIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return fmt.Errorf("failed to scan clinic row: %w", err)
		}
		clinicIDs = append(clinicIDs, id)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating clinic rows: %w", err)
	}

	for _, id := range clinicIDs {
		if err := m.Register(id); err != nil {
			return fmt.Errorf("failed to initialize clinic %s: %w", id, err)
		}
	}
	return nil
}

// Register creates and caches the engine for one clinic, loading and
// validating its catalog.
func (m *Manager) Register(clinicID string) error {
	engine, err := rules.NewEngineWithCatalog(m.catalog, m.newStore(clinicID))
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}

	m.mu.Lock()
	m.engines[clinicID] = engine
	m.mu.Unlock()
	return nil
}

// Get retrieves the engine for one clinic.
func (m *Manager) Get(clinicID string) (*rules.Engine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	engine, exists := m.engines[clinicID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrClinicNotFound, clinicID)
	}
	return engine, nil
}

// List returns all loaded clinic IDs.
func (m *Manager) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	clinics := make([]string, 0, len(m.engines))
	for clinicID := range m.engines {
		clinics = append(clinics, clinicID)
	}
	return clinics
}

// Remove drops a clinic's engine from the manager. The clinic's catalog
// rows are untouched.
func (m *Manager) Remove(clinicID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.engines[clinicID]; !exists {
		return fmt.Errorf("%w: %s", ErrClinicNotFound, clinicID)
	}

	delete(m.engines, clinicID)
	return nil
}
