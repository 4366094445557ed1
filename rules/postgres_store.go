package rules

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/lib/pq"
)

// PostgresRuleStore implements RuleStore backed by PostgreSQL, scoped to a
// single clinic's catalog.
type PostgresRuleStore struct {
	db       *sql.DB
	clinicID string
}

// NewPostgresRuleStore creates a PostgreSQL-backed RuleStore for one clinic.
func NewPostgresRuleStore(db *sql.DB, clinicID string) *PostgresRuleStore {
	return &PostgresRuleStore{
		db:       db,
		clinicID: clinicID,
	}
}

// Add inserts a new definition into the clinic's catalog.
func (s *PostgresRuleStore) Add(def *RuleDefinition) error {
	var exists bool
	err := s.db.QueryRow(`
		SELECT EXISTS(SELECT 1 FROM rules WHERE id = $1 AND clinic_id = $2)
	`, def.ID, s.clinicID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check rule existence: %w", err)
	}
	if exists {
		return fmt.Errorf("rule with ID %s already exists", def.ID)
	}

	ruleJSON, err := json.Marshal(def.Node)
	if err != nil {
		return fmt.Errorf("failed to encode rule tree: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO rules (id, clinic_id, name, rule_json, severity, hard, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, def.ID, s.clinicID, def.Name, ruleJSON, string(def.Severity), def.Hard, def.Active,
		def.CreatedAt, def.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert rule: %w", err)
	}

	return nil
}

// Get retrieves a definition by ID, re-parsing the stored rule JSON.
func (s *PostgresRuleStore) Get(id string) (*RuleDefinition, error) {
	def, err := s.scanOne(s.db.QueryRow(`
		SELECT id, name, rule_json, severity, hard, active, created_at, updated_at
		FROM rules
		WHERE id = $1 AND clinic_id = $2
	`, id, s.clinicID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}
	return def, nil
}

// ListActive returns the clinic's active definitions in creation order,
// which fixes the evaluation (and therefore tie-break) order.
func (s *PostgresRuleStore) ListActive() ([]*RuleDefinition, error) {
	rows, err := s.db.Query(`
		SELECT id, name, rule_json, severity, hard, active, created_at, updated_at
		FROM rules
		WHERE clinic_id = $1 AND active = true
		ORDER BY created_at, id
	`, s.clinicID)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	var defs []*RuleDefinition
	for rows.Next() {
		def, err := s.scanOne(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		defs = append(defs, def)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rules: %w", err)
	}
	return defs, nil
}

// Update replaces an existing definition's mutable fields.
func (s *PostgresRuleStore) Update(def *RuleDefinition) error {
	ruleJSON, err := json.Marshal(def.Node)
	if err != nil {
		return fmt.Errorf("failed to encode rule tree: %w", err)
	}

	result, err := s.db.Exec(`
		UPDATE rules
		SET name = $1, rule_json = $2, severity = $3, hard = $4, active = $5, updated_at = NOW()
		WHERE id = $6 AND clinic_id = $7
	`, def.Name, ruleJSON, string(def.Severity), def.Hard, def.Active, def.ID, s.clinicID)
	if err != nil {
		return fmt.Errorf("failed to update rule: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, def.ID)
	}
	return nil
}

// Delete removes a definition from the clinic's catalog.
func (s *PostgresRuleStore) Delete(id string) error {
	result, err := s.db.Exec(`
		DELETE FROM rules WHERE id = $1 AND clinic_id = $2
	`, id, s.clinicID)
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *PostgresRuleStore) scanOne(row rowScanner) (*RuleDefinition, error) {
	var def RuleDefinition
	var ruleJSON []byte
	var severity string

	err := row.Scan(&def.ID, &def.Name, &ruleJSON, &severity, &def.Hard,
		&def.Active, &def.CreatedAt, &def.UpdatedAt)
	if err != nil {
		return nil, err
	}

	def.Severity = Severity(severity)
	def.Node, err = ParseRule(ruleJSON)
	if err != nil {
		// A row that no longer parses means the catalog was written around
		// the validator; surface it instead of skipping the rule silently.
		return nil, fmt.Errorf("stored rule %s is malformed: %w", def.ID, err)
	}
	return &def, nil
}
