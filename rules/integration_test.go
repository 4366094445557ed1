//go:build integration
// +build integration

package rules_test

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/beanhealth/redflag/rules"

	_ "github.com/lib/pq"
)

// setupTestDB creates a PostgreSQL container and returns a connection
func setupTestDB(t *testing.T) (*sql.DB, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:15-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "redflag_test",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").WithStartupTimeout(60 * time.Second),
	}

	postgresContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start PostgreSQL container: %v", err)
	}

	host, err := postgresContainer.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := postgresContainer.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	connStr := fmt.Sprintf("host=%s port=%s user=test password=test dbname=redflag_test sslmode=disable", host, port.Port())

	// Wait for connection to be available
	var db *sql.DB
	for i := 0; i < 30; i++ {
		db, err = sql.Open("postgres", connStr)
		if err == nil {
			err = db.Ping()
			if err == nil {
				break
			}
		}
		time.Sleep(time.Second)
	}
	if err != nil {
		t.Fatalf("Failed to connect to database: %v", err)
	}

	// Run migrations
	migrationSQL, err := os.ReadFile(filepath.Join("..", "migrations", "000001_initial_schema.up.sql"))
	if err != nil {
		migrationSQL, err = os.ReadFile(filepath.Join("migrations", "000001_initial_schema.up.sql"))
		if err != nil {
			t.Fatalf("Failed to read migration file: %v", err)
		}
	}

	_, err = db.Exec(string(migrationSQL))
	if err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	cleanup := func() {
		db.Close()
		postgresContainer.Terminate(ctx)
	}

	return db, cleanup
}

// createClinic helper function to create a clinic row
func createClinic(t *testing.T, db *sql.DB, name string) string {
	var clinicID string
	err := db.QueryRow(`
		INSERT INTO clinics (name) VALUES ($1) RETURNING id
	`, name).Scan(&clinicID)
	if err != nil {
		t.Fatalf("Failed to create clinic: %v", err)
	}
	return clinicID
}

func hyperkalemiaRule(id string) *rules.RuleDefinition {
	return &rules.RuleDefinition{
		ID:        id,
		Name:      "Hyperkalemia",
		Node:      &rules.Comparison{Operator: rules.OpGreaterThan, Field: "labs.potassium", Threshold: 5.5},
		Severity:  rules.SeverityHigh,
		Active:    true,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
}

func TestPostgresRuleStore_BasicCRUD(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	clinicID := createClinic(t, db, "test-clinic")
	store := rules.NewPostgresRuleStore(db, clinicID)

	// Test Add
	ruleID := uuid.New().String()
	err := store.Add(hyperkalemiaRule(ruleID))
	if err != nil {
		t.Fatalf("Failed to add rule: %v", err)
	}

	// Test Get: the stored tree round-trips through rule_json
	retrieved, err := store.Get(ruleID)
	if err != nil {
		t.Fatalf("Failed to get rule: %v", err)
	}
	if retrieved.Name != "Hyperkalemia" {
		t.Errorf("Expected name 'Hyperkalemia', got '%s'", retrieved.Name)
	}
	cmp, ok := retrieved.Node.(*rules.Comparison)
	if !ok {
		t.Fatalf("Expected *rules.Comparison node, got %T", retrieved.Node)
	}
	if cmp.Field != "labs.potassium" || cmp.Threshold != 5.5 {
		t.Errorf("Stored tree did not round-trip: %+v", cmp)
	}

	// Test ListActive
	activeRules, err := store.ListActive()
	if err != nil {
		t.Fatalf("Failed to list active rules: %v", err)
	}
	if len(activeRules) != 1 {
		t.Errorf("Expected 1 active rule, got %d", len(activeRules))
	}

	// Test Update
	updated := hyperkalemiaRule(ruleID)
	updated.Name = "Hyperkalemia (severe)"
	updated.Node = &rules.Comparison{Operator: rules.OpGreaterThan, Field: "labs.potassium", Threshold: 6}
	updated.Active = false
	if err := store.Update(updated); err != nil {
		t.Fatalf("Failed to update rule: %v", err)
	}

	got, err := store.Get(ruleID)
	if err != nil {
		t.Fatalf("Failed to get updated rule: %v", err)
	}
	if got.Name != "Hyperkalemia (severe)" {
		t.Errorf("Expected updated name, got '%s'", got.Name)
	}
	if got.Active {
		t.Error("Expected rule to be inactive after update")
	}

	// Verify it's not in active list
	activeRules, err = store.ListActive()
	if err != nil {
		t.Fatalf("Failed to list active rules: %v", err)
	}
	if len(activeRules) != 0 {
		t.Errorf("Expected 0 active rules, got %d", len(activeRules))
	}

	// Test Delete
	if err := store.Delete(ruleID); err != nil {
		t.Fatalf("Failed to delete rule: %v", err)
	}
	if _, err := store.Get(ruleID); err == nil {
		t.Error("Expected error when getting deleted rule, got nil")
	}
}

func TestPostgresRuleStore_ClinicIsolation(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	clinicA := createClinic(t, db, "clinic-a")
	clinicB := createClinic(t, db, "clinic-b")

	storeA := rules.NewPostgresRuleStore(db, clinicA)
	storeB := rules.NewPostgresRuleStore(db, clinicB)

	ruleAID := uuid.New().String()
	if err := storeA.Add(hyperkalemiaRule(ruleAID)); err != nil {
		t.Fatalf("Failed to add rule for clinic A: %v", err)
	}

	ruleBID := uuid.New().String()
	ruleB := &rules.RuleDefinition{
		ID:        ruleBID,
		Name:      "NSAID use in CKD",
		Node:      &rules.MedInList{Targets: []string{"ibuprofen", "naproxen"}},
		Severity:  rules.SeverityReview,
		Active:    true,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := storeB.Add(ruleB); err != nil {
		t.Fatalf("Failed to add rule for clinic B: %v", err)
	}

	// Each clinic's store sees only its own catalog
	if _, err := storeA.Get(ruleBID); err == nil {
		t.Error("Clinic A should not be able to see clinic B's rule")
	}
	if _, err := storeB.Get(ruleAID); err == nil {
		t.Error("Clinic B should not be able to see clinic A's rule")
	}

	rulesA, err := storeA.ListActive()
	if err != nil {
		t.Fatalf("Failed to list rules for clinic A: %v", err)
	}
	if len(rulesA) != 1 || rulesA[0].Name != "Hyperkalemia" {
		t.Errorf("Unexpected catalog for clinic A: %+v", rulesA)
	}

	rulesB, err := storeB.ListActive()
	if err != nil {
		t.Fatalf("Failed to list rules for clinic B: %v", err)
	}
	if len(rulesB) != 1 || rulesB[0].Name != "NSAID use in CKD" {
		t.Errorf("Unexpected catalog for clinic B: %+v", rulesB)
	}
}

func TestPostgresRuleStore_DuplicateRuleID(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	clinicID := createClinic(t, db, "test-clinic")
	store := rules.NewPostgresRuleStore(db, clinicID)

	ruleID := uuid.New().String()
	if err := store.Add(hyperkalemiaRule(ruleID)); err != nil {
		t.Fatalf("Failed to add rule: %v", err)
	}
	if err := store.Add(hyperkalemiaRule(ruleID)); err == nil {
		t.Error("Expected error when adding duplicate rule, got nil")
	}
}

func TestPostgresRuleStore_UpdateNonExistent(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	clinicID := createClinic(t, db, "test-clinic")
	store := rules.NewPostgresRuleStore(db, clinicID)

	if err := store.Update(hyperkalemiaRule(uuid.New().String())); err == nil {
		t.Error("Expected error when updating non-existent rule, got nil")
	}
}

func TestPostgresRuleStore_DeleteNonExistent(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	clinicID := createClinic(t, db, "test-clinic")
	store := rules.NewPostgresRuleStore(db, clinicID)

	if err := store.Delete(uuid.New().String()); err == nil {
		t.Error("Expected error when deleting non-existent rule, got nil")
	}
}

func TestEngine_WithDatabase(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	clinicA := createClinic(t, db, "clinic-a")
	clinicB := createClinic(t, db, "clinic-b")

	engineA, err := rules.NewEngine(rules.NewPostgresRuleStore(db, clinicA))
	if err != nil {
		t.Fatalf("Failed to create engine A: %v", err)
	}
	engineB, err := rules.NewEngine(rules.NewPostgresRuleStore(db, clinicB))
	if err != nil {
		t.Fatalf("Failed to create engine B: %v", err)
	}

	ruleAID := uuid.New().String()
	if err := engineA.AddRule(hyperkalemiaRule(ruleAID)); err != nil {
		t.Fatalf("Failed to add rule to engine A: %v", err)
	}

	ruleBID := uuid.New().String()
	if err := engineB.AddRule(&rules.RuleDefinition{
		ID:        ruleBID,
		Name:      "Severe renal impairment",
		Node:      &rules.Comparison{Operator: rules.OpLessThan, Field: "labs.egfr", Threshold: 30},
		Severity:  rules.SeverityCritical,
		Active:    true,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}); err != nil {
		t.Fatalf("Failed to add rule to engine B: %v", err)
	}

	pc := &rules.PatientContext{
		Labs: map[string]rules.TimeSeries{
			"potassium": {Values: []rules.LabPoint{
				{Date: time.Date(2025, time.December, 20, 0, 0, 0, 0, time.UTC), Value: 6.1},
			}},
			"egfr": {Values: []rules.LabPoint{
				{Date: time.Date(2025, time.December, 1, 0, 0, 0, 0, time.UTC), Value: 25},
			}},
		},
		Now: time.Date(2025, time.December, 24, 0, 0, 0, 0, time.UTC),
	}

	alertsA, err := engineA.Alerts(pc)
	if err != nil {
		t.Fatalf("Failed to evaluate for clinic A: %v", err)
	}
	if len(alertsA) != 1 || alertsA[0].RuleID != ruleAID {
		t.Errorf("Unexpected alerts for clinic A: %+v", alertsA)
	}

	alertsB, err := engineB.Alerts(pc)
	if err != nil {
		t.Fatalf("Failed to evaluate for clinic B: %v", err)
	}
	if len(alertsB) != 1 || alertsB[0].RuleID != ruleBID {
		t.Errorf("Unexpected alerts for clinic B: %+v", alertsB)
	}

	// Each engine previews only its own catalog
	if _, err := engineA.Preview(ruleBID, pc); err == nil {
		t.Error("Clinic A should not be able to preview clinic B's rule")
	}
	if _, err := engineB.Preview(ruleAID, pc); err == nil {
		t.Error("Clinic B should not be able to preview clinic A's rule")
	}
}

func TestEngine_RejectsMalformedStoredRule(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	clinicID := createClinic(t, db, "test-clinic")

	// A row written around the validator must fail engine startup, not a
	// patient evaluation.
	_, err := db.Exec(`
		INSERT INTO rules (id, clinic_id, name, rule_json, severity, hard, active, created_at, updated_at)
		VALUES ($1, $2, 'broken', '{"operator":"between"}', 'high', false, true, NOW(), NOW())
	`, uuid.New().String(), clinicID)
	if err != nil {
		t.Fatalf("Failed to insert malformed rule: %v", err)
	}

	if _, err := rules.NewEngine(rules.NewPostgresRuleStore(db, clinicID)); err == nil {
		t.Error("Expected engine startup to fail on malformed stored rule, got nil")
	}
}

func TestCascadingDelete(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	clinicID := createClinic(t, db, "test-clinic")
	store := rules.NewPostgresRuleStore(db, clinicID)

	if err := store.Add(hyperkalemiaRule(uuid.New().String())); err != nil {
		t.Fatalf("Failed to add rule: %v", err)
	}

	if _, err := db.Exec("DELETE FROM clinics WHERE id = $1", clinicID); err != nil {
		t.Fatalf("Failed to delete clinic: %v", err)
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM rules WHERE clinic_id = $1", clinicID).Scan(&count); err != nil {
		t.Fatalf("Failed to count rules: %v", err)
	}
	if count != 0 {
		t.Errorf("Expected 0 rules after clinic deletion, got %d", count)
	}
}

func TestRuleOrdering(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	clinicID := createClinic(t, db, "test-clinic")
	store := rules.NewPostgresRuleStore(db, clinicID)

	for i := 1; i <= 5; i++ {
		def := hyperkalemiaRule(uuid.New().String())
		def.Name = fmt.Sprintf("rule-%d", i)
		def.CreatedAt = time.Now()
		def.UpdatedAt = def.CreatedAt
		if err := store.Add(def); err != nil {
			t.Fatalf("Failed to add rule %d: %v", i, err)
		}
		time.Sleep(10 * time.Millisecond) // Ensure different timestamps
	}

	rulesList, err := store.ListActive()
	if err != nil {
		t.Fatalf("Failed to list rules: %v", err)
	}
	if len(rulesList) != 5 {
		t.Fatalf("Expected 5 rules, got %d", len(rulesList))
	}

	for i := 0; i < len(rulesList)-1; i++ {
		if rulesList[i].CreatedAt.After(rulesList[i+1].CreatedAt) {
			t.Error("Rules are not ordered by created_at ascending")
		}
	}
}
