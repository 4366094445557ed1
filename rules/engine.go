package rules

import "fmt"

// Engine ties a clinic's rule catalog to the evaluator: definitions are
// validated when added or updated, cached between catalog mutations, and
// evaluated on demand against caller-supplied patient snapshots. The
// engine itself holds no per-evaluation state, so any number of snapshots
// may be evaluated concurrently.
type Engine struct {
	catalog FieldCatalog
	store   RuleStore
	cache   RulesCache
}

// NewEngine creates an engine over the given store using the default
// field catalog.
func NewEngine(store RuleStore) (*Engine, error) {
	return NewEngineWithCatalog(DefaultFieldCatalog(), store)
}

// NewEngineWithCatalog creates an engine with a custom field catalog.
// Clinics that track additional labs extend the catalog here. All active
// definitions are re-validated at startup, so a catalog row written by an
// older validator fails loading, not a patient evaluation.
func NewEngineWithCatalog(catalog FieldCatalog, store RuleStore) (*Engine, error) {
	en := &Engine{
		catalog: catalog,
		store:   store,
		cache:   NewInMemoryRulesCache(DefaultCacheConfig()),
	}

	if err := en.revalidate(); err != nil {
		return nil, fmt.Errorf("failed to load rule catalog: %w", err)
	}

	return en, nil
}

// revalidate checks every active definition against the field catalog and
// primes the cache.
func (en *Engine) revalidate() error {
	defs, err := en.store.ListActive()
	if err != nil {
		return err
	}

	for _, def := range defs {
		if err := en.catalog.ValidateDefinition(def); err != nil {
			return fmt.Errorf("rule %s: %w", def.ID, err)
		}
	}

	en.cache.Set(defs)
	return nil
}

// AddRule validates a definition and adds it to the catalog. Validation
// happens first, so a rejected rule never reaches the store.
func (en *Engine) AddRule(def *RuleDefinition) error {
	if _, err := en.store.Get(def.ID); err == nil {
		return fmt.Errorf("rule with ID %s already exists", def.ID)
	}

	if err := en.catalog.ValidateDefinition(def); err != nil {
		return fmt.Errorf("rule validation failed: %w", err)
	}

	if err := en.store.Add(def); err != nil {
		return err
	}

	en.cache.Invalidate()
	return nil
}

// UpdateRule validates and replaces an existing definition.
func (en *Engine) UpdateRule(def *RuleDefinition) error {
	if err := en.catalog.ValidateDefinition(def); err != nil {
		return fmt.Errorf("rule validation failed: %w", err)
	}

	if err := en.store.Update(def); err != nil {
		return err
	}

	en.cache.Invalidate()
	return nil
}

// DeleteRule removes a definition from the catalog.
func (en *Engine) DeleteRule(ruleID string) error {
	if err := en.store.Delete(ruleID); err != nil {
		return err
	}

	en.cache.Invalidate()
	return nil
}

// GetRule retrieves a single definition.
func (en *Engine) GetRule(ruleID string) (*RuleDefinition, error) {
	return en.store.Get(ruleID)
}

// Preview evaluates one catalog rule against a snapshot, matched or not.
// This backs the rule builder's "test against this patient" view.
func (en *Engine) Preview(ruleID string, pc *PatientContext) (EvaluationResult, error) {
	def, err := en.store.Get(ruleID)
	if err != nil {
		return EvaluationResult{}, err
	}
	return EvaluateRule(def.Node, pc), nil
}

// activeDefs returns the active definitions, from cache when possible.
func (en *Engine) activeDefs() ([]*RuleDefinition, error) {
	if defs := en.cache.Get(); defs != nil {
		return defs, nil
	}

	defs, err := en.store.ListActive()
	if err != nil {
		return nil, err
	}
	en.cache.Set(defs)
	return defs, nil
}

// ActiveRules returns the active catalog as the evaluator will run it.
func (en *Engine) ActiveRules() ([]*RuleDefinition, error) {
	return en.activeDefs()
}

// Alerts runs the full active rule set against one snapshot and returns
// the matched rules ordered by descending severity.
func (en *Engine) Alerts(pc *PatientContext) ([]*MatchedRule, error) {
	defs, err := en.activeDefs()
	if err != nil {
		return nil, err
	}
	return SortBySeverity(GetMatchedRules(defs, pc)), nil
}
