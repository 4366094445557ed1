package rules

import (
	"fmt"
	"strings"
)

// FieldCatalog is the closed set of lab and vital names rules may
// reference. Field references are checked against it when a rule is
// loaded or authored, so a typo fails there instead of silently resolving
// to a "no data" branch at evaluation time.
type FieldCatalog struct {
	Labs   map[string]bool
	Vitals map[string]bool
}

// DefaultFieldCatalog returns the lab and vital names the CKD monitoring
// pipeline produces.
func DefaultFieldCatalog() FieldCatalog {
	return FieldCatalog{
		Labs: map[string]bool{
			"egfr":        true,
			"creatinine":  true,
			"potassium":   true,
			"sodium":      true,
			"phosphorus":  true,
			"calcium":     true,
			"bicarbonate": true,
			"hemoglobin":  true,
			"albumin":     true,
			"urea":        true,
			"uacr":        true,
			"hba1c":       true,
		},
		Vitals: map[string]bool{
			"systolic_bp":  true,
			"diastolic_bp": true,
			"heart_rate":   true,
			"weight":       true,
			"temperature":  true,
			"spo2":         true,
		},
	}
}

// ValidateNode walks a parsed tree and checks every field reference
// against the catalog. Comparison fields may name a lab or a vital;
// trend operators (pct_drop, no_recent_data) need dated readings and are
// restricted to labs.
func (c FieldCatalog) ValidateNode(node RuleNode) error {
	switch n := node.(type) {
	case *Comparison:
		return c.validatePath(n.Field, false)
	case *PctDrop:
		return c.validatePath(n.Field, true)
	case *NoRecentData:
		return c.validatePath(n.Field, true)
	case *MedInList, *MessageUnacknowledged:
		return nil
	case *Compound:
		for i, child := range n.Children {
			if err := c.ValidateNode(child); err != nil {
				return fmt.Errorf("condition %d: %w", i, err)
			}
		}
		return nil
	default:
		panic(fmt.Sprintf("rules: unhandled rule node type %T", node))
	}
}

func (c FieldCatalog) validatePath(path string, labsOnly bool) error {
	root, rest, found := strings.Cut(path, ".")
	switch root {
	case rootLabs:
		if !found || rest == "" {
			return fmt.Errorf("field %q is missing a lab name", path)
		}
		if !c.Labs[rest] {
			return fmt.Errorf("unknown lab %q in field %q", rest, path)
		}
		return nil
	case rootVitals:
		if labsOnly {
			return fmt.Errorf("field %q must reference a lab series, not a vital", path)
		}
		if !found || rest == "" {
			return fmt.Errorf("field %q is missing a vital name", path)
		}
		if !c.Vitals[rest] {
			return fmt.Errorf("unknown vital %q in field %q", rest, path)
		}
		return nil
	case rootMedications, rootMessages:
		return fmt.Errorf("field %q does not resolve to a comparable value", path)
	default:
		return fmt.Errorf("unknown field root %q in %q (must be one of: labs, vitals)", root, path)
	}
}

// ValidateDefinition checks the catalog-facing metadata of a definition:
// a parsed condition tree, a known severity, a name for the alerts UI.
func (c FieldCatalog) ValidateDefinition(def *RuleDefinition) error {
	if def.Name == "" {
		return fmt.Errorf("rule name is required")
	}
	if def.Node == nil {
		return fmt.Errorf("rule %q has no condition tree", def.Name)
	}
	if !def.Severity.Valid() {
		return fmt.Errorf("rule %q has invalid severity %q (must be one of: critical, high, review, info)", def.Name, def.Severity)
	}
	if err := c.ValidateNode(def.Node); err != nil {
		return fmt.Errorf("rule %q: %w", def.Name, err)
	}
	return nil
}
