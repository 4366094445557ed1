package rules

import (
	"encoding/json"
	"fmt"
)

// ruleDoc is the JSON envelope the admin rule builder writes. Value is
// raw because its type depends on the operator: a number for thresholds,
// a string list for medication targets.
type ruleDoc struct {
	Operator   Operator          `json:"operator"`
	Field      string            `json:"field,omitempty"`
	Value      json.RawMessage   `json:"value,omitempty"`
	WithinDays int               `json:"within_days,omitempty"`
	Conditions []json.RawMessage `json:"conditions,omitempty"`
}

// ParseRule decodes an authored rule JSON document into a RuleNode,
// rejecting anything evaluation could not handle: unknown operators,
// missing operator-specific fields, empty compounds, excessive nesting.
// Everything this function accepts, EvaluateRule evaluates without error.
func ParseRule(data []byte) (RuleNode, error) {
	return parseNode(data, 0)
}

func parseNode(data []byte, depth int) (RuleNode, error) {
	if depth >= MaxRuleDepth {
		return nil, fmt.Errorf("rule tree exceeds maximum nesting depth of %d", MaxRuleDepth)
	}

	var doc ruleDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid rule JSON: %w", err)
	}

	switch doc.Operator {
	case OpGreaterThan, OpLessThan, OpGreaterOrEqual, OpLessOrEqual, OpEqual:
		if doc.Field == "" {
			return nil, fmt.Errorf("operator %q requires a field", doc.Operator)
		}
		threshold, err := numberValue(doc.Value)
		if err != nil {
			return nil, fmt.Errorf("operator %q: %w", doc.Operator, err)
		}
		return &Comparison{Operator: doc.Operator, Field: doc.Field, Threshold: threshold}, nil

	case OpPctDrop:
		if doc.Field == "" {
			return nil, fmt.Errorf("operator %q requires a field", doc.Operator)
		}
		threshold, err := numberValue(doc.Value)
		if err != nil {
			return nil, fmt.Errorf("operator %q: %w", doc.Operator, err)
		}
		if doc.WithinDays <= 0 {
			return nil, fmt.Errorf("operator %q requires within_days > 0", doc.Operator)
		}
		return &PctDrop{Field: doc.Field, ThresholdPercent: threshold, WithinDays: doc.WithinDays}, nil

	case OpMedInList:
		targets, err := stringListValue(doc.Value)
		if err != nil {
			return nil, fmt.Errorf("operator %q: %w", doc.Operator, err)
		}
		if len(targets) == 0 {
			return nil, fmt.Errorf("operator %q requires at least one target", doc.Operator)
		}
		return &MedInList{Targets: targets}, nil

	case OpNoRecentData:
		if doc.Field == "" {
			return nil, fmt.Errorf("operator %q requires a field", doc.Operator)
		}
		if doc.WithinDays <= 0 {
			return nil, fmt.Errorf("operator %q requires within_days > 0", doc.Operator)
		}
		return &NoRecentData{Field: doc.Field, WithinDays: doc.WithinDays}, nil

	case OpMessageUnacknowledged:
		return &MessageUnacknowledged{}, nil

	case OpAnd, OpOr:
		if len(doc.Conditions) == 0 {
			return nil, fmt.Errorf("operator %q requires at least one condition", doc.Operator)
		}
		children := make([]RuleNode, 0, len(doc.Conditions))
		for i, raw := range doc.Conditions {
			child, err := parseNode(raw, depth+1)
			if err != nil {
				return nil, fmt.Errorf("condition %d: %w", i, err)
			}
			children = append(children, child)
		}
		return &Compound{Operator: doc.Operator, Children: children}, nil

	case "":
		return nil, fmt.Errorf("rule is missing an operator")
	default:
		return nil, fmt.Errorf("unknown operator %q", doc.Operator)
	}
}

func numberValue(raw json.RawMessage) (float64, error) {
	if len(raw) == 0 {
		return 0, fmt.Errorf("requires a numeric value")
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, fmt.Errorf("value must be a number: %w", err)
	}
	return n, nil
}

func stringListValue(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("requires a list of strings")
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("value must be a list of strings: %w", err)
	}
	return list, nil
}

// MarshalJSON renders each node back into the authored wire format, so a
// parsed catalog round-trips through storage unchanged.

func (c *Comparison) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{
		"operator": c.Operator,
		"field":    c.Field,
		"value":    c.Threshold,
	})
}

func (p *PctDrop) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{
		"operator":    OpPctDrop,
		"field":       p.Field,
		"value":       p.ThresholdPercent,
		"within_days": p.WithinDays,
	})
}

func (m *MedInList) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{
		"operator": OpMedInList,
		"value":    m.Targets,
	})
}

func (n *NoRecentData) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{
		"operator":    OpNoRecentData,
		"field":       n.Field,
		"within_days": n.WithinDays,
	})
}

func (m *MessageUnacknowledged) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{
		"operator": OpMessageUnacknowledged,
	})
}

func (c *Compound) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{
		"operator":   c.Operator,
		"conditions": c.Children,
	})
}
