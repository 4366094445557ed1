package rules

import "time"

// Operator identifies the evaluation behavior of a rule node.
// The set is closed: validation rejects anything else at load time.
type Operator string

const (
	OpGreaterThan    Operator = "gt"
	OpLessThan       Operator = "lt"
	OpGreaterOrEqual Operator = "gte"
	OpLessOrEqual    Operator = "lte"
	OpEqual          Operator = "eq"

	OpPctDrop               Operator = "pct_drop"
	OpMedInList             Operator = "med_in_list"
	OpNoRecentData          Operator = "no_recent_data"
	OpMessageUnacknowledged Operator = "message_unacknowledged"

	OpAnd Operator = "and"
	OpOr  Operator = "or"
)

// Severity is a rule's clinical urgency tier, used to rank matched alerts.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityReview   Severity = "review"
	SeverityInfo     Severity = "info"
)

// Rank maps a severity to its ordering weight. Unknown severities rank
// below info so they can never displace a real alert.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityHigh:
		return 2
	case SeverityReview:
		return 1
	case SeverityInfo:
		return 0
	}
	return -1
}

// Valid reports whether s is one of the four known tiers.
func (s Severity) Valid() bool {
	return s.Rank() >= 0
}

// RuleNode is one node of a condition tree. The interface is sealed: every
// variant lives in this package, so the dispatcher's type switch covers the
// whole set and a new variant cannot be added without extending it.
type RuleNode interface {
	// Op returns the node's operator tag.
	Op() Operator

	sealed()
}

// Comparison compares a field's latest value against a fixed threshold
// using one of gt, lt, gte, lte, eq.
type Comparison struct {
	Operator  Operator
	Field     string
	Threshold float64
}

// PctDrop matches when a lab value fell by at least ThresholdPercent
// between the earliest and latest readings inside the trailing window.
type PctDrop struct {
	Field            string
	ThresholdPercent float64
	WithinDays       int
}

// MedInList matches when any active medication contains one of the target
// substrings (case-insensitive).
type MedInList struct {
	Targets []string
}

// NoRecentData matches when a lab has no reading within the trailing
// window, or no readings at all.
type NoRecentData struct {
	Field      string
	WithinDays int
}

// MessageUnacknowledged matches when the patient has at least one urgent,
// unread message.
type MessageUnacknowledged struct{}

// Compound combines child nodes with and/or. Children is never empty for
// a validated rule.
type Compound struct {
	Operator Operator
	Children []RuleNode
}

func (c *Comparison) Op() Operator            { return c.Operator }
func (p *PctDrop) Op() Operator               { return OpPctDrop }
func (m *MedInList) Op() Operator             { return OpMedInList }
func (n *NoRecentData) Op() Operator          { return OpNoRecentData }
func (m *MessageUnacknowledged) Op() Operator { return OpMessageUnacknowledged }
func (c *Compound) Op() Operator              { return c.Operator }

func (*Comparison) sealed()            {}
func (*PctDrop) sealed()               {}
func (*MedInList) sealed()             {}
func (*NoRecentData) sealed()          {}
func (*MessageUnacknowledged) sealed() {}
func (*Compound) sealed()              {}

// RuleDefinition is one entry of the rule catalog: a parsed condition tree
// plus the metadata the alerting UI needs. Hard marks the always-surface,
// non-overridable rule class; it is stored and exposed but carries no
// evaluation semantics yet.
type RuleDefinition struct {
	ID        string
	Name      string
	Node      RuleNode
	Severity  Severity
	Hard      bool
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// EvaluationResult is the outcome of evaluating one rule node. Reason is
// always non-empty, on the matched and unmatched paths alike; the alerting
// UI renders it verbatim and it doubles as the audit trail.
type EvaluationResult struct {
	Matched  bool     `json:"matched"`
	Reason   string   `json:"reason"`
	Operator Operator `json:"operator"`
}

// MatchedRule pairs a matched rule's identity with its result.
type MatchedRule struct {
	RuleID   string           `json:"ruleId"`
	Name     string           `json:"name"`
	Severity Severity         `json:"severity"`
	Result   EvaluationResult `json:"result"`
}
