package rules

import (
	"fmt"
	"strconv"
	"strings"
)

// MaxRuleDepth is the defensive ceiling on condition-tree nesting. A
// validated rule never gets near it; it guards against malformed,
// admin-authored JSON exhausting the stack.
const MaxRuleDepth = 32

const dateLayout = "2006-01-02"

const excerptLen = 40

// EvaluateRule evaluates a single rule node against a patient snapshot.
// It is pure and total over the closed RuleNode set: it never errors for a
// well-formed tree, and every branch produces a non-empty reason. Missing
// patient data is an expected outcome, not a failure.
func EvaluateRule(node RuleNode, pc *PatientContext) EvaluationResult {
	return evaluateNode(node, pc, 0)
}

func evaluateNode(node RuleNode, pc *PatientContext, depth int) EvaluationResult {
	if depth >= MaxRuleDepth {
		return EvaluationResult{
			Matched:  false,
			Reason:   fmt.Sprintf("Rule tree exceeds maximum nesting depth of %d", MaxRuleDepth),
			Operator: node.Op(),
		}
	}

	switch n := node.(type) {
	case *Comparison:
		return evalComparison(n, pc)
	case *PctDrop:
		return evalPctDrop(n, pc)
	case *MedInList:
		return evalMedInList(n, pc)
	case *NoRecentData:
		return evalNoRecentData(n, pc)
	case *MessageUnacknowledged:
		return evalMessageUnacknowledged(pc)
	case *Compound:
		return evalCompound(n, pc, depth)
	default:
		// Unreachable: RuleNode is sealed to this package. A new variant
		// without a dispatch arm must fail here, loudly, not fall through
		// to a silent non-match.
		panic(fmt.Sprintf("rules: unhandled rule node type %T", node))
	}
}

// evalComparison compares the field's latest value against the threshold.
func evalComparison(n *Comparison, pc *PatientContext) EvaluationResult {
	res := EvaluationResult{Operator: n.Operator}

	fv, ok := resolveField(pc, n.Field)
	if !ok {
		res.Reason = fmt.Sprintf("No data available for %s", n.Field)
		return res
	}
	value, ok := fv.latestScalar()
	if !ok {
		res.Reason = fmt.Sprintf("No data available for %s", n.Field)
		return res
	}

	var matched bool
	var symbol string
	switch n.Operator {
	case OpGreaterThan:
		matched, symbol = value > n.Threshold, ">"
	case OpLessThan:
		matched, symbol = value < n.Threshold, "<"
	case OpGreaterOrEqual:
		matched, symbol = value >= n.Threshold, ">="
	case OpLessOrEqual:
		matched, symbol = value <= n.Threshold, "<="
	case OpEqual:
		matched, symbol = value == n.Threshold, "="
	default:
		panic(fmt.Sprintf("rules: invalid comparison operator %q", n.Operator))
	}

	res.Matched = matched
	if matched {
		res.Reason = fmt.Sprintf("value %s %s threshold %s",
			formatNumber(value), symbol, formatNumber(n.Threshold))
	} else {
		res.Reason = fmt.Sprintf("value %s not %s threshold %s",
			formatNumber(value), symbol, formatNumber(n.Threshold))
	}
	return res
}

// evalPctDrop detects a decline of at least ThresholdPercent between the
// earliest and latest readings inside the trailing window. A rising series
// produces a negative drop, which never satisfies a positive threshold:
// this operator only detects decline.
func evalPctDrop(n *PctDrop, pc *PatientContext) EvaluationResult {
	res := EvaluationResult{Operator: OpPctDrop}

	windowStart := pc.Now.AddDate(0, 0, -n.WithinDays)

	var window []LabPoint
	if fv, ok := resolveField(pc, n.Field); ok && fv.series != nil {
		for _, p := range fv.series.Values {
			if !p.Date.Before(windowStart) && !p.Date.After(pc.Now) {
				window = append(window, p)
			}
		}
	}

	if len(window) < 2 {
		res.Reason = "Insufficient data points to compute trend"
		return res
	}

	earliest, latest := window[0], window[0]
	for _, p := range window[1:] {
		if p.Date.Before(earliest.Date) {
			earliest = p
		}
		if p.Date.After(latest.Date) {
			latest = p
		}
	}

	if earliest.Value == 0 {
		res.Reason = "Cannot compute percent drop from zero baseline"
		return res
	}

	dropPct := (earliest.Value - latest.Value) / earliest.Value * 100
	res.Matched = dropPct >= n.ThresholdPercent
	res.Reason = fmt.Sprintf("Dropped %s%% (from %s on %s to %s on %s)",
		strconv.FormatFloat(dropPct, 'f', 1, 64),
		formatNumber(earliest.Value), earliest.Date.Format(dateLayout),
		formatNumber(latest.Value), latest.Date.Format(dateLayout))
	return res
}

// evalMedInList scans active medications, in order, for the first
// case-insensitive substring hit against the targets, in order.
func evalMedInList(n *MedInList, pc *PatientContext) EvaluationResult {
	res := EvaluationResult{Operator: OpMedInList}

	if len(pc.Medications) == 0 {
		res.Reason = "No active medications on record"
		return res
	}

	for _, med := range pc.Medications {
		lowered := strings.ToLower(med)
		for _, target := range n.Targets {
			if strings.Contains(lowered, strings.ToLower(target)) {
				res.Matched = true
				// Original casing of the medication string, so the
				// clinician recognizes the entry from the chart.
				res.Reason = fmt.Sprintf("%s matches target '%s'", med, target)
				return res
			}
		}
	}

	res.Reason = fmt.Sprintf("No medication matches targets: %s", strings.Join(n.Targets, ", "))
	return res
}

// evalNoRecentData matches when the lab has no reading inside the window.
// The no-data-at-all branch matches too, with a distinct reason, because a
// lab that was never measured is itself a red flag.
func evalNoRecentData(n *NoRecentData, pc *PatientContext) EvaluationResult {
	res := EvaluationResult{Operator: OpNoRecentData}

	fv, ok := resolveField(pc, n.Field)
	if !ok || fv.series == nil {
		res.Matched = true
		res.Reason = fmt.Sprintf("No data on record for %s", n.Field)
		return res
	}
	latest, ok := fv.series.latestPoint()
	if !ok {
		res.Matched = true
		res.Reason = fmt.Sprintf("No data on record for %s", n.Field)
		return res
	}

	daysSince := pc.Now.Sub(latest.Date).Hours() / 24
	if daysSince > float64(n.WithinDays) {
		res.Matched = true
		res.Reason = fmt.Sprintf("No data in last %d days", n.WithinDays)
	} else {
		res.Reason = fmt.Sprintf("Most recent data from %s", latest.Date.Format(dateLayout))
	}
	return res
}

// evalMessageUnacknowledged matches when at least one urgent message is
// still unread.
func evalMessageUnacknowledged(pc *PatientContext) EvaluationResult {
	res := EvaluationResult{Operator: OpMessageUnacknowledged}

	count := 0
	var excerpt string
	for _, m := range pc.Messages {
		if m.IsUrgent && !m.IsRead {
			if count == 0 {
				excerpt = truncate(m.Text, excerptLen)
			}
			count++
		}
	}

	if count == 0 {
		res.Reason = "No unread urgent messages"
		return res
	}
	res.Matched = true
	res.Reason = fmt.Sprintf("%d unread urgent message(s), e.g. %q", count, excerpt)
	return res
}

// evalCompound evaluates every child, even after an early decisive result:
// the reason must report how many of the N conditions matched, which
// requires all N results.
func evalCompound(n *Compound, pc *PatientContext, depth int) EvaluationResult {
	res := EvaluationResult{Operator: n.Operator}

	matched := 0
	for _, child := range n.Children {
		if evaluateNode(child, pc, depth+1).Matched {
			matched++
		}
	}

	total := len(n.Children)
	switch n.Operator {
	case OpAnd:
		res.Matched = total > 0 && matched == total
	case OpOr:
		res.Matched = matched > 0
	default:
		panic(fmt.Sprintf("rules: invalid compound operator %q", n.Operator))
	}

	res.Reason = fmt.Sprintf("%d of %d conditions matched", matched, total)
	return res
}

// formatNumber renders a float the way the rule author wrote it: no
// trailing zeros, no exponent for clinical-range values.
func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
