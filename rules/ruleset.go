package rules

import "sort"

// GetMatchedRules evaluates each definition independently against the same
// snapshot and returns only the matches, in input order. Definitions share
// no state, so a pathological rule cannot poison its neighbors.
func GetMatchedRules(defs []*RuleDefinition, pc *PatientContext) []*MatchedRule {
	matched := make([]*MatchedRule, 0, len(defs))
	for _, def := range defs {
		result := EvaluateRule(def.Node, pc)
		if !result.Matched {
			continue
		}
		matched = append(matched, &MatchedRule{
			RuleID:   def.ID,
			Name:     def.Name,
			Severity: def.Severity,
			Result:   result,
		})
	}
	return matched
}

// SortBySeverity orders matched rules by descending severity rank,
// critical first. The sort is stable: equal-severity entries keep their
// relative input order. The input slice is not modified.
func SortBySeverity(matched []*MatchedRule) []*MatchedRule {
	out := make([]*MatchedRule, len(matched))
	copy(out, matched)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Severity.Rank() > out[j].Severity.Rank()
	})
	return out
}
