package rules

import (
	"strings"
	"time"
)

// LabPoint is one dated lab reading.
type LabPoint struct {
	Date  time.Time `json:"date"`
	Value float64   `json:"value"`
}

// TimeSeries holds a lab's readings in chronological order. Latest and
// LatestDate are denormalized by the data layer; when nil, the last entry
// of Values is authoritative.
type TimeSeries struct {
	Values     []LabPoint `json:"values"`
	Latest     *float64   `json:"latest,omitempty"`
	LatestDate *time.Time `json:"latestDate,omitempty"`
}

// latestPoint returns the most recent reading by date, or false when the
// series has no readings at all.
func (ts TimeSeries) latestPoint() (LabPoint, bool) {
	if ts.Latest != nil && ts.LatestDate != nil {
		return LabPoint{Date: *ts.LatestDate, Value: *ts.Latest}, true
	}
	if len(ts.Values) == 0 {
		return LabPoint{}, false
	}
	best := ts.Values[0]
	for _, p := range ts.Values[1:] {
		if p.Date.After(best.Date) {
			best = p
		}
	}
	return best, true
}

// Message is one inbox entry of the patient's care thread.
type Message struct {
	Text      string    `json:"text"`
	IsUrgent  bool      `json:"isUrgent"`
	IsRead    bool      `json:"isRead"`
	Timestamp time.Time `json:"timestamp"`
}

// PatientContext is the immutable snapshot one evaluation pass runs
// against. Now is injected by the caller, never read from the system
// clock, so window math is reproducible for audit.
type PatientContext struct {
	Labs        map[string]TimeSeries `json:"labs"`
	Vitals      map[string]float64    `json:"vitals"`
	Medications []string              `json:"medications"`
	Messages    []Message             `json:"messages"`
	Now         time.Time             `json:"now"`
}

// Resolvable field roots.
const (
	rootLabs        = "labs"
	rootVitals      = "vitals"
	rootMedications = "medications"
	rootMessages    = "messages"
)

// fieldValue is the result of resolving a dotted field path. Exactly one
// of the members is populated, according to the root the path named.
type fieldValue struct {
	series   *TimeSeries
	scalar   *float64
	meds     []string
	messages []Message
}

// resolveField resolves a dotted path ("labs.<name>", "vitals.<name>") or
// bare identifier ("medications", "messages") against the snapshot. The
// second return is false when the key does not exist at all; a key that
// exists with an empty value list resolves with ok=true, so evaluators can
// tell "never measured" apart from "present but sparse".
func resolveField(pc *PatientContext, path string) (fieldValue, bool) {
	root, rest, _ := strings.Cut(path, ".")
	switch root {
	case rootLabs:
		ts, ok := pc.Labs[rest]
		if !ok {
			return fieldValue{}, false
		}
		return fieldValue{series: &ts}, true
	case rootVitals:
		v, ok := pc.Vitals[rest]
		if !ok {
			return fieldValue{}, false
		}
		return fieldValue{scalar: &v}, true
	case rootMedications:
		return fieldValue{meds: pc.Medications}, true
	case rootMessages:
		return fieldValue{messages: pc.Messages}, true
	}
	return fieldValue{}, false
}

// latestScalar reduces a resolved field to its most recent numeric value:
// the scalar itself for vitals, the latest reading for labs. ok=false when
// the field holds no value to compare.
func (fv fieldValue) latestScalar() (float64, bool) {
	if fv.scalar != nil {
		return *fv.scalar, true
	}
	if fv.series != nil {
		if p, ok := fv.series.latestPoint(); ok {
			return p.Value, true
		}
	}
	return 0, false
}
