package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/beanhealth/redflag/nutrition"
	"github.com/beanhealth/redflag/rules"
)

// API request and response models.

// CreateClinicRequest is the body for registering a clinic.
type CreateClinicRequest struct {
	Name string `json:"name"`
}

// ClinicResponse is a clinic in API responses.
type ClinicResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

// ClinicsListResponse lists registered clinics.
type ClinicsListResponse struct {
	Clinics []ClinicResponse `json:"clinics"`
}

// CreateRuleRequest is the body for authoring a rule. Rule carries the
// condition tree in the authored wire format.
type CreateRuleRequest struct {
	Name     string          `json:"name"`
	Rule     json.RawMessage `json:"rule"`
	Severity string          `json:"severity"`
	Hard     bool            `json:"hard"`
	Active   bool            `json:"active"`
}

// UpdateRuleRequest is the body for editing a rule.
type UpdateRuleRequest struct {
	Name     string          `json:"name"`
	Rule     json.RawMessage `json:"rule"`
	Severity string          `json:"severity"`
	Hard     bool            `json:"hard"`
	Active   bool            `json:"active"`
}

// RuleResponse is a rule definition in API responses.
type RuleResponse struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Rule      json.RawMessage `json:"rule"`
	Severity  string          `json:"severity"`
	Hard      bool            `json:"hard"`
	Active    bool            `json:"active"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

func toRuleResponse(def *rules.RuleDefinition) (RuleResponse, error) {
	ruleJSON, err := json.Marshal(def.Node)
	if err != nil {
		return RuleResponse{}, fmt.Errorf("failed to encode rule tree: %w", err)
	}
	return RuleResponse{
		ID:        def.ID,
		Name:      def.Name,
		Rule:      ruleJSON,
		Severity:  string(def.Severity),
		Hard:      def.Hard,
		Active:    def.Active,
		CreatedAt: def.CreatedAt,
		UpdatedAt: def.UpdatedAt,
	}, nil
}

// RulesListResponse lists a clinic's active rules.
type RulesListResponse struct {
	Rules []RuleResponse `json:"rules"`
}

// PatientSnapshot is the patient data snapshot in request bodies. Now is
// a pointer so a missing timestamp is detectable: the evaluator never
// substitutes the wall clock.
type PatientSnapshot struct {
	Labs        map[string]rules.TimeSeries `json:"labs"`
	Vitals      map[string]float64          `json:"vitals"`
	Medications []string                    `json:"medications"`
	Messages    []rules.Message             `json:"messages"`
	Now         *time.Time                  `json:"now"`
}

func (s *PatientSnapshot) toContext() (*rules.PatientContext, error) {
	if s.Now == nil || s.Now.IsZero() {
		return nil, fmt.Errorf("patient snapshot requires an explicit now timestamp")
	}
	return &rules.PatientContext{
		Labs:        s.Labs,
		Vitals:      s.Vitals,
		Medications: s.Medications,
		Messages:    s.Messages,
		Now:         *s.Now,
	}, nil
}

// EvaluateRequest is the body for a rule-set evaluation pass. When Rules
// is set, only those catalog rules are evaluated and all their results
// (matched or not) are returned for debugging.
type EvaluateRequest struct {
	Patient PatientSnapshot `json:"patient"`
	Rules   []string        `json:"rules,omitempty"`
}

// EvaluateResponse carries the severity-sorted matched rules of a full
// pass.
type EvaluateResponse struct {
	Alerts         []*rules.MatchedRule `json:"alerts"`
	EvaluationTime string               `json:"evaluationTime"`
}

// RuleResultResponse pairs a rule ID with its evaluation result.
type RuleResultResponse struct {
	RuleID string                 `json:"ruleId"`
	Result rules.EvaluationResult `json:"result"`
}

// PreviewRequest is the body for evaluating an unsaved rule against a
// snapshot.
type PreviewRequest struct {
	Rule    json.RawMessage `json:"rule"`
	Patient PatientSnapshot `json:"patient"`
}

// FlaggedRecipe is a recipe together with the renal-diet limits it
// exceeds.
type FlaggedRecipe struct {
	nutrition.Recipe
	Flags []nutrition.Flag `json:"flags,omitempty"`
}

// RecipesResponse lists recipes for the nutrition endpoint.
type RecipesResponse struct {
	Recipes []FlaggedRecipe `json:"recipes"`
}

// ErrorResponse is the error envelope for all endpoints.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// HealthResponse is the health check envelope.
type HealthResponse struct {
	Status        string `json:"status"`
	ClinicsLoaded int    `json:"clinicsLoaded"`
}
