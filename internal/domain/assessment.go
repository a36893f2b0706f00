package domain

// AssessmentSnapshot is the read-only view of a user's cycle assessment that
// is embedded into prompts. Assessments themselves are owned by an external
// service; only a snapshot travels with conversations and jobs.
type AssessmentSnapshot struct {
	ID                string   `json:"id,omitempty"`
	Pattern           string   `json:"pattern,omitempty"`
	CycleLength       *int     `json:"cycle_length,omitempty"`
	PeriodDuration    *int     `json:"period_duration,omitempty"`
	PainLevel         *int     `json:"pain_level,omitempty"`
	PhysicalSymptoms  []string `json:"physical_symptoms,omitempty"`
	EmotionalSymptoms []string `json:"emotional_symptoms,omitempty"`
}

// PatternOrDefault returns the assessment pattern, or "unknown" when the
// snapshot is nil or has no pattern.
func (a *AssessmentSnapshot) PatternOrDefault() string {
	if a == nil || a.Pattern == "" {
		return "unknown"
	}
	return a.Pattern
}
