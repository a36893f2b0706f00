// Package prompt renders the text sent to the generation endpoint. Every
// function is pure: the same inputs always produce the same prompt.
package prompt

import (
	"fmt"
	"strings"

	"github.com/tbourn/assessment-chat/internal/domain"
	"github.com/tbourn/assessment-chat/internal/llm"
)

// DefaultMaxHistory caps follow-up history when the caller passes <= 0.
const DefaultMaxHistory = 20

const (
	notSpecified = "not specified"
	noneReported = "none reported"
)

// Persona is the fixed instruction that opens every prompt.
const Persona = `You are a supportive, knowledgeable menstrual health assistant.
You help people understand their cycle assessment results in plain language.
Be warm and concise, avoid alarming language, and never diagnose.
Encourage the user to consult a healthcare professional for persistent pain, very irregular cycles, or any symptom that worries them.`

// BuildInitialPrompt renders the system prompt for a brand-new conversation.
// Missing assessment fields render as placeholders instead of failing.
func BuildInitialPrompt(a *domain.AssessmentSnapshot) string {
	var b strings.Builder
	b.WriteString(Persona)
	b.WriteString("\n\nAssessment summary:\n")
	b.WriteString(renderAssessment(a))
	b.WriteString("\nOpen the conversation by briefly acknowledging these results, then answer the user's message.")
	return b.String()
}

// WithUserMessage appends the user's first message to an initial prompt so
// both travel as one combined prompt.
func WithUserMessage(system, message string) string {
	message = strings.TrimSpace(message)
	if message == "" {
		return system
	}
	return system + "\n\nUser message:\n" + message
}

// BuildFollowUpPrompt returns a chat history: one system turn carrying the
// persona and the assessment pattern, followed by the most recent maxHistory
// prior messages in chronological order. System-role messages from the
// history are dropped since the system turn is rebuilt here.
func BuildFollowUpPrompt(pattern string, prior []domain.Message, maxHistory int) []llm.ChatMessage {
	if maxHistory <= 0 {
		maxHistory = DefaultMaxHistory
	}
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		pattern = "unknown"
	}

	turns := make([]domain.Message, 0, len(prior))
	for _, m := range prior {
		if m.Role == domain.RoleUser || m.Role == domain.RoleAssistant {
			turns = append(turns, m)
		}
	}
	if len(turns) > maxHistory {
		turns = turns[len(turns)-maxHistory:]
	}

	out := make([]llm.ChatMessage, 0, len(turns)+1)
	out = append(out, llm.ChatMessage{
		Role:    llm.RoleSystem,
		Content: fmt.Sprintf("%s\n\nThe user's assessment pattern is: %s.", Persona, pattern),
	})
	for _, m := range turns {
		out = append(out, llm.ChatMessage{Role: m.Role, Content: m.Content})
	}
	return out
}

// renderAssessment flattens the snapshot into "- label: value" lines.
func renderAssessment(a *domain.AssessmentSnapshot) string {
	if a == nil {
		a = &domain.AssessmentSnapshot{}
	}
	lines := []struct{ label, value string }{
		{"Cycle pattern", orDefault(a.Pattern, notSpecified)},
		{"Cycle length", intWithUnit(a.CycleLength, "days")},
		{"Period duration", intWithUnit(a.PeriodDuration, "days")},
		{"Pain level", painLevel(a.PainLevel)},
		{"Physical symptoms", list(a.PhysicalSymptoms)},
		{"Emotional symptoms", list(a.EmotionalSymptoms)},
	}
	var b strings.Builder
	for _, l := range lines {
		b.WriteString("- ")
		b.WriteString(l.label)
		b.WriteString(": ")
		b.WriteString(l.value)
		b.WriteByte('\n')
	}
	return b.String()
}

func orDefault(s, def string) string {
	if s = strings.TrimSpace(s); s == "" {
		return def
	}
	return s
}

func intWithUnit(v *int, unit string) string {
	if v == nil {
		return notSpecified
	}
	return fmt.Sprintf("%d %s", *v, unit)
}

func painLevel(v *int) string {
	if v == nil {
		return notSpecified
	}
	return fmt.Sprintf("%d/10", *v)
}

func list(items []string) string {
	kept := make([]string, 0, len(items))
	for _, s := range items {
		if s = strings.TrimSpace(s); s != "" {
			kept = append(kept, s)
		}
	}
	if len(kept) == 0 {
		return noneReported
	}
	return strings.Join(kept, ", ")
}
