package generation

import (
	"regexp"
	"strings"

	"github.com/tbourn/assessment-chat/internal/domain"
)

// Intent is the coarse category of a user message used to pick a fallback.
type Intent int

const (
	IntentGeneral Intent = iota
	IntentQuestion
	IntentConcern
)

// String implements fmt.Stringer.
func (i Intent) String() string {
	switch i {
	case IntentQuestion:
		return "question"
	case IntentConcern:
		return "concern"
	default:
		return "general"
	}
}

// Canned replies. They are fixed so that fallback output is deterministic.
const (
	InitialFallback = "Thank you for sharing your assessment. I'm here to help you make sense of your results " +
		"and answer any questions about your cycle. What would you like to talk about first?"

	questionFallback = "That's a great question. I'm having trouble generating a detailed answer right now, " +
		"but please try asking again in a moment. For anything urgent, a healthcare professional is the best person to ask."

	concernFallback = "I hear that this is worrying you, and your concern is valid. I can't give a full answer " +
		"right now, but if symptoms are severe or getting worse, please reach out to a healthcare professional."

	generalFallback = "Thanks for your message. I'm unable to give a full response right now. " +
		"Feel free to share more about your cycle or ask another question, and I'll do my best to help."
)

var (
	wordRE = regexp.MustCompile(`\p{L}+\p{N}*`)

	concernWords = map[string]struct{}{
		"concern": {}, "concerned": {}, "concerns": {}, "concerning": {},
		"worried": {}, "worry": {}, "worries": {}, "worrying": {},
		"anxious": {}, "scared": {}, "afraid": {}, "nervous": {},
	}
	questionWords = map[string]struct{}{
		"question": {}, "questions": {}, "wondering": {}, "explain": {},
	}
)

// Classify maps the last user message to an Intent. Concern keywords win over
// question keywords; a trailing question mark also counts as a question.
func Classify(msg string) Intent {
	toks := tokenize(msg)
	switch {
	case hasAny(toks, concernWords):
		return IntentConcern
	case hasAny(toks, questionWords), strings.HasSuffix(strings.TrimSpace(msg), "?"):
		return IntentQuestion
	default:
		return IntentGeneral
	}
}

// FallbackContent returns the canned reply for req.
func FallbackContent(req Request) string {
	if !req.IsFollowUp() {
		return InitialFallback
	}
	switch Classify(req.LastUserMessage) {
	case IntentQuestion:
		return questionFallback
	case IntentConcern:
		return concernFallback
	default:
		return generalFallback
	}
}

// Fallback builds the structurally valid result used when generation fails.
func Fallback(req Request) *Result {
	return &Result{
		Content: FallbackContent(req),
		Metadata: domain.MessageMetadata{
			TokensUsed: 0,
			Confidence: FallbackConfidence,
			Fallback:   true,
		},
	}
}

// tokenize lower-cases s and returns its set of word tokens.
func tokenize(s string) map[string]struct{} {
	words := wordRE.FindAllString(strings.ToLower(s), -1)
	out := make(map[string]struct{}, len(words))
	for _, w := range words {
		out[w] = struct{}{}
	}
	return out
}

func hasAny(toks, set map[string]struct{}) bool {
	for w := range toks {
		if _, ok := set[w]; ok {
			return true
		}
	}
	return false
}
