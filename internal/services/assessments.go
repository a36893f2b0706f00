package services

import (
	"context"
	"sync"

	"github.com/tbourn/assessment-chat/internal/domain"
)

// AssessmentProvider resolves the assessment a conversation is anchored to.
// Implementations return (nil, nil) when the assessment is unknown; prompts
// then render placeholders instead of failing.
type AssessmentProvider interface {
	GetAssessment(ctx context.Context, userID, assessmentID string) (*domain.AssessmentSnapshot, error)
}

// StaticAssessments is an in-memory AssessmentProvider keyed by assessment id.
type StaticAssessments struct {
	mu   sync.RWMutex
	byID map[string]domain.AssessmentSnapshot
}

// NewStaticAssessments returns a provider preloaded with snaps.
func NewStaticAssessments(snaps ...domain.AssessmentSnapshot) *StaticAssessments {
	s := &StaticAssessments{byID: make(map[string]domain.AssessmentSnapshot, len(snaps))}
	for _, a := range snaps {
		s.Put(a)
	}
	return s
}

// Put stores or replaces a snapshot.
func (s *StaticAssessments) Put(a domain.AssessmentSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[a.ID] = a
}

// GetAssessment returns a copy of the stored snapshot, or nil when unknown.
func (s *StaticAssessments) GetAssessment(_ context.Context, _ string, assessmentID string) (*domain.AssessmentSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.byID[assessmentID]
	if !ok {
		return nil, nil
	}
	return &a, nil
}
