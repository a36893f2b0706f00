package repo

import (
	"context"
	"testing"
	"time"

	"github.com/tbourn/assessment-chat/internal/domain"
)

func TestGetIdempotency_NoConversationID_ReturnsNotFound(t *testing.T) {
	db := newTestDB(t, &domain.Idempotency{})
	now := time.Now().UTC()

	rec, err := GetIdempotency(context.Background(), db, "u1", "   ", "k1", now)
	if rec != nil || err != ErrNotFound {
		t.Fatalf("expected (nil, ErrNotFound) for empty conversationID, got (%v, %v)", rec, err)
	}
}

func TestGetIdempotency_ExpiredOrMissing_ReturnsNotFound(t *testing.T) {
	db := newTestDB(t, &domain.Idempotency{})
	now := time.Now().UTC()

	exp := &domain.Idempotency{
		ID:             "expired",
		UserID:         "u1",
		ConversationID: "c1",
		Key:            "k1",
		MessageID:      "m0",
		Status:         200,
		CreatedAt:      now.Add(-2 * time.Hour),
		ExpiresAt:      now.Add(-time.Hour),
	}
	if err := db.Create(exp).Error; err != nil {
		t.Fatalf("seed expired: %v", err)
	}

	rec, err := GetIdempotency(context.Background(), db, "u1", "c1", "k1", now)
	if rec != nil || err != ErrNotFound {
		t.Fatalf("expected (nil, ErrNotFound) for expired, got (%v, %v)", rec, err)
	}

	rec2, err2 := GetIdempotency(context.Background(), db, "u1", "c1", "missing", now)
	if rec2 != nil || err2 != ErrNotFound {
		t.Fatalf("expected (nil, ErrNotFound) for missing, got (%v, %v)", rec2, err2)
	}
}

func TestGetIdempotency_Success(t *testing.T) {
	db := newTestDB(t, &domain.Idempotency{})
	now := time.Now().UTC()

	ok := &domain.Idempotency{
		ID:             "ok",
		UserID:         "u1",
		ConversationID: "c2",
		Key:            "k2",
		MessageID:      "m1",
		Status:         201,
		CreatedAt:      now.Add(-time.Minute),
		ExpiresAt:      now.Add(time.Hour),
	}
	if err := db.Create(ok).Error; err != nil {
		t.Fatalf("seed ok: %v", err)
	}

	rec, err := GetIdempotency(context.Background(), db, "u1", "c2", "k2", now)
	if err != nil {
		t.Fatalf("GetIdempotency success err: %v", err)
	}
	if rec == nil || rec.MessageID != "m1" || rec.Status != 201 {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestCreateIdempotency_SuccessAndDuplicate(t *testing.T) {
	db := newTestDB(t, &domain.Idempotency{})

	ttl := 90 * time.Minute
	start := time.Now().UTC()

	rec, err := CreateIdempotency(context.Background(), db, "u9", "c9", "k9", "m9", 202, ttl)
	if err != nil {
		t.Fatalf("CreateIdempotency error: %v", err)
	}
	if rec == nil || rec.ID == "" || rec.UserID != "u9" || rec.ConversationID != "c9" || rec.Key != "k9" || rec.MessageID != "m9" || rec.Status != 202 {
		t.Fatalf("unexpected record: %+v", rec)
	}
	// Loose bound to avoid timing flakes.
	if !(rec.ExpiresAt.After(start) && rec.ExpiresAt.Before(start.Add(2*time.Hour))) {
		t.Fatalf("unexpected ExpiresAt: %v", rec.ExpiresAt)
	}

	_, err2 := CreateIdempotency(context.Background(), db, "u9", "c9", "k9", "mX", 200, ttl)
	if err2 != ErrDuplicate {
		t.Fatalf("expected ErrDuplicate, got %v", err2)
	}
}

// Generic DB error path: attempt insert without migrating the table.
func TestCreateIdempotency_Error_NoTable(t *testing.T) {
	db := newTestDB(t) // intentionally NOT migrating
	_, err := CreateIdempotency(context.Background(), db, "uX", "cX", "kX", "mX", 200, time.Minute)
	if err == nil {
		t.Fatalf("expected error when table is missing")
	}
	if err == ErrDuplicate {
		t.Fatalf("expected non-duplicate error, got ErrDuplicate")
	}
}

func TestPruneIdempotency_RemovesExpiredOnly(t *testing.T) {
	db := newTestDB(t, &domain.Idempotency{})
	now := time.Now().UTC()
	for i, exp := range []time.Time{now.Add(-time.Minute), now.Add(time.Hour)} {
		rec := &domain.Idempotency{
			ID:             []string{"old", "live"}[i],
			UserID:         "u1",
			ConversationID: "c1",
			Key:            []string{"k1", "k2"}[i],
			MessageID:      "m",
			Status:         200,
			CreatedAt:      now.Add(-2 * time.Hour),
			ExpiresAt:      exp,
		}
		if err := db.Create(rec).Error; err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	n, err := PruneIdempotency(context.Background(), db, now)
	if err != nil || n != 1 {
		t.Fatalf("PruneIdempotency = (%d, %v); want (1, nil)", n, err)
	}
	if _, err := GetIdempotency(context.Background(), db, "u1", "c1", "k2", now); err != nil {
		t.Fatalf("live record should survive: %v", err)
	}
}

func TestIsUniqueViolation(t *testing.T) {
	cases := []struct {
		msg  string
		want bool
	}{
		{"UNIQUE constraint failed: idempotency.key", true},
		{"ERROR: duplicate key value violates unique constraint (SQLSTATE 23505)", true},
		{"no such table: idempotency", false},
	}
	for _, tc := range cases {
		if got := isUniqueViolation(errString(tc.msg)); got != tc.want {
			t.Fatalf("isUniqueViolation(%q) = %v; want %v", tc.msg, got, tc.want)
		}
	}
	if isUniqueViolation(nil) {
		t.Fatalf("nil error is not a violation")
	}
}

type errString string

func (e errString) Error() string { return string(e) }
