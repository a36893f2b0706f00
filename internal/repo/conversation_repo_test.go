package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tbourn/assessment-chat/internal/domain"
)

func TestConversation_CreateGetListCount(t *testing.T) {
	db := newTestDB(t, &domain.Conversation{}, &domain.Message{})
	ctx := context.Background()

	aid := "a-1"
	c1, err := CreateConversation(ctx, db, "u1", &aid, "first")
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	if c1.ID == "" || c1.CreatedAt.IsZero() || c1.AssessmentID == nil || *c1.AssessmentID != "a-1" {
		t.Fatalf("unexpected conversation: %+v", c1)
	}
	c2, _ := CreateConversation(ctx, db, "u1", nil, "second")
	_, _ = CreateConversation(ctx, db, "u2", nil, "other")

	// c2 becomes the most recently active.
	if err := TouchConversation(ctx, db, c2.ID, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("TouchConversation: %v", err)
	}

	got, err := GetConversation(ctx, db, c1.ID)
	if err != nil || got.Title != "first" || got.UserID != "u1" {
		t.Fatalf("GetConversation = (%+v, %v)", got, err)
	}
	if _, err := GetConversation(ctx, db, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	n, err := CountConversations(ctx, db, "u1")
	if err != nil || n != 2 {
		t.Fatalf("CountConversations = (%d, %v)", n, err)
	}
	page, err := ListConversationsPage(ctx, db, "u1", 0, 10)
	if err != nil || len(page) != 2 {
		t.Fatalf("ListConversationsPage = (%d, %v)", len(page), err)
	}
	if page[0].ID != c2.ID {
		t.Fatalf("expected most recently updated first, got %s", page[0].ID)
	}
}

func TestConversation_UpdatePreviewAndTitle(t *testing.T) {
	db := newTestDB(t, &domain.Conversation{})
	ctx := context.Background()

	c, _ := CreateConversation(ctx, db, "u1", nil, "t")
	at := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	if err := UpdatePreview(ctx, db, c.ID, "latest reply", at); err != nil {
		t.Fatalf("UpdatePreview: %v", err)
	}
	if err := UpdateConversationTitle(ctx, db, c.ID, "renamed"); err != nil {
		t.Fatalf("UpdateConversationTitle: %v", err)
	}
	got, _ := GetConversation(ctx, db, c.ID)
	if got.Preview != "latest reply" || got.Title != "renamed" || !got.UpdatedAt.Equal(at) {
		t.Fatalf("unexpected row: %+v", got)
	}
	if err := UpdatePreview(ctx, db, "missing", "x", at); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestConversation_DeleteRemovesMessages(t *testing.T) {
	db := newTestDB(t, &domain.Conversation{}, &domain.Message{})
	ctx := context.Background()

	c, _ := CreateConversation(ctx, db, "u1", nil, "t")
	if err := CreateMessage(ctx, db, &domain.Message{ConversationID: c.ID, Seq: 1, Role: domain.RoleUser, Content: "hi"}); err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}

	if err := DeleteConversation(ctx, db, c.ID, "someone-else"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for wrong owner, got %v", err)
	}
	// The wrong-owner attempt rolled back, messages still there.
	if n, _ := CountMessages(ctx, db, c.ID); n != 1 {
		t.Fatalf("expected message to survive rollback, got %d", n)
	}

	if err := DeleteConversation(ctx, db, c.ID, "u1"); err != nil {
		t.Fatalf("DeleteConversation: %v", err)
	}
	if n, _ := CountMessages(ctx, db, c.ID); n != 0 {
		t.Fatalf("expected messages deleted, got %d", n)
	}
}

func TestListConversationIDs_Pages(t *testing.T) {
	db := newTestDB(t, &domain.Conversation{})
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if _, err := CreateConversation(ctx, db, "u1", nil, "t"); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	var all []string
	after := ""
	for {
		ids, err := ListConversationIDs(ctx, db, after, 2)
		if err != nil {
			t.Fatalf("ListConversationIDs: %v", err)
		}
		if len(ids) == 0 {
			break
		}
		all = append(all, ids...)
		after = ids[len(ids)-1]
	}
	if len(all) != 5 {
		t.Fatalf("expected 5 ids, got %d", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i-1] >= all[i] {
			t.Fatalf("ids not ascending: %v", all)
		}
	}
}
