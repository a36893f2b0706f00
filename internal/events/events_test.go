package events

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
)

func TestSubject(t *testing.T) {
	cases := []struct {
		conv, status, want string
	}{
		{"c1", StatusCompleted, "chat.c1.job.completed"},
		{"c1", StatusFailed, "chat.c1.job.failed"},
		{"", StatusFailed, "chat._.job.failed"},
	}
	for _, c := range cases {
		if got := Subject(c.conv, c.status); got != c.want {
			t.Fatalf("Subject(%q, %q) = %q; want %q", c.conv, c.status, got, c.want)
		}
	}
}

func TestNop(t *testing.T) {
	var p Publisher = Nop{}
	if err := p.Publish(context.Background(), JobEvent{JobID: "j1"}); err != nil {
		t.Fatalf("Nop.Publish: %v", err)
	}
	p.Close()
}

func TestConnect_EmptyURL(t *testing.T) {
	if _, err := Connect(context.Background(), "", zerolog.Nop()); err == nil {
		t.Fatalf("expected error for empty url")
	}
}
