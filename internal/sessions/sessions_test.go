package sessions

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/agentgate/agentgate/pkg/models"
)

func TestCreateAndGetSession(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	sess, err := s.Create(ctx, "summarizer")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if sess.ID == "" {
		t.Fatal("session id should be assigned")
	}
	if sess.AgentID != "summarizer" {
		t.Errorf("agent id: got %q", sess.AgentID)
	}

	got, err := s.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ID != sess.ID || len(got.Events) != 0 {
		t.Errorf("fresh session should be empty: %+v", got)
	}
}

func TestAppendEventsPreservesOrder(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	sess, _ := s.Create(ctx, "summarizer")

	for i := 0; i < 3; i++ {
		err := s.AppendEvents(ctx, sess.ID, []models.Event{
			{Role: "user", Content: fmt.Sprintf("u%d", i)},
			{Role: "assistant", Content: fmt.Sprintf("a%d", i)},
		})
		if err != nil {
			t.Fatalf("AppendEvents: %v", err)
		}
	}

	got, err := s.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got.Events) != 6 {
		t.Fatalf("expected 6 events, got %d", len(got.Events))
	}
	want := []string{"u0", "a0", "u1", "a1", "u2", "a2"}
	for i, ev := range got.Events {
		if ev.Content != want[i] {
			t.Errorf("event %d: got %q, want %q", i, ev.Content, want[i])
		}
		if ev.TS == "" {
			t.Errorf("event %d missing timestamp", i)
		}
	}
}

func TestAppendCarriesMeta(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	sess, _ := s.Create(ctx, "summarizer")

	err := s.AppendEvents(ctx, sess.ID, []models.Event{
		{Role: "user", Content: "hi", Meta: map[string]any{"agent": "summarizer"}},
	})
	if err != nil {
		t.Fatalf("AppendEvents: %v", err)
	}
	got, _ := s.Get(ctx, sess.ID)
	if got.Events[0].Meta["agent"] != "summarizer" {
		t.Errorf("event meta not preserved: %+v", got.Events[0].Meta)
	}
}

func TestUnknownSession(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	var notFound *ErrNotFound
	if _, err := s.Get(ctx, "ghost"); !errors.As(err, &notFound) {
		t.Errorf("Get: expected ErrNotFound, got %v", err)
	}
	if err := s.AppendEvents(ctx, "ghost", []models.Event{{Role: "user", Content: "x"}}); !errors.As(err, &notFound) {
		t.Errorf("AppendEvents: expected ErrNotFound, got %v", err)
	}
}

func TestGetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	sess, _ := s.Create(ctx, "summarizer")
	s.AppendEvents(ctx, sess.ID, []models.Event{{Role: "user", Content: "original"}})

	got, _ := s.Get(ctx, sess.ID)
	got.Events[0].Content = "mutated"

	again, _ := s.Get(ctx, sess.ID)
	if again.Events[0].Content != "original" {
		t.Error("mutating a returned session should not affect stored state")
	}
}
