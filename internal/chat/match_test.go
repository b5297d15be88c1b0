package chat

import (
	"testing"
	"time"

	"ChatCore/entity"
)

func TestMatchByToken(t *testing.T) {
	m := NewMatcher(false)
	base := time.Now()
	log := []entity.Message{
		{LocalID: "tok-1", SenderID: "u-1", Text: "one", State: entity.DeliveryPending, CreatedAt: base},
		{LocalID: "tok-2", SenderID: "u-1", Text: "two", State: entity.DeliveryPending, CreatedAt: base},
	}

	idx := m.Match(log, entity.Message{ID: "m-5", SenderID: "u-1", Text: "two"}, "tok-2")
	if idx != 1 {
		t.Fatalf("idx = %d, want 1", idx)
	}
}

func TestMatchTokenWinsOverHeuristic(t *testing.T) {
	// Two pendings with identical body; the token must pick the right one even
	// though the heuristic would accept the first.
	m := NewMatcher(false)
	base := time.Now()
	log := []entity.Message{
		{LocalID: "tok-1", SenderID: "u-1", Text: "same", State: entity.DeliveryPending, CreatedAt: base},
		{LocalID: "tok-2", SenderID: "u-1", Text: "same", State: entity.DeliveryPending, CreatedAt: base},
	}

	idx := m.Match(log, entity.Message{SenderID: "u-1", Text: "same", CreatedAt: base}, "tok-2")
	if idx != 1 {
		t.Fatalf("idx = %d, want 1", idx)
	}
}

func TestMatchByServerID(t *testing.T) {
	m := NewMatcher(false)
	log := []entity.Message{
		{ID: "m-1", SenderID: "u-2", Text: "hi", State: entity.DeliveryConfirmed},
	}

	idx := m.Match(log, entity.Message{ID: "m-1", SenderID: "u-2", Text: "hi"}, "")
	if idx != 0 {
		t.Fatalf("idx = %d, want 0", idx)
	}
}

func TestMatchHeuristic(t *testing.T) {
	base := time.Now()
	log := []entity.Message{
		{LocalID: "tok-1", SenderID: "u-1", Text: "hello", State: entity.DeliveryPending, CreatedAt: base},
	}

	tests := []struct {
		name    string
		confirm entity.Message
		want    int
	}{
		{
			name:    "within tolerance",
			confirm: entity.Message{ID: "m-1", SenderID: "u-1", Text: "hello", CreatedAt: base.Add(10 * time.Second)},
			want:    0,
		},
		{
			name:    "outside tolerance",
			confirm: entity.Message{ID: "m-1", SenderID: "u-1", Text: "hello", CreatedAt: base.Add(20 * time.Second)},
			want:    -1,
		},
		{
			name:    "different sender",
			confirm: entity.Message{ID: "m-1", SenderID: "u-2", Text: "hello", CreatedAt: base},
			want:    -1,
		},
		{
			name:    "different body",
			confirm: entity.Message{ID: "m-1", SenderID: "u-1", Text: "other", CreatedAt: base},
			want:    -1,
		},
	}

	m := NewMatcher(false)
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			// The confirmation carries an unknown token, so only the
			// heuristic can match.
			if idx := m.Match(log, tc.confirm, "tok-other"); idx != tc.want {
				t.Errorf("idx = %d, want %d", idx, tc.want)
			}
		})
	}
}

func TestMatchHeuristicSkipsConfirmed(t *testing.T) {
	base := time.Now()
	log := []entity.Message{
		{ID: "m-1", SenderID: "u-1", Text: "hello", State: entity.DeliveryConfirmed, CreatedAt: base},
	}

	m := NewMatcher(false)
	if idx := m.Match(log, entity.Message{ID: "m-2", SenderID: "u-1", Text: "hello", CreatedAt: base}, ""); idx != -1 {
		t.Fatalf("idx = %d, want -1", idx)
	}
}

func TestMatchHeuristicDisabled(t *testing.T) {
	base := time.Now()
	log := []entity.Message{
		{LocalID: "tok-1", SenderID: "u-1", Text: "hello", State: entity.DeliveryPending, CreatedAt: base},
	}

	m := NewMatcher(true)
	if idx := m.Match(log, entity.Message{ID: "m-1", SenderID: "u-1", Text: "hello", CreatedAt: base}, ""); idx != -1 {
		t.Fatalf("idx = %d, want -1", idx)
	}
}
