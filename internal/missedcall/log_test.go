package missedcall

import (
	"context"
	"testing"
	"time"
)

func TestMemoryLogPerUserIsolation(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLog()
	at := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	if err := l.Add(ctx, "alice", Entry{At: at, Number: "bob", Reason: ReasonBusy}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := l.Add(ctx, "alice", Entry{At: at.Add(time.Minute), Number: "carol", Reason: ReasonTimeout}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := l.Add(ctx, "dave", Entry{At: at, Number: "erin", Reason: ReasonTimeout}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	got, err := l.List(ctx, "alice")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("alice has %d entries, want 2", len(got))
	}
	if got[0].Number != "bob" || got[0].Reason != ReasonBusy {
		t.Fatalf("first entry = %+v", got[0])
	}
	if got[1].Number != "carol" || got[1].Reason != ReasonTimeout {
		t.Fatalf("second entry = %+v", got[1])
	}

	if err := l.Clear(ctx, "alice"); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if got, _ := l.List(ctx, "alice"); len(got) != 0 {
		t.Fatalf("alice has %d entries after clear", len(got))
	}
	if got, _ := l.List(ctx, "dave"); len(got) != 1 {
		t.Fatalf("clearing alice touched dave: %d entries", len(got))
	}
}

func TestMemoryLogListReturnsCopy(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLog()
	_ = l.Add(ctx, "alice", Entry{Number: "bob", Reason: ReasonBusy})

	got, _ := l.List(ctx, "alice")
	got[0].Number = "mutated"

	fresh, _ := l.List(ctx, "alice")
	if fresh[0].Number != "bob" {
		t.Fatal("List must return a copy, the stored entry was mutated")
	}
}

func TestMemoryLogUnknownUser(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLog()
	got, err := l.List(ctx, "nobody")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("unknown user has %d entries", len(got))
	}
	if err := l.Clear(ctx, "nobody"); err != nil {
		t.Fatalf("Clear on unknown user: %v", err)
	}
}
