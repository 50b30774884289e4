package missedcall

import (
	"context"
	"sync"
)

// Log records missed inbound calls per user.
//
// The list is append-only between Clear calls; readers always get a copy.
type Log interface {
	Add(ctx context.Context, userID string, e Entry) error
	List(ctx context.Context, userID string) ([]Entry, error)
	Clear(ctx context.Context, userID string) error
}

// MemoryLog is the default in-process Log. Entries live for the process
// lifetime unless cleared.
type MemoryLog struct {
	mu      sync.Mutex
	entries map[string][]Entry
}

func NewMemoryLog() *MemoryLog {
	return &MemoryLog{entries: map[string][]Entry{}}
}

func (l *MemoryLog) Add(ctx context.Context, userID string, e Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[userID] = append(l.entries[userID], e)
	return nil
}

func (l *MemoryLog) List(ctx context.Context, userID string) ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	src := l.entries[userID]
	out := make([]Entry, len(src))
	copy(out, src)
	return out, nil
}

func (l *MemoryLog) Clear(ctx context.Context, userID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, userID)
	return nil
}
