package conversation

import (
	"context"
	"sync"
	"time"
)

// memoryLog is one conversation's state: its creation time and ordered
// messages. The creation time stands in for activity while the log is
// empty, mirroring the SQLite store's created_at fallback.
type memoryLog struct {
	createdAt time.Time
	messages  []Message
}

func (l *memoryLog) lastActivity() time.Time {
	if len(l.messages) == 0 {
		return l.createdAt
	}
	return l.messages[len(l.messages)-1].Timestamp
}

// MemoryStore is an in-process Store used in tests and single-node
// development runs. Logs live only for the lifetime of the process.
type MemoryStore struct {
	mu   sync.RWMutex
	logs map[EntryRef]*memoryLog
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{logs: make(map[EntryRef]*memoryLog)}
}

func (s *MemoryStore) GetOrCreate(_ context.Context, ref EntryRef) (EntryRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.getOrCreateLocked(ref)
	return ref, nil
}

func (s *MemoryStore) getOrCreateLocked(ref EntryRef) *memoryLog {
	log, ok := s.logs[ref]
	if !ok {
		log = &memoryLog{createdAt: time.Now().UTC()}
		s.logs[ref] = log
	}
	return log
}

func (s *MemoryStore) Append(_ context.Context, ref EntryRef, role Role, content string) error {
	if err := role.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	log := s.getOrCreateLocked(ref)
	log.messages = append(log.messages, Message{
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC(),
	})
	return nil
}

func (s *MemoryStore) ReadRecent(_ context.Context, ref EntryRef, limit int) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	log, ok := s.logs[ref]
	if !ok {
		return nil, nil
	}

	if limit <= 0 || limit > len(log.messages) {
		limit = len(log.messages)
	}

	tail := log.messages[len(log.messages)-limit:]
	out := make([]Message, len(tail))
	copy(out, tail)
	return out, nil
}

func (s *MemoryStore) DeleteForAgent(_ context.Context, ref EntryRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.logs, ref)
	return nil
}

func (s *MemoryStore) DeleteOlderThan(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for ref, log := range s.logs {
		if log.lastActivity().Before(cutoff) {
			delete(s.logs, ref)
			removed++
		}
	}
	return removed, nil
}

func (s *MemoryStore) Close() error { return nil }
