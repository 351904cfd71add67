package events

import (
	"fmt"
	"sync"
	"time"
)

// Level classifies a console line
type Level string

const (
	LevelInfo  Level = "info"
	LevelError Level = "error"
)

// Entry is one timestamped console line
type Entry struct {
	ID        int64     `json:"id"`
	Level     Level     `json:"level"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}

// String formats the entry for display, e.g. "[14:03:22] Connected".
func (e Entry) String() string {
	return fmt.Sprintf("[%s] %s", e.Timestamp.Format("15:04:05"), e.Message)
}

// Store is a bounded console log: lines are only ever appended, but at
// most maxSize are retained and the oldest are dropped once it is full.
// IDs keep increasing, so a reader that falls more than maxSize lines
// behind sees a gap in IDs from GetSince.
type Store struct {
	mu      sync.RWMutex
	entries []Entry
	maxSize int
	nextID  int64
	now     func() time.Time
}

// NewStore creates a new log with the given capacity
func NewStore(maxSize int) *Store {
	return &Store{
		entries: make([]Entry, 0, maxSize),
		maxSize: maxSize,
		now:     time.Now,
	}
}

// Add appends a line and returns it
func (s *Store) Add(level Level, message string) Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	entry := Entry{
		ID:        s.nextID,
		Level:     level,
		Timestamp: s.now(),
		Message:   message,
	}

	if len(s.entries) >= s.maxSize {
		s.entries = s.entries[1:]
	}
	s.entries = append(s.entries, entry)
	return entry
}

// Infof appends an info line
func (s *Store) Infof(format string, args ...any) Entry {
	return s.Add(LevelInfo, fmt.Sprintf(format, args...))
}

// Errorf appends an error line
func (s *Store) Errorf(format string, args ...any) Entry {
	return s.Add(LevelError, fmt.Sprintf(format, args...))
}

// GetAll returns all entries, oldest first
func (s *Store) GetAll() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Entry(nil), s.entries...)
}

// GetLast returns the last n entries, oldest first
func (s *Store) GetLast(n int) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if n > len(s.entries) {
		n = len(s.entries)
	}
	return append([]Entry(nil), s.entries[len(s.entries)-n:]...)
}

// GetSince returns retained entries newer than lastID, oldest first.
// Lines already dropped from the ring are not returned.
func (s *Store) GetSince(lastID int64) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i := len(s.entries)
	for i > 0 && s.entries[i-1].ID > lastID {
		i--
	}
	return append([]Entry(nil), s.entries[i:]...)
}

// Count returns the number of retained entries
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// LastID returns the ID of the most recent entry
func (s *Store) LastID() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nextID
}
