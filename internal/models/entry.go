package models

import (
	"time"

	"go.uber.org/atomic"
)

// Entry is an immutable cached snapshot. Only the access counters change after creation.
type Entry[T any] struct {
	Value          T
	FetchedAt      time.Time
	AccessCount    *atomic.Int64
	LastAccessTime *atomic.Time
}

// NewEntry creates a new Entry.
func NewEntry[T any](value T, fetchedAt time.Time) *Entry[T] {
	return &Entry[T]{
		Value:          value,
		FetchedAt:      fetchedAt,
		AccessCount:    atomic.NewInt64(0),
		LastAccessTime: atomic.NewTime(fetchedAt),
	}
}

// IsFresh reports whether the entry is younger than ttl at now.
func (e *Entry[T]) IsFresh(now time.Time, ttl time.Duration) bool {
	return now.Sub(e.FetchedAt) < ttl
}

// IncrementAccess increments the access count and updates the last access time.
func (e *Entry[T]) IncrementAccess(now time.Time) {
	e.AccessCount.Inc()
	e.LastAccessTime.Store(now)
}
