// Package appointment keeps the list of booked appointments
package appointment

import (
	"sync"

	"go.uber.org/zap"

	"github.com/jzx17/triageflow/internal/logging"
)

// Book is a mutex-protected, insertion-ordered list of appointments.
// Duplicates are allowed.
type Book struct {
	mu      sync.Mutex
	entries []string
	logger  *zap.Logger
}

// NewBook creates an empty book. A nil logger discards output.
func NewBook(logger *zap.Logger) *Book {
	return &Book{logger: logging.OrNop(logger)}
}

// Create appends an appointment
func (b *Book) Create(info string) {
	b.mu.Lock()
	b.entries = append(b.entries, info)
	b.mu.Unlock()

	b.logger.Info("appointment created", zap.String("appointment", info))
}

// Remove deletes the first appointment equal to info and reports whether
// one was found
func (b *Book) Remove(info string) bool {
	b.mu.Lock()
	found := false
	for i, e := range b.entries {
		if e == info {
			b.entries = append(b.entries[:i], b.entries[i+1:]...)
			found = true
			break
		}
	}
	b.mu.Unlock()

	if found {
		b.logger.Info("appointment removed", zap.String("appointment", info))
	}
	return found
}

// List returns a copy of the appointments in creation order
func (b *Book) List() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.entries...)
}

// Len returns the number of appointments
func (b *Book) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}
