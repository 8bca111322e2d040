// Package journal stores finalized conversation entries.
package journal

import (
	"errors"
	"sync"

	"liveline/internal/domain"
	"liveline/internal/ports"
)

// Transcript is an in-memory, append-only conversation log.
type Transcript struct {
	mu      sync.RWMutex
	entries []domain.ChatEntry
}

func NewTranscript() *Transcript {
	return &Transcript{}
}

func (t *Transcript) Append(entry domain.ChatEntry) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = append(t.entries, entry)
	return nil
}

// Entries returns a copy of everything appended so far.
func (t *Transcript) Entries() []domain.ChatEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]domain.ChatEntry(nil), t.entries...)
}

// Tee appends each entry to every log in order. A failing log does not stop the others.
type Tee []ports.ConversationLog

func (t Tee) Append(entry domain.ChatEntry) error {
	var errs []error
	for _, log := range t {
		if log == nil {
			continue
		}
		if err := log.Append(entry); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
