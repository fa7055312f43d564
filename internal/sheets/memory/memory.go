// Package memory is an in-process TransactionWriter used by tests and by
// deployments that run without Google credentials.
package memory

import (
	"context"
	"fmt"
	"sync"

	"paghetta/internal/sheets"
)

type Store struct {
	mu    sync.Mutex
	items []sheets.MirrorRow
}

func New() *Store {
	return &Store{}
}

// Append stores the row and returns a synthetic row reference.
func (s *Store) Append(_ context.Context, row sheets.MirrorRow) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, row)
	return fmt.Sprintf("mem:%d", len(s.items)), nil
}

// Rows returns a copy of everything appended so far.
func (s *Store) Rows() []sheets.MirrorRow {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sheets.MirrorRow(nil), s.items...)
}
