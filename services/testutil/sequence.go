package testutil

import (
	"context"
	"sync"

	"cleanops/pkg/sequence"
)

// Sequence hands out invoice numbers from in-process counters, one per
// business, the way the Redis generator keys them.
type Sequence struct {
	mu sync.Mutex
	n  map[string]int64
}

var _ sequence.Generator = (*Sequence)(nil)

func (s *Sequence) NextInvoiceNumber(_ context.Context, businessID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.n == nil {
		s.n = map[string]int64{}
	}
	s.n[businessID]++
	return sequence.FormatInvoiceNumber("2610", s.n[businessID]), nil
}
