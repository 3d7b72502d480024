package oracle

import (
	"context"
	"fmt"
	"sync"

	"comptoir/internal/domain"
)

// ErrUnknownMint is returned when an oracle has no metadata for a mint.
var ErrUnknownMint = fmt.Errorf("%w: unknown mint", domain.ErrAuthenticityCheckFailed)

// Static is an in-memory metadata oracle, used for seeding and tests.
type Static struct {
	mu    sync.RWMutex
	items map[string]domain.ItemMetadata
}

func NewStatic() *Static {
	return &Static{items: make(map[string]domain.ItemMetadata)}
}

// Put registers (or replaces) metadata for md.Mint.
func (s *Static) Put(md domain.ItemMetadata) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[md.Mint] = md
}

func (s *Static) Lookup(_ context.Context, mint string) (*domain.ItemMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	md, ok := s.items[mint]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMint, mint)
	}
	md.Creators = append([]domain.Creator(nil), md.Creators...)
	return &md, nil
}
