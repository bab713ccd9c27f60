package accounting

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// IDGenerator hands out identifiers for new aggregates.
type IDGenerator interface {
	NewID() string
}

// UUIDGenerator issues time-ordered UUIDv7 identifiers.
type UUIDGenerator struct{}

// NewID implements IDGenerator.
func (UUIDGenerator) NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// SequenceGenerator issues predictable identifiers, mostly for tests.
type SequenceGenerator struct {
	Prefix string

	mu   sync.Mutex
	next int
}

// NewID implements IDGenerator.
func (g *SequenceGenerator) NewID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next++
	return fmt.Sprintf("%s%d", g.Prefix, g.next)
}
