package testutil

import (
	"fmt"
	"sync"
)

// ID returns the n-th deterministic UUID. It is a valid UUID string, so it
// passes event id validation.
func ID(n int) string {
	return fmt.Sprintf("00000000-0000-7000-8000-%012d", n)
}

// SequentialIDs generates ID(1), ID(2), ... in order.
//
// This enables deterministic test execution and golden comparison.
type SequentialIDs struct {
	mu   sync.Mutex
	next int
}

// NewSequentialIDs creates a generator whose first id is ID(first).
func NewSequentialIDs(first int) *SequentialIDs {
	return &SequentialIDs{next: first}
}

// Generate returns the next id.
func (g *SequentialIDs) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := ID(g.next)
	g.next++
	return id
}
