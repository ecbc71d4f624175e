package engine

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// KeyGenerator mints idempotency keys.
// Implemented by UUIDv7Generator (production) and FixedGenerator (tests).
//
// A key is minted exactly once per logical mutation, at Invoke time. Every
// retry and every recovery after restart reuses it.
type KeyGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 idempotency keys.
//
// UUIDv7 embeds a timestamp in the most significant bits, so keys in the
// persisted mutation log and in server traces sort by creation time.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate creates a new UUIDv7 and returns it as a hyphenated string.
//
// Panics if UUID generation fails (should never happen in practice).
func (g UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// FixedGenerator returns predetermined keys for testing.
//
// Tests provide a known sequence so pending lists, persisted records and
// golden results are byte-stable.
//
// Thread-safety: FixedGenerator is safe for concurrent use via internal mutex.
type FixedGenerator struct {
	mu   sync.Mutex
	keys []string
	idx  int
}

// NewFixedGenerator creates a generator that returns keys in order.
//
// Example:
//
//	gen := NewFixedGenerator("k-1", "k-2")
//	gen.Generate() // "k-1"
//	gen.Generate() // "k-2"
//	gen.Generate() // panic: all keys exhausted
func NewFixedGenerator(keys ...string) *FixedGenerator {
	return &FixedGenerator{keys: keys}
}

// NewSequenceGenerator returns a generator of prefix-1, prefix-2, ... that
// never runs out.
func NewSequenceGenerator(prefix string) KeyGenerator {
	return &sequenceGenerator{prefix: prefix}
}

// Generate returns the next predetermined key.
//
// Panics if all keys have been consumed. A test that mints more keys than
// it declared is misconfigured.
func (g *FixedGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.idx >= len(g.keys) {
		panic("FixedGenerator: all keys exhausted")
	}
	key := g.keys[g.idx]
	g.idx++
	return key
}

// Remaining reports how many keys are left.
func (g *FixedGenerator) Remaining() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.keys) - g.idx
}

type sequenceGenerator struct {
	mu     sync.Mutex
	prefix string
	n      int
}

func (g *sequenceGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%d", g.prefix, g.n)
}
