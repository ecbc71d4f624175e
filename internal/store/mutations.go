package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/roach88/actorsync/internal/ir"
)

// MutationLog persists not-yet-acknowledged mutation records per kind.
//
// Records are stored under namespace + kindName as a JSON array in enqueue
// order. A MutationLog with an empty namespace is disabled: every method is
// a no-op and Recover returns nothing.
//
// Thread-safety: Push and Pop are read-modify-write cycles on one key, so
// the log serializes them with its own mutex. Two logs sharing a namespace
// over the same KV are not coordinated.
type MutationLog struct {
	mu        sync.Mutex
	kv        KV
	namespace string
}

// NewMutationLog returns a log over kv. A nil kv or empty namespace
// disables persistence.
func NewMutationLog(kv KV, namespace string) *MutationLog {
	return &MutationLog{kv: kv, namespace: namespace}
}

// Enabled reports whether records are actually persisted.
func (l *MutationLog) Enabled() bool {
	return l != nil && l.kv != nil && l.namespace != ""
}

// Namespace returns the configured namespace.
func (l *MutationLog) Namespace() string {
	if l == nil {
		return ""
	}
	return l.namespace
}

// Key returns the storage key for a kind.
func (l *MutationLog) Key(kind string) string {
	return l.namespace + kind
}

// Recover reads and removes the persisted list for kind.
//
// The returned records keep their original idempotency keys and order.
// Loading flags and errors are reset: a recovered record is not running.
func (l *MutationLog) Recover(ctx context.Context, kind string) ([]ir.Mutation, error) {
	if !l.Enabled() {
		return nil, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	key := l.Key(kind)
	records, err := l.load(ctx, key)
	if err != nil {
		return nil, err
	}
	if err := l.kv.Remove(ctx, key); err != nil {
		return nil, fmt.Errorf("recover %s: %w", kind, err)
	}

	for i := range records {
		records[i].Kind = kind
		records[i].IsLoading = false
		records[i].Error = nil
	}
	return records, nil
}

// Push appends a record to the persisted list for kind.
func (l *MutationLog) Push(ctx context.Context, kind string, m ir.Mutation) error {
	if !l.Enabled() {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	key := l.Key(kind)
	records, err := l.load(ctx, key)
	if err != nil {
		return err
	}
	m.IsLoading = false
	records = append(records, m)
	return l.save(ctx, key, records)
}

// Pop removes the record with the given idempotency key from the list for
// kind. Popping an unknown key is a no-op.
func (l *MutationLog) Pop(ctx context.Context, kind, idempotencyKey string) error {
	if !l.Enabled() {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	key := l.Key(kind)
	records, err := l.load(ctx, key)
	if err != nil {
		return err
	}

	kept := records[:0]
	for _, r := range records {
		if r.IdempotencyKey != idempotencyKey {
			kept = append(kept, r)
		}
	}
	if len(kept) == len(records) {
		return nil
	}
	if len(kept) == 0 {
		if err := l.kv.Remove(ctx, key); err != nil {
			return fmt.Errorf("pop %s: %w", kind, err)
		}
		return nil
	}
	return l.save(ctx, key, kept)
}

// Peek returns the persisted list for kind without removing it.
func (l *MutationLog) Peek(ctx context.Context, kind string) ([]ir.Mutation, error) {
	if !l.Enabled() {
		return nil, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.load(ctx, l.Key(kind))
}

// Kinds lists the kinds that have a persisted list, oldest write first.
// The KV must implement Lister.
func (l *MutationLog) Kinds(ctx context.Context) ([]string, error) {
	if !l.Enabled() {
		return nil, nil
	}
	lister, ok := l.kv.(Lister)
	if !ok {
		return nil, fmt.Errorf("kinds: %T cannot list keys", l.kv)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	keys, err := lister.Keys(ctx, l.namespace)
	if err != nil {
		return nil, fmt.Errorf("kinds: %w", err)
	}
	kinds := make([]string, 0, len(keys))
	for _, k := range keys {
		kinds = append(kinds, strings.TrimPrefix(k, l.namespace))
	}
	return kinds, nil
}

func (l *MutationLog) load(ctx context.Context, key string) ([]ir.Mutation, error) {
	value, ok, err := l.kv.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("load %q: %w", key, err)
	}
	if !ok {
		return nil, nil
	}
	var records []ir.Mutation
	if err := json.Unmarshal(value, &records); err != nil {
		return nil, fmt.Errorf("load %q: corrupt mutation list: %w", key, err)
	}
	return records, nil
}

func (l *MutationLog) save(ctx context.Context, key string, records []ir.Mutation) error {
	value, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("save %q: %w", key, err)
	}
	if err := l.kv.Set(ctx, key, value); err != nil {
		return fmt.Errorf("save %q: %w", key, err)
	}
	return nil
}
