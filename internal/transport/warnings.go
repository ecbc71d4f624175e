package transport

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// WarningUnreachable is raised while the endpoint cannot be reached.
const WarningUnreachable = "unreachable"

// Warning is one active diagnostic.
type Warning struct {
	ID      string
	Message string
	Since   time.Time
}

// Warnings is a board of active diagnostics shared by the clients of one
// process. Consumers render it however they like (CLI status line, log).
//
// A nil *Warnings discards everything.
type Warnings struct {
	mu     sync.Mutex
	active map[string]Warning
	logger *slog.Logger
	now    func() time.Time
}

// NewWarnings creates an empty board. A nil logger uses slog.Default().
func NewWarnings(logger *slog.Logger) *Warnings {
	if logger == nil {
		logger = slog.Default()
	}
	return &Warnings{
		active: make(map[string]Warning),
		logger: logger,
		now:    time.Now,
	}
}

// Raise activates a warning. Raising an already active warning keeps its
// original Since and returns false.
func (w *Warnings) Raise(id, message string) bool {
	if w == nil {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.active[id]; ok {
		return false
	}
	w.active[id] = Warning{ID: id, Message: message, Since: w.now()}
	w.logger.Warn(message, "warning", id)
	return true
}

// Clear deactivates a warning and reports whether it was active.
func (w *Warnings) Clear(id string) bool {
	if w == nil {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.active[id]; !ok {
		return false
	}
	delete(w.active, id)
	w.logger.Info("warning cleared", "warning", id)
	return true
}

// Has reports whether id is active.
func (w *Warnings) Has(id string) bool {
	if w == nil {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.active[id]
	return ok
}

// Active returns the active warnings ordered by ID.
func (w *Warnings) Active() []Warning {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make([]Warning, 0, len(w.active))
	for _, warn := range w.active {
		out = append(out, warn)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
