package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/actorsync/internal/store"
)

// RecoverOptions holds flags for the recover command.
type RecoverOptions struct {
	*RootOptions
	Resume  bool
	Timeout time.Duration
}

// RecoveredEntry describes one persisted, unacknowledged mutation.
type RecoveredEntry struct {
	Kind           string          `json:"kind"`
	IdempotencyKey string          `json:"idempotency_key"`
	Request        json.RawMessage `json:"request"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`

	// Undeclared is set when the actor type no longer declares Kind. A
	// session never recovers such entries.
	Undeclared bool `json:"undeclared,omitempty"`

	Outcome        string          `json:"outcome,omitempty"`
	Error          string          `json:"error,omitempty"`
}

// RecoverResult is the JSON payload of the recover command.
type RecoverResult struct {
	ActorID string           `json:"actor_id"`
	Entries []RecoveredEntry `json:"entries"`
	Resumed bool             `json:"resumed"`
}

// NewRecoverCommand creates the recover command.
func NewRecoverCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RecoverOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "recover <actor-id>",
		Short: "List or resume mutations left unsent by an earlier run",
		Long: `List the mutations persisted for an actor that were never acknowledged.

Listing does not modify the database. It also shows entries whose kind
the actor type no longer declares; those cannot be resumed. With --resume, every entry is
submitted again under its original idempotency key, so a write the server
already applied is not applied twice.

Exit codes:
  0 - Nothing to recover, or every entry resumed successfully
  1 - One or more resumed entries were rejected
  2 - Command error

Example:
  actorsync recover list-1
  actorsync recover list-1 --resume`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Resume {
				return resumeRecovered(opts, args[0], cmd)
			}
			return listRecovered(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Resume, "resume", false, "resume every recovered mutation")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", time.Minute, "how long to wait for resumed mutations")

	return cmd
}

// listRecovered reads the mutation log without draining it.
func listRecovered(opts *RecoverOptions, actorID string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	if err := opts.resolve(cmd); err != nil {
		return loadFailure(formatter, err)
	}
	at, err := opts.actorType()
	if err != nil {
		return loadFailure(formatter, err)
	}
	ns := opts.namespace(at, actorID)
	if ns == "" {
		return loadFailure(formatter, &LoadError{Code: ErrCodeConfig, Message: "persistence is disabled (namespace or database is empty)"})
	}

	st, err := store.Open(opts.Config.Database)
	if err != nil {
		return loadFailure(formatter, &LoadError{Code: ErrCodeConfig, Message: "failed to open database", Err: err})
	}
	defer st.Close()

	log := store.NewMutationLog(st, ns)
	kinds, err := log.Kinds(cmd.Context())
	if err != nil {
		return formatter.Fail("failed to read mutation log", err)
	}

	result := RecoverResult{ActorID: actorID, Entries: []RecoveredEntry{}}
	for _, kind := range kinds {
		records, err := log.Peek(cmd.Context(), kind)
		if err != nil {
			return formatter.Fail("failed to read mutation log", err)
		}
		_, declared := at.Kind(kind)
		if !declared {
			opts.Logger.Warn("persisted mutations for undeclared kind", "kind", kind, "count", len(records))
		}
		for _, m := range records {
			result.Entries = append(result.Entries, RecoveredEntry{
				Kind:           kind,
				IdempotencyKey: m.IdempotencyKey,
				Request:        m.Request,
				Metadata:       m.Metadata,
				Undeclared:     !declared,
			})
		}
	}

	return formatter.Success(result, formatRecovered(result))
}

// resumeRecovered opens a session, which drains the log, and resumes every
// recovered entry in kind order.
func resumeRecovered(opts *RecoverOptions, actorID string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	ctx, cancel := context.WithTimeout(cmd.Context(), opts.Timeout)
	defer cancel()

	s, err := opts.openSession(ctx, cmd, sessionParams{actorID: actorID})
	if err != nil {
		return loadFailure(formatter, err)
	}
	defer func() {
		if closeErr := s.Close(); closeErr != nil {
			opts.Logger.Error("error closing session", "error", closeErr)
		}
	}()

	// Resumed one at a time so the server sees them in their original order.
	result := RecoverResult{ActorID: actorID, Entries: []RecoveredEntry{}, Resumed: true}
	failed := 0
	for _, kind := range s.Type().KindNames() {
		for _, r := range s.Recovered(kind) {
			entry := RecoveredEntry{
				Kind:           kind,
				IdempotencyKey: r.Mutation.IdempotencyKey,
				Request:        r.Mutation.Request,
				Metadata:       r.Mutation.Metadata,
				Outcome:        "ok",
			}
			if _, err := r.Resume(ctx); err != nil {
				code, exit := classifyError(err)
				if exit != ExitFailure {
					return formatter.Fail(fmt.Sprintf("resuming %s %s", kind, entry.IdempotencyKey), err)
				}
				entry.Outcome = "failed"
				entry.Error = code + ": " + err.Error()
				failed++
			}
			result.Entries = append(result.Entries, entry)
		}
	}
	if err := s.WaitIdle(ctx); err != nil {
		return formatter.Fail("waiting for resumed mutations to be observed", err)
	}

	if err := formatter.Success(result, formatRecovered(result)); err != nil {
		return err
	}
	if failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d recovered mutation(s) rejected", failed))
	}
	return nil
}

func formatRecovered(r RecoverResult) string {
	if len(r.Entries) == 0 {
		return fmt.Sprintf("No unsent mutations for %s.", r.ActorID)
	}
	var b strings.Builder
	verb := "pending"
	if r.Resumed {
		verb = "resumed"
	}
	fmt.Fprintf(&b, "%d mutation(s) %s for %s:", len(r.Entries), verb, r.ActorID)
	for _, e := range r.Entries {
		fmt.Fprintf(&b, "\n  %s %s %s", e.IdempotencyKey, e.Kind, e.Request)
		if e.Undeclared {
			b.WriteString(" (undeclared kind)")
		}
		if e.Outcome != "" {
			fmt.Fprintf(&b, " -> %s", e.Outcome)
		}
		if e.Error != "" {
			fmt.Fprintf(&b, " (%s)", e.Error)
		}
	}
	return b.String()
}
