package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/actorsync/internal/session"
)

// InvokeOptions holds flags for the invoke command.
type InvokeOptions struct {
	*RootOptions
	Metadata string
	Request  string
	Timeout  time.Duration
	NoWait   bool
}

// InvokeResult is the JSON payload of a successful invoke.
type InvokeResult struct {
	ActorID  string          `json:"actor_id"`
	Kind     string          `json:"kind"`
	Response json.RawMessage `json:"response"`
	State    json.RawMessage `json:"state,omitempty"`
}

// NewInvokeCommand creates the invoke command.
func NewInvokeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InvokeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "invoke <actor-id> <kind> [request-json]",
		Short: "Invoke a mutation and wait until its effect is observed",
		Long: `Invoke a mutation on an actor.

The mutation is sent under a fresh idempotency key and retried until the
server accepts or rejects it. Unless --no-wait is set, the command then
waits for a streamed read that reflects the write and prints that state.

Exit codes:
  0 - Mutation applied
  1 - Mutation rejected by the server
  2 - Command error (bad config, unreachable server, timeout)

Example:
  actorsync invoke list-1 AddGoal '{"goal":"buy milk"}'`,
		Args:          cobra.RangeArgs(2, 3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			request := "{}"
			if len(args) == 3 {
				request = args[2]
			}
			return invokeMutation(opts, args[0], args[1], request, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Request, "read-request", "{}", "read request body as JSON")
	cmd.Flags().StringVar(&opts.Metadata, "metadata", "", "metadata attached to the mutation record (JSON)")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 30*time.Second, "how long to wait for the write and its observation")
	cmd.Flags().BoolVar(&opts.NoWait, "no-wait", false, "return once the server acknowledges the write")

	return cmd
}

func invokeMutation(opts *InvokeOptions, actorID, kind, request string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	body, err := jsonArg("request", request)
	if err != nil {
		return invalidArgs(formatter, err)
	}
	readRequest, err := jsonArg("--read-request", opts.Request)
	if err != nil {
		return invalidArgs(formatter, err)
	}
	var metadata json.RawMessage
	if opts.Metadata != "" {
		if metadata, err = jsonArg("--metadata", opts.Metadata); err != nil {
			return invalidArgs(formatter, err)
		}
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), opts.Timeout)
	defer cancel()

	s, err := opts.openSession(ctx, cmd, sessionParams{actorID: actorID, request: readRequest})
	if err != nil {
		return loadFailure(formatter, err)
	}
	defer func() {
		if closeErr := s.Close(); closeErr != nil {
			opts.Logger.Error("error closing session", "error", closeErr)
		}
	}()

	formatter.VerboseLog("Invoking %s on %s", kind, actorID)
	resp, err := session.Kind[json.RawMessage, json.RawMessage]{Name: kind}.Invoke(ctx, s.Session, body, metadata)
	if err != nil {
		return formatter.Fail(fmt.Sprintf("%s failed", kind), err)
	}

	result := InvokeResult{ActorID: actorID, Kind: kind, Response: resp}
	if !opts.NoWait {
		if err := s.WaitIdle(ctx); err != nil {
			return formatter.Fail("waiting for the write to be observed", err)
		}
		if result.State, _, err = session.Decode[json.RawMessage](s.Session); err != nil {
			return formatter.Fail("decoding state", err)
		}
	}

	text := fmt.Sprintf("✓ %s applied", kind)
	if result.State != nil {
		text += "\n" + string(result.State)
	}
	return formatter.Success(result, text)
}

// jsonArg validates a JSON argument.
func jsonArg(name, value string) (json.RawMessage, error) {
	if !json.Valid([]byte(value)) {
		return nil, fmt.Errorf("invalid %s JSON: %s", name, value)
	}
	return json.RawMessage(value), nil
}

func invalidArgs(f *OutputFormatter, err error) error {
	_ = f.Error(ErrCodeInvalidArgs, err.Error(), nil)
	return WrapExitError(ExitCommandError, "invalid arguments", err)
}
