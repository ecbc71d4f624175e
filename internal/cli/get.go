package cli

import (
	"context"
	"encoding/json"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/actorsync/internal/ir"
)

// GetOptions holds flags for the get command.
type GetOptions struct {
	*RootOptions
	Request string
	Timeout time.Duration
}

// NewGetCommand creates the get command.
func NewGetCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &GetOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "get <actor-id>",
		Short: "Read an actor's current state with a single unary call",
		Long: `Read an actor's current state.

Calls the actor type's reader once, without opening a session or a stream.

Example:
  actorsync get list-1
  actorsync get list-1 --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return getState(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Request, "request", "{}", "read request body as JSON")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 10*time.Second, "request timeout")

	return cmd
}

func getState(opts *GetOptions, actorID string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	body, err := jsonArg("--request", opts.Request)
	if err != nil {
		return invalidArgs(formatter, err)
	}
	if err := opts.resolve(cmd); err != nil {
		return loadFailure(formatter, err)
	}
	at, err := opts.actorType()
	if err != nil {
		return loadFailure(formatter, err)
	}
	client, err := opts.client(at, actorID)
	if err != nil {
		return loadFailure(formatter, err)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), opts.Timeout)
	defer cancel()

	resp, err := client.Call(ctx, ir.MethodPath(at.Service, at.Reader), body)
	if err != nil {
		return formatter.Fail("read failed", err)
	}
	return formatter.Success(json.RawMessage(resp), string(resp))
}
