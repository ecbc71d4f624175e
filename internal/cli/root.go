package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/actorsync/internal/config"
	"github.com/roach88/actorsync/internal/ir"
	"github.com/roach88/actorsync/internal/session"
	"github.com/roach88/actorsync/internal/store"
	"github.com/roach88/actorsync/internal/telemetry"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string
	Endpoint   string // overrides the configured endpoint

	// Config is loaded on first use when nil. Tests set it directly.
	Config *config.Config

	// Logger defaults to a text handler on the command's stderr.
	Logger *slog.Logger

	sessions *session.Registry
	db       *store.Store
	dbRefs   int
	shutdown func(context.Context) error
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the actorsync CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:     "actorsync",
		Version: ir.EngineVersion,
		Short:   "actorsync - client-side actor synchronization",
		Long: `Invoke mutations on remote actors and watch their state converge.

Writes are serialized per actor, retried under stable idempotency keys and
persisted locally until the server acknowledges them.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			shutdown, err := telemetry.Setup(cmd.Context(), "actorsync")
			if err != nil {
				return WrapExitError(ExitCommandError, "telemetry setup failed", err)
			}
			opts.shutdown = shutdown
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if opts.sessions != nil {
				err = opts.sessions.Close()
			}
			if opts.shutdown != nil {
				err = errors.Join(err, opts.shutdown(context.WithoutCancel(cmd.Context())))
			}
			return err
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to YAML config file")
	cmd.PersistentFlags().StringVar(&opts.Endpoint, "endpoint", "", "actor server base URL (overrides config)")

	cmd.AddCommand(NewWatchCommand(opts))
	cmd.AddCommand(NewInvokeCommand(opts))
	cmd.AddCommand(NewGetCommand(opts))
	cmd.AddCommand(NewRecoverCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}

// resolve loads the configuration and logger once.
func (o *RootOptions) resolve(cmd *cobra.Command) error {
	if o.Logger == nil {
		level := slog.LevelInfo
		if o.Verbose {
			level = slog.LevelDebug
		}
		o.Logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
	}

	if o.Config == nil {
		cfg, err := config.Load(o.ConfigPath)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid configuration", err)
		}
		o.Config = &cfg
	}
	if o.Endpoint != "" {
		o.Config.Endpoint = o.Endpoint
		if err := o.Config.Validate(); err != nil {
			return WrapExitError(ExitCommandError, "invalid configuration", err)
		}
	}
	return nil
}

// formatter returns an OutputFormatter writing to the command's streams.
func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   o.Verbose,
	}
}
