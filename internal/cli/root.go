// Package cli implements courierctl, the operator CLI for the email worker.
// Commands read the same environment configuration as the worker.
package cli

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"courier/internal/config"
	"courier/internal/queue"
	"courier/internal/types"
)

// StatusReader answers status queries. Implemented by *status.Store.
type StatusReader interface {
	Lookup(ctx context.Context, notificationID string) (string, error)
}

// StatusCounter aggregates stored statuses. Implemented by
// *db.StatusRepository.
type StatusCounter interface {
	CountByStatus(ctx context.Context) (map[types.NotificationStatus]int64, error)
}

// DeadLetterQueue is the operator view of the dead-letter queue.
type DeadLetterQueue interface {
	Depth(ctx context.Context) (int, error)
	Replay(ctx context.Context, limit int) (queue.ReplayResult, error)
}

// Deps holds the factories commands use to reach their backends. Each opener
// returns a release function the command calls when done.
type Deps struct {
	LoadConfig      func() (*config.Config, error)
	OpenStatus      func(ctx context.Context, cfg *config.Config, logger *slog.Logger) (StatusReader, func(), error)
	OpenCounter     func(ctx context.Context, cfg *config.Config) (StatusCounter, func(), error)
	OpenDeadLetters func(ctx context.Context, cfg *config.Config, logger *slog.Logger) (DeadLetterQueue, func(), error)
	Out             io.Writer
}

// DefaultDeps wires the real backends.
func DefaultDeps() Deps {
	return Deps{
		LoadConfig:      config.LoadConfig,
		OpenStatus:      openStatus,
		OpenCounter:     openCounter,
		OpenDeadLetters: openDeadLetters,
		Out:             os.Stdout,
	}
}

type runtimeState struct {
	deps         Deps
	cfg          *config.Config
	outputFormat string
	verbose      bool
	logger       *slog.Logger
}

type runtimeKey struct{}

// NewRootCommand builds the courierctl command tree.
func NewRootCommand(deps Deps) *cobra.Command {
	rt := &runtimeState{deps: deps}

	root := &cobra.Command{
		Use:           "courierctl",
		Short:         "Operate the courier email worker",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if rt.deps.Out == nil {
				rt.deps.Out = cmd.OutOrStdout()
			}
			level := slog.LevelWarn
			if rt.verbose {
				level = slog.LevelDebug
			}
			rt.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

			if cmd.Name() == "version" || cmd.Name() == "completion" {
				return nil
			}
			if rt.deps.LoadConfig == nil {
				return errors.New("no configuration loader")
			}
			cfg, err := rt.deps.LoadConfig()
			if err != nil {
				return err
			}
			rt.cfg = cfg
			return nil
		},
	}

	root.PersistentFlags().StringVarP(&rt.outputFormat, "output", "o", "table", "Output format: table, json, yaml")
	root.PersistentFlags().BoolVarP(&rt.verbose, "verbose", "v", false, "Log backend activity to stderr")

	root.SetContext(context.WithValue(context.Background(), runtimeKey{}, rt))

	root.AddCommand(
		newStatusCommand(),
		newStatsCommand(),
		newDLQCommand(),
		newVersionCommand(),
	)
	return root
}

func getRuntime(cmd *cobra.Command) (*runtimeState, error) {
	rt, ok := cmd.Context().Value(runtimeKey{}).(*runtimeState)
	if !ok || rt == nil {
		return nil, errors.New("runtime not initialized")
	}
	return rt, nil
}
