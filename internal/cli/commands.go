package cli

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"courier/internal/config"
	"courier/internal/types"
)

type statusView struct {
	NotificationID string `json:"notification_id" yaml:"notification_id"`
	Status         string `json:"status" yaml:"status"`
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status <notification-id>",
		Short: "Show the stored delivery status of a notification",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			store, release, err := rt.deps.OpenStatus(cmd.Context(), rt.cfg, rt.logger)
			if err != nil {
				return err
			}
			defer release()

			st, err := store.Lookup(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			view := statusView{NotificationID: args[0], Status: st}
			return render(rt.deps.Out, rt.outputFormat, view,
				[]string{"NOTIFICATION", "STATUS"},
				func() [][]string { return [][]string{{view.NotificationID, view.Status}} },
			)
		},
	}
}

type statusCount struct {
	Status string `json:"status" yaml:"status"`
	Count  int64  `json:"count" yaml:"count"`
}

func newStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Count notifications per status (PostgreSQL store only)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			counter, release, err := rt.deps.OpenCounter(cmd.Context(), rt.cfg)
			if err != nil {
				return err
			}
			defer release()

			counts, err := counter.CountByStatus(cmd.Context())
			if err != nil {
				return err
			}
			rows := sortedCounts(counts)
			return render(rt.deps.Out, rt.outputFormat, rows,
				[]string{"STATUS", "COUNT"},
				func() [][]string {
					out := make([][]string, 0, len(rows))
					for _, r := range rows {
						out = append(out, []string{r.Status, strconv.FormatInt(r.Count, 10)})
					}
					return out
				},
			)
		},
	}
}

// sortedCounts lists the four known statuses first, zero-filled, then any
// unrecognized tokens found in the store.
func sortedCounts(counts map[types.NotificationStatus]int64) []statusCount {
	known := []types.NotificationStatus{types.StatusPending, types.StatusDelivered, types.StatusFailed, types.StatusSkipped}
	rows := make([]statusCount, 0, len(counts)+len(known))
	seen := make(map[types.NotificationStatus]bool, len(known))
	for _, st := range known {
		rows = append(rows, statusCount{Status: string(st), Count: counts[st]})
		seen[st] = true
	}

	var extra []string
	for st := range counts {
		if !seen[st] {
			extra = append(extra, string(st))
		}
	}
	sort.Strings(extra)
	for _, st := range extra {
		rows = append(rows, statusCount{Status: st, Count: counts[types.NotificationStatus(st)]})
	}
	return rows
}

func newDLQCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dlq",
		Short: "Inspect and replay the dead-letter queue",
	}
	cmd.AddCommand(newDLQCountCommand(), newDLQReplayCommand())
	return cmd
}

type depthView struct {
	Queue    string `json:"queue" yaml:"queue"`
	Messages int    `json:"messages" yaml:"messages"`
}

func newDLQCountCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "count",
		Short: "Print the number of ready dead-letter records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			dlq, release, err := rt.deps.OpenDeadLetters(cmd.Context(), rt.cfg, rt.logger)
			if err != nil {
				return err
			}
			defer release()

			n, err := dlq.Depth(cmd.Context())
			if err != nil {
				return err
			}
			view := depthView{Queue: rt.cfg.Broker.DeadLetterQueue, Messages: n}
			return render(rt.deps.Out, rt.outputFormat, view,
				[]string{"QUEUE", "MESSAGES"},
				func() [][]string { return [][]string{{view.Queue, strconv.Itoa(view.Messages)}} },
			)
		},
	}
}

type replayView struct {
	From     string `json:"from" yaml:"from"`
	To       string `json:"to" yaml:"to"`
	Replayed int    `json:"replayed" yaml:"replayed"`
	Skipped  int    `json:"skipped" yaml:"skipped"`
}

func newDLQReplayCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Republish dead-lettered jobs to the email queue",
		Long: "Reads records from the dead-letter queue and publishes each original job " +
			"back to the email queue. Records whose original message is not a valid job " +
			"stay on the dead-letter queue.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if limit < 0 {
				return fmt.Errorf("--limit must not be negative")
			}
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			dlq, release, err := rt.deps.OpenDeadLetters(cmd.Context(), rt.cfg, rt.logger)
			if err != nil {
				return err
			}
			defer release()

			res, err := dlq.Replay(cmd.Context(), limit)
			view := replayView{
				From:     rt.cfg.Broker.DeadLetterQueue,
				To:       rt.cfg.Broker.EmailQueue,
				Replayed: res.Replayed,
				Skipped:  res.Skipped,
			}
			if renderErr := render(rt.deps.Out, rt.outputFormat, view,
				[]string{"FROM", "TO", "REPLAYED", "SKIPPED"},
				func() [][]string {
					return [][]string{{view.From, view.To, strconv.Itoa(view.Replayed), strconv.Itoa(view.Skipped)}}
				},
			); renderErr != nil {
				return renderErr
			}
			return err
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of records to replay (0 replays all)")
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show courierctl version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := config.NewBuildInfo()
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "courierctl %s (commit: %s, built: %s)\n", info.Version, info.Commit, info.BuildTime)
			return err
		},
	}
}
