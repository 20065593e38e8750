package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"docqueue/internal/queue"
)

func (a *app) enqueueCmd() *cobra.Command {
	var delay time.Duration
	cmd := &cobra.Command{
		Use:   "enqueue <queue> <json-payload>...",
		Short: "Add one or more JSON payloads to a queue",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			payloads := make([]any, 0, len(args)-1)
			for _, arg := range args[1:] {
				payloads = append(payloads, json.RawMessage(arg))
			}
			return a.withQueue(cmd.Context(), args[0], func(q *queue.Queue) error {
				var opts []queue.CallOption
				if cmd.Flags().Changed("delay") {
					opts = append(opts, queue.WithDelay(delay))
				}
				ids, err := q.EnqueueBatch(cmd.Context(), payloads, opts...)
				if err != nil {
					return err
				}
				for _, id := range ids {
					fmt.Fprintln(cmd.OutOrStdout(), id)
				}
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&delay, "delay", 0, "delay before the messages become visible")
	return cmd
}

func (a *app) statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats <queue>",
		Short: "Print message counts per state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withQueue(cmd.Context(), args[0], func(q *queue.Queue) error {
				st, err := q.Stats(cmd.Context())
				if err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(st)
			})
		},
	}
}

func (a *app) purgeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "purge <queue>",
		Short: "Remove acknowledged messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withQueue(cmd.Context(), args[0], func(q *queue.Queue) error {
				n, err := q.Purge(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %d\n", n)
				return nil
			})
		},
	}
}
