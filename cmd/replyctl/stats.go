package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/mikey/reply-checker/internal/core"
	"github.com/mikey/reply-checker/internal/deadletter"
	"github.com/spf13/cobra"
)

var (
	userID       string
	pendingLimit int
)

var statusOrder = []core.DeadLetterStatus{
	core.StatusPendingReview,
	core.StatusRetryScheduled,
	core.StatusManuallyChecked,
	core.StatusSkipped,
	core.StatusResolved,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Count a user's dead-letter entries by status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return invoke(func(m *deadletter.Manager, store core.Store) error {
			defer store.Close()

			counts, err := m.Stats(cmd.Context(), userID)
			if err != nil {
				return fmt.Errorf("dead letter stats: %w", err)
			}
			if jsonOutput {
				return printJSON(counts)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			total := 0
			for _, s := range statusOrder {
				fmt.Fprintf(w, "%s\t%d\n", s, counts[s])
				total += counts[s]
			}
			fmt.Fprintf(w, "total\t%d\n", total)
			return w.Flush()
		})
	},
}

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List a user's dead-letter entries awaiting review, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		return invoke(func(m *deadletter.Manager, store core.Store) error {
			defer store.Close()

			entries, err := m.Pending(cmd.Context(), userID, pendingLimit)
			if err != nil {
				return fmt.Errorf("pending dead letters: %w", err)
			}
			if jsonOutput {
				return printJSON(entries)
			}
			if len(entries) == 0 {
				fmt.Println("No entries awaiting review.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSENT EMAIL\tPROVIDER\tATTEMPTS\tCREATED\tLAST ERROR")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
					e.ID, e.SentEmailID, e.Provider, e.AttemptCount,
					e.CreatedAt.Format("2006-01-02 15:04"), e.LastError)
			}
			return w.Flush()
		})
	},
}

func init() {
	for _, c := range []*cobra.Command{statsCmd, pendingCmd} {
		c.Flags().StringVar(&userID, "user", "", "user id (required)")
		_ = c.MarkFlagRequired("user")
	}
	pendingCmd.Flags().IntVar(&pendingLimit, "limit", deadletter.DefaultPendingLimit, "maximum entries to list")
}
