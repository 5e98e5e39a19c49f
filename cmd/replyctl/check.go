package main

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/mikey/reply-checker/internal/coordinator"
	"github.com/mikey/reply-checker/internal/core"
	"github.com/mikey/reply-checker/internal/worker"
	"github.com/spf13/cobra"
)

var checkTimeout time.Duration

var checkCmd = &cobra.Command{
	Use:   "check <sent-email-id>...",
	Short: "Check sent emails for replies",
	Long: `Run reply detection for one or more sent emails.

A single id runs inline and prints the full outcome. Several ids run
through the worker pool under the configured concurrency and rate limits.

Examples:
  replyctl check 7f3c                 # One check
  replyctl check 7f3c 91aa b002       # Batch through the pool
  replyctl check 7f3c --json          # Machine-readable outcome`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), checkTimeout)
		defer cancel()

		return invoke(func(c *coordinator.Coordinator, pool *worker.Pool, store core.Store) error {
			defer store.Close()

			if len(args) == 1 {
				out, err := c.Check(ctx, args[0])
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(out)
				}
				printOutcome(out)
				return nil
			}

			results, err := pool.RunBatch(ctx, args)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(batchJSON(results))
			}
			for _, r := range results {
				if r.Err != nil {
					fmt.Printf("%s\terror: %v\n", r.SentEmailID, r.Err)
					continue
				}
				printOutcome(r.Outcome)
			}
			printSummary(worker.Summarize(results))
			return nil
		})
	},
}

type batchEntry struct {
	SentEmailID string               `json:"sent_email_id"`
	Outcome     *coordinator.Outcome `json:"outcome,omitempty"`
	Error       string               `json:"error,omitempty"`
}

func batchJSON(results []worker.Result) []batchEntry {
	out := make([]batchEntry, len(results))
	for i, r := range results {
		out[i] = batchEntry{SentEmailID: r.SentEmailID, Outcome: r.Outcome}
		if r.Err != nil {
			out[i].Error = r.Err.Error()
		}
	}
	return out
}

func printOutcome(out *coordinator.Outcome) {
	fmt.Printf("%s\t%s\t%s", out.SentEmailID, out.Provider, out.Status)
	switch {
	case out.Result != nil && out.Result.Found:
		fmt.Printf("\tlayer=%s", out.Result.MatchedLayer)
	case out.DeadLetterID != "":
		fmt.Printf("\tdead_letter=%s", out.DeadLetterID)
	}
	if out.Error != "" {
		fmt.Printf("\terror=%s", out.Error)
	}
	fmt.Println()
}

func printSummary(counts map[string]int) {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fmt.Print("\nsummary:")
	for _, k := range keys {
		fmt.Printf(" %s=%d", k, counts[k])
	}
	fmt.Println()
}

func init() {
	checkCmd.Flags().DurationVar(&checkTimeout, "timeout", 10*time.Minute, "overall deadline for the command")
}
