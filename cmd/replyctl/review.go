package main

import (
	"context"
	"fmt"
	"time"

	"github.com/mikey/reply-checker/internal/core"
	"github.com/mikey/reply-checker/internal/deadletter"
	"github.com/mikey/reply-checker/internal/worker"
	"github.com/spf13/cobra"
)

var (
	reviewAction string
	reviewBy     string
	reviewNotes  string
	reviewReply  string
	reviewWait   time.Duration
)

var reviewCmd = &cobra.Command{
	Use:   "review <dead-letter-id>",
	Short: "Apply a review decision to a dead-letter entry",
	Long: `Resolve a dead-letter entry.

Actions: retry, manual_check, skip, mark_no_reply, mark_has_reply.
A retry runs the check through a local worker pool and waits for it to
finish before exiting.

Examples:
  replyctl review 5d1e --action skip --by alice
  replyctl review 5d1e --action mark_has_reply --by alice --reply "Thanks, works for me"
  replyctl review 5d1e --action retry --by alice --notes "token refreshed"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		action, err := deadletter.ParseAction(reviewAction)
		if err != nil {
			return err
		}
		if reviewBy == "" {
			return fmt.Errorf("--by is required")
		}

		return invoke(func(m *deadletter.Manager, pool *worker.Pool, store core.Store) error {
			defer store.Close()

			ctx := cmd.Context()
			if action == deadletter.ActionRetry {
				if err := pool.Start(ctx); err != nil {
					return err
				}
				defer func() {
					stopCtx, cancel := context.WithTimeout(context.Background(), reviewWait)
					defer cancel()
					if err := pool.Stop(stopCtx); err != nil {
						fmt.Printf("retry did not finish: %v\n", err)
					}
				}()
			}

			result, err := m.Review(ctx, deadletter.ReviewRequest{
				DeadLetterID: args[0],
				Action:       action,
				ReviewedBy:   reviewBy,
				Notes:        reviewNotes,
				ReplyContent: reviewReply,
			})
			if err != nil {
				return err
			}

			if jsonOutput {
				if err := printJSON(result); err != nil {
					return err
				}
			} else {
				fmt.Printf("%s: %s\n", result.Status, result.Message)
				if result.NewJobID != "" {
					fmt.Printf("job: %s\n", result.NewJobID)
				}
			}
			if !result.Success {
				return fmt.Errorf("review of %s was not applied", args[0])
			}
			return nil
		})
	},
}

func init() {
	reviewCmd.Flags().StringVar(&reviewAction, "action", "", "review action (required)")
	reviewCmd.Flags().StringVar(&reviewBy, "by", "", "reviewer name (required)")
	reviewCmd.Flags().StringVar(&reviewNotes, "notes", "", "free-form reviewer notes")
	reviewCmd.Flags().StringVar(&reviewReply, "reply", "", "reply content for mark_has_reply")
	reviewCmd.Flags().DurationVar(&reviewWait, "wait", 5*time.Minute, "how long to wait for a retried check")
	_ = reviewCmd.MarkFlagRequired("action")
	_ = reviewCmd.MarkFlagRequired("by")
}
