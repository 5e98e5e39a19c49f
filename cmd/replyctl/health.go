package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/mikey/reply-checker/internal/coordinator"
	"github.com/mikey/reply-checker/internal/core"
	"github.com/spf13/cobra"
)

var healthUser string

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Probe every enabled mailbox provider for a user",
	RunE: func(cmd *cobra.Command, args []string) error {
		return invoke(func(c *coordinator.Coordinator, store core.Store) error {
			defer store.Close()

			results := c.CheckHealth(cmd.Context(), healthUser)
			if jsonOutput {
				return printJSON(results)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "PROVIDER\tHEALTHY\tLATENCY\tERROR")
			unhealthy := 0
			for _, h := range results {
				if !h.Healthy {
					unhealthy++
				}
				fmt.Fprintf(w, "%s\t%t\t%dms\t%s\n", h.Provider, h.Healthy, h.ResponseTimeMs, h.ErrorMessage)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			if unhealthy > 0 {
				return fmt.Errorf("%d of %d providers unhealthy", unhealthy, len(results))
			}
			return nil
		})
	},
}

func init() {
	healthCmd.Flags().StringVar(&healthUser, "user", "", "user id (required)")
	_ = healthCmd.MarkFlagRequired("user")
}
