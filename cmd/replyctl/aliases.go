package main

import (
	"fmt"

	"github.com/mikey/reply-checker/internal/alias"
	"github.com/mikey/reply-checker/internal/core"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	aliasContact string
	aliasAdd     []string
)

var aliasesCmd = &cobra.Command{
	Use:   "aliases <email>",
	Short: "Show the alias set searched for a contact",
	Long: `Print the addresses the alias layer searches for a recipient.

Generated candidates are always listed. With --contact, the contact's known
aliases are merged in; --add records new known aliases first.

Examples:
  replyctl aliases jane.doe@gmail.com
  replyctl aliases jane@acme.io --contact c42 --add jane.doe@acme.io`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(aliasAdd) > 0 && aliasContact == "" {
			return fmt.Errorf("--add requires --contact")
		}

		return invoke(func(store core.Store, logger *zap.Logger) error {
			defer store.Close()

			ctx := cmd.Context()
			for _, addr := range aliasAdd {
				err := store.AddKnownAlias(ctx, core.Alias{
					ContactID:  aliasContact,
					AliasEmail: alias.Normalize(addr),
					Source:     core.AliasSourceKnown,
				})
				if err != nil {
					return fmt.Errorf("add alias %s: %w", addr, err)
				}
			}

			aliases, err := alias.NewResolver(store, logger).ResolveAliases(ctx, aliasContact, args[0])
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(aliases)
			}
			for _, a := range aliases {
				fmt.Println(a)
			}
			return nil
		})
	},
}

func init() {
	aliasesCmd.Flags().StringVar(&aliasContact, "contact", "", "contact id whose known aliases to include")
	aliasesCmd.Flags().StringSliceVar(&aliasAdd, "add", nil, "record a known alias for the contact")
}
