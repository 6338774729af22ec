package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newListCommand(ctx *commandContext) *cobra.Command {
	var asTable bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the groups you belong to",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.credentialsStore()
			if err != nil {
				return err
			}
			creds, err := store.Credentials()
			if err != nil {
				return err
			}
			client, err := ctx.client()
			if err != nil {
				return err
			}

			groups, err := client.UserGroups(cmd.Context(), creds)
			if err != nil {
				return fmt.Errorf("list groups: %w", err)
			}

			out := cmd.OutOrStdout()
			if asTable {
				rows := make([][]string, 0, len(groups))
				for _, group := range groups {
					rows = append(rows, []string{group.ID, group.Name})
				}
				fmt.Fprintln(out, renderTable([]column{leftColumn("ID"), leftColumn("Name")}, rows))
				return nil
			}
			for _, group := range groups {
				fmt.Fprintf(out, "%s '%s'\n", group.ID, group.Name)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asTable, "table", false, "Render groups as a table")
	return cmd
}
