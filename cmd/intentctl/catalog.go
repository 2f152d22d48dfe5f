package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/intelliquery/intent-agent/internal/catalog"
	"github.com/intelliquery/intent-agent/internal/schema"
)

func catalogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Inspect workspace catalogs",
	}
	cmd.AddCommand(catalogCheckCmd(), catalogSchemaCmd())
	return cmd
}

func catalogCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check [path]",
		Short: "Validate a catalog file, or the built-in catalog when no path is given",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			cat, err := catalog.LoadOrDefault(path)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			problems := 0
			for _, ws := range cat.Workspaces() {
				fmt.Fprintf(out, "%-12s keywords=%d exemplars=%d\n", ws.ID, len(ws.Keywords), len(ws.Exemplars))
				if len(ws.Keywords) == 0 && len(ws.Exemplars) == 0 {
					fmt.Fprintf(out, "  warning: %s has no keywords or exemplars and can only be chosen as the default\n", ws.ID)
				}
				for _, ex := range ws.Exemplars {
					if ex.Intent != "" && !schema.IsIntentType(strings.ToLower(ex.Intent)) {
						fmt.Fprintf(out, "  error: exemplar %q has unknown intent %q\n", ex.Phrase, ex.Intent)
						problems++
					}
				}
			}
			fmt.Fprintf(out, "%d workspaces, %d exemplars, default %s\n", cat.Len(), cat.ExemplarCount(), cat.DefaultWorkspace())

			if problems > 0 {
				return fmt.Errorf("catalog has %d problems", problems)
			}
			return nil
		},
	}
}

func catalogSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema [path]",
		Short: "Print the JSON Schema of the intent output for a catalog",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			cat, err := catalog.LoadOrDefault(path)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(schema.JSONSchema(cat))
		},
	}
}
