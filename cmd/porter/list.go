package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/ajitpratap0/porter/pkg/connector/registry"
	"github.com/ajitpratap0/porter/pkg/schema"
)

type listEntry struct {
	Variant     string   `json:"variant"`
	Description string   `json:"description,omitempty"`
	Args        []string `json:"args"`
}

func listEntries() []listEntry {
	var entries []listEntry
	for _, info := range registry.List() {
		entries = append(entries, listEntry{
			Variant:     string(info.Variant),
			Description: info.Description,
			Args:        info.Args,
		})
	}
	for _, v := range schema.Variants() {
		if v.Kind() != schema.KindSecretsBackend {
			continue
		}
		var args []string
		for _, f := range schema.Fields(v) {
			name := f.Name
			if f.Required {
				name += "*"
			}
			args = append(args, name)
		}
		entries = append(entries, listEntry{Variant: string(v), Args: args})
	}
	return entries
}

func newListCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List connectors and their args (* = required)",
		RunE: func(cmd *cobra.Command, args []string) error {
			entries := listEntries()
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(entries)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "VARIANT\tARGS\tDESCRIPTION")
			for _, e := range entries {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", e.Variant, strings.Join(e.Args, ","), e.Description)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}
