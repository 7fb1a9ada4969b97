package main

import (
	"fmt"
	"strings"

	"github.com/MimeLyc/subclip/internal/filter"
	"github.com/spf13/cobra"
)

func newFormatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "formats",
		Short: "List the supported output formats",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			registry := filter.DefaultRegistry()
			rows := make([][]string, 0)
			for _, name := range registry.Names() {
				p, err := registry.Lookup(name)
				if err != nil {
					return err
				}
				rows = append(rows, []string{name, string(p.Kind), p.Base, strings.Join(p.Params, " ")})
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderTable(out, []string{"Format", "Kind", "Filter", "Encoder args"}, rows, nil))
			return nil
		},
	}
}
