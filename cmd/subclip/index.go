package main

import (
	"fmt"

	"github.com/MimeLyc/subclip/internal/catalog"
	"github.com/spf13/cobra"
)

func newIndexCommand() *cobra.Command {
	var templatePath string
	var outputPath string

	cmd := &cobra.Command{
		Use:   "index <glob>",
		Short: "Merge per-video indices into one search catalog",
		Long: "Merges every .json file matching <glob> (for example 'clips/*.index.json') into " +
			"a single catalog. Without --template the catalog is written as {\"subs\": [...]}.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := catalog.Build(cmd.Context(), args[0], templatePath, outputPath)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d entries to %s\n", n, outputPath)
			return nil
		},
	}

	cmd.Flags().StringVarP(&templatePath, "template", "t", "", "Go text/template file rendered with {{.Subs}}")
	cmd.Flags().StringVar(&outputPath, "out", "catalog.json", "Catalog output file")
	return cmd
}
