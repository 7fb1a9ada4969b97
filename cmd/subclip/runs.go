package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/MimeLyc/subclip/internal/persistence"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newRunsCommand(ctx *commandContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Show recent batch runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.loadConfig()
			if err != nil {
				return err
			}
			store, err := persistence.NewSQLiteStore(cfg.DBPath())
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(runs) == 0 {
				fmt.Fprintln(out, "No runs recorded yet")
				return nil
			}
			fmt.Fprintln(out, renderRuns(out, runs))
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Number of runs to show")
	return cmd
}

func renderRuns(w io.Writer, runs []persistence.Run) string {
	headers := []string{"Run", "Started", "Status", "Videos", "Warned", "Failed", "Encoded", "Reused", "Size"}
	aligns := []columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight, alignRight}
	rows := make([][]string, 0, len(runs))
	for _, run := range runs {
		id := run.ID
		if len(id) > 8 {
			id = id[:8]
		}
		rows = append(rows, []string{
			id,
			humanize.Time(run.StartedAt),
			string(run.Status),
			strconv.Itoa(run.Videos),
			strconv.Itoa(run.Warned),
			strconv.Itoa(run.Failed),
			strconv.Itoa(run.Encoded),
			strconv.Itoa(run.Reused),
			humanize.Bytes(uint64(run.Bytes)),
		})
	}
	return renderTable(w, headers, rows, aligns)
}
