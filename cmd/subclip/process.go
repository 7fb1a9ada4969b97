package main

import (
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"time"

	"github.com/MimeLyc/subclip/internal/config"
	"github.com/MimeLyc/subclip/internal/persistence"
	"github.com/MimeLyc/subclip/internal/service"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newProcessCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "process [output]",
		Short: "Cut clips for every video in the source directory",
		Long: "Scans the source directory recursively, cuts one clip per subtitle cue and format " +
			"and writes <output>/<name>.index.json for every video with a subtitle.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var mutate []config.Option
			if len(args) == 1 {
				mutate = append(mutate, func(c *config.Config) { c.Output.Dir = args[0] })
			}
			cfg, err := ctx.loadConfig(mutate...)
			if err != nil {
				return err
			}

			store, err := persistence.NewSQLiteStore(cfg.DBPath())
			if err != nil {
				return err
			}
			defer store.Close()

			svc, err := service.New(*cfg, service.WithRecorder(store), service.WithJobStore(store))
			if err != nil {
				return err
			}
			defer svc.Close()

			summary, err := svc.Run(cmd.Context())
			out := cmd.OutOrStdout()
			if len(summary.Results) > 0 {
				fmt.Fprintln(out, renderSummary(out, summary))
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%d videos, %d clips encoded, %d reused, %d failed, %d cues skipped, %s in %s\n",
				summary.Videos, summary.Encoded, summary.Reused, summary.FailedClips, summary.Skipped,
				humanize.Bytes(uint64(summary.Bytes)), summary.Elapsed.Round(time.Millisecond))
			if summary.Failed > 0 {
				return fmt.Errorf("%d of %d videos failed", summary.Failed, summary.Videos)
			}
			return nil
		},
	}
}

func renderSummary(w io.Writer, summary service.RunSummary) string {
	headers := []string{"Video", "State", "Encoded", "Reused", "Failed", "Skipped", "Size", "Time"}
	aligns := []columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight, alignRight}
	rows := make([][]string, 0, len(summary.Results))
	for _, res := range summary.Results {
		state := res.State
		if res.Error != "" {
			state = "failed"
		}
		rows = append(rows, []string{
			filepath.Base(res.VideoPath),
			state,
			strconv.Itoa(res.Encoded),
			strconv.Itoa(res.Reused),
			strconv.Itoa(res.Failed),
			strconv.Itoa(res.Skipped),
			humanize.Bytes(uint64(res.Bytes)),
			(time.Duration(res.ElapsedMs) * time.Millisecond).String(),
		})
	}
	return renderTable(w, headers, rows, aligns)
}
