package main

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/MimeLyc/subclip/internal/config"
	"github.com/MimeLyc/subclip/internal/scheduler"
	"github.com/MimeLyc/subclip/internal/service"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newClipCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "clip <video> [output]",
		Short: "Cut clips for a single video",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			mutate := []config.Option{func(c *config.Config) { c.Source.Dir = "" }}
			if len(args) == 2 {
				mutate = append(mutate, func(c *config.Config) { c.Output.Dir = args[1] })
			}
			cfg, err := ctx.loadConfig(mutate...)
			if err != nil {
				return err
			}

			svc, err := service.New(*cfg)
			if err != nil {
				return err
			}
			defer svc.Close()

			res, err := svc.Clip(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if res.State == scheduler.StateWarnedAndSkipped {
				fmt.Fprintf(out, "Skipped: %s\n", res.Warning)
				return nil
			}
			fmt.Fprintln(out, renderOutcomes(out, res))
			fmt.Fprintf(out, "Index written to %s\n", res.Index)
			return nil
		},
	}
}

func renderOutcomes(w io.Writer, res *scheduler.VideoResult) string {
	headers := []string{"Clip", "Outputs", "Status"}
	rows := make([][]string, 0, len(res.Outcomes))
	for _, o := range res.Outcomes {
		formats := make([]string, 0, len(o.Sizes))
		for format := range o.Sizes {
			formats = append(formats, format)
		}
		sort.Strings(formats)
		outputs := make([]string, 0, len(formats))
		for _, format := range formats {
			outputs = append(outputs, fmt.Sprintf("%s %s", format, humanize.Bytes(uint64(o.Sizes[format]))))
		}

		status := "ok"
		switch {
		case o.Skipped:
			status = "skipped: " + o.Reason
		case o.Failed:
			status = "failed"
		}
		rows = append(rows, []string{o.CueID, strings.Join(outputs, ", "), status})
	}
	return renderTable(w, headers, rows, nil)
}
