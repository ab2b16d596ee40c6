package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/maxharrison/podcast-adblocker/internal/pipeline"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var feedURL string
	var outDir string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Remove adverts from the latest episode of the feed",
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, _, _, err := ctx.dependencies()
			if err != nil {
				return err
			}
			out, err := deps.Service.Process(cmd.Context(), pipeline.Input{FeedURL: feedURL, OutputDir: outDir})
			if err != nil {
				if errors.Is(err, pipeline.ErrRunInProgress) {
					return fmt.Errorf("%w; try again when it has finished", err)
				}
				return err
			}
			printSummary(cmd.OutOrStdout(), out)
			return nil
		},
	}

	cmd.Flags().StringVar(&feedURL, "feed", "", "RSS feed URL (defaults to RSS_FEED)")
	cmd.Flags().StringVarP(&outDir, "out", "o", "", "Output directory (defaults to OUTPUT_DIR)")
	return cmd
}

// printSummary reports what a run removed and where it wrote the results.
func printSummary(w io.Writer, out *pipeline.Output) {
	if out.Episode != nil {
		fmt.Fprintf(w, "Episode: %s\n", out.Episode.Title)
	}

	rows := make([][]string, 0, len(out.Plan.Removed))
	for i, ad := range out.Plan.Removed {
		file := ""
		if out.Artifacts != nil && i < len(out.Artifacts.Adverts) {
			file = out.Artifacts.Adverts[i]
		}
		rows = append(rows, []string{
			strconv.Itoa(ad.Position),
			formatOffset(ad.Start),
			formatOffset(ad.End),
			formatOffset(ad.Duration()),
			file,
		})
	}
	if len(rows) == 0 {
		fmt.Fprintln(w, "No adverts found")
	} else {
		fmt.Fprintln(w, renderTable(
			[]string{"#", "Start", "End", "Length", "File"},
			rows,
			[]columnAlignment{alignRight, alignRight, alignRight, alignRight, alignLeft},
		))
	}

	fmt.Fprintf(w, "Removed: %s, kept: %s\n", formatOffset(out.Plan.RemovedDuration()), formatOffset(out.Plan.KeptDuration()))
	if out.Artifacts != nil {
		fmt.Fprintf(w, "Output:  %s\n", out.Artifacts.Output)
	}
	if out.FeedURL != "" {
		fmt.Fprintf(w, "Feed:    %s\n", out.FeedURL)
	}
	for _, warn := range out.Run.Warnings {
		fmt.Fprintf(w, "Warning: %s\n", warn)
	}
}

// formatOffset renders d as h:mm:ss.mmm, dropping the hour when zero.
func formatOffset(d time.Duration) string {
	d = d.Round(time.Millisecond)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second
	ms := (d - s*time.Second) / time.Millisecond
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d.%03d", h, m, s, ms)
	}
	return fmt.Sprintf("%d:%02d.%03d", m, s, ms)
}
