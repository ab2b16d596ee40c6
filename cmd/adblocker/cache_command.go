package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/maxharrison/podcast-adblocker/internal/cache"
)

func newCacheCommand(ctx *commandContext) *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and manage cached transcripts and advert intervals",
	}

	cacheCmd.AddCommand(newCacheListCommand(ctx))
	cacheCmd.AddCommand(newCacheRemoveCommand(ctx))

	return cacheCmd
}

func newCacheListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List cached results",
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, _, _, err := ctx.localDependencies()
			if err != nil {
				return err
			}
			entries, err := deps.Cache.List()
			if err != nil {
				return err
			}
			printCacheEntries(cmd.OutOrStdout(), entries)
			return nil
		},
	}
}

func printCacheEntries(out io.Writer, entries []cache.Entry) {
	if len(entries) == 0 {
		fmt.Fprintln(out, "Cache is empty")
		return
	}

	const stampLayout = "2006-01-02 15:04"
	rows := make([][]string, 0, len(entries))
	var total int64
	for _, e := range entries {
		created := "unknown"
		if !e.CreatedAt.IsZero() {
			created = e.CreatedAt.Local().Format(stampLayout)
		}
		rows = append(rows, []string{
			e.Key,
			e.Codec,
			humanize.Bytes(uint64(max(e.SizeBytes, 0))),
			created,
			humanize.Time(e.CreatedAt),
		})
		total += e.SizeBytes
	}

	fmt.Fprintln(out, renderTable(
		[]string{"Key", "Codec", "Size", "Created", "Age"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
	))
	fmt.Fprintf(out, "%d entries, %s\n", len(entries), humanize.Bytes(uint64(max(total, 0))))
}

func newCacheRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "rm KEY",
		Short: "Remove a cached result by key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, _, _, err := ctx.localDependencies()
			if err != nil {
				return err
			}
			if err := deps.Cache.Remove(args[0]); err != nil {
				if errors.Is(err, cache.ErrNotCached) {
					return fmt.Errorf("no cached result for %q", args[0])
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", args[0])
			return nil
		},
	}
}
