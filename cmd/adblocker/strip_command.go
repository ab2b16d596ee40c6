package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/maxharrison/podcast-adblocker/internal/advert"
)

func newStripCommand(ctx *commandContext) *cobra.Command {
	var audioPath string
	var intervalsPath string
	var outDir string

	cmd := &cobra.Command{
		Use:   "strip",
		Short: "Cut known advert intervals out of a local audio file",
		Long: "Cut known advert intervals out of a local audio file.\n\n" +
			"The intervals file is YAML or JSON: a list of {start, end} objects or\n" +
			"[start, end] pairs, in seconds.",
		RunE: func(cmd *cobra.Command, args []string) error {
			set, err := readIntervals(intervalsPath)
			if err != nil {
				return err
			}
			deps, _, _, err := ctx.localDependencies()
			if err != nil {
				return err
			}
			out, err := deps.Service.StripLocal(cmd.Context(), audioPath, set, outDir)
			if err != nil {
				return err
			}
			printSummary(cmd.OutOrStdout(), out)
			return nil
		},
	}

	cmd.Flags().StringVarP(&audioPath, "audio", "a", "", "Audio file to strip")
	cmd.Flags().StringVarP(&intervalsPath, "intervals", "i", "", "YAML or JSON file of advert intervals")
	cmd.Flags().StringVarP(&outDir, "out", "o", "", "Output directory (defaults to OUTPUT_DIR)")
	_ = cmd.MarkFlagRequired("audio")
	_ = cmd.MarkFlagRequired("intervals")
	return cmd
}

func readIntervals(path string) (advert.Set, error) {
	data, err := os.ReadFile(path) // #nosec G304 - path is a CLI argument
	if err != nil {
		return advert.Set{}, fmt.Errorf("read intervals: %w", err)
	}
	return parseIntervals(data)
}

// parseIntervals decodes a YAML (or JSON) list whose items are either
// {start, end} mappings or two-number sequences.
func parseIntervals(data []byte) (advert.Set, error) {
	var nodes []yaml.Node
	if err := yaml.Unmarshal(data, &nodes); err != nil {
		return advert.Set{}, fmt.Errorf("parse intervals: %w", err)
	}

	intervals := make([]advert.Interval, 0, len(nodes))
	for i, node := range nodes {
		var iv advert.Interval
		switch node.Kind {
		case yaml.MappingNode:
			if err := node.Decode(&iv); err != nil {
				return advert.Set{}, fmt.Errorf("parse intervals: item %d: %w", i, err)
			}
		case yaml.SequenceNode:
			var pair []float64
			if err := node.Decode(&pair); err != nil {
				return advert.Set{}, fmt.Errorf("parse intervals: item %d: %w", i, err)
			}
			if len(pair) != 2 {
				return advert.Set{}, fmt.Errorf("parse intervals: item %d: want [start, end], got %d numbers", i, len(pair))
			}
			iv = advert.Interval{Start: pair[0], End: pair[1]}
		default:
			return advert.Set{}, fmt.Errorf("parse intervals: item %d: want a mapping or a pair", i)
		}
		intervals = append(intervals, iv)
	}
	return advert.NewSet(intervals)
}
