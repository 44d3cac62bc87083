package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/brensch/sidestacker/viewer"
	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats [dir...]",
	Short: "Aggregate outcomes per self-play iteration across shard directories",
	Long: `Queries every finished shard under the given directories with DuckDB and
prints games, samples and wins per iteration. Without arguments
server.data_dirs is used.`,
	RunE: runStats,
}

func runStats(cmd *cobra.Command, args []string) error {
	dirs := cfg.Server.DataDirs
	if len(args) > 0 {
		dirs = args
	}
	if len(dirs) == 0 {
		return fmt.Errorf("no data directories given")
	}

	cache := viewer.NewDBCache(dirs, time.Minute)
	defer cache.Close()

	st, err := cache.Stats(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "shards=%d samples=%d games=%d\n", st.Shards, st.Samples, st.Games)
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ITER\tGAMES\tSAMPLES\tA\tB\tDRAW\tAVG PLIES")
	for _, it := range st.Iterations {
		fmt.Fprintf(tw, "%d\t%d\t%d\t%d\t%d\t%d\t%.1f\n",
			it.Iteration, it.Games, it.Samples, it.WinsA, it.WinsB, it.Draws, it.AvgPlies)
	}
	return tw.Flush()
}
