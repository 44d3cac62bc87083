package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/brensch/sidestacker/executor/mcts"
	"github.com/brensch/sidestacker/executor/selfplay"
	"github.com/brensch/sidestacker/game"
	"github.com/brensch/sidestacker/store"
	"github.com/spf13/cobra"
)

var (
	inspectCmd = &cobra.Command{
		Use:   "inspect [shard-or-dir]",
		Short: "Summarize self-play sample shards",
		Long: `Prints row counts, row groups and the outcome histogram of each shard.
A directory argument inspects every finished shard in it; without an argument
selfplay.out_dir is used.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runInspect,
	}

	inspectShow int
)

func init() {
	inspectCmd.Flags().IntVar(&inspectShow, "show", 1, "decoded samples to print per shard")
}

func runInspect(cmd *cobra.Command, args []string) error {
	target := cfg.SelfPlay.OutDir
	if len(args) == 1 {
		target = args[0]
	}

	paths := []string{target}
	if st, err := os.Stat(target); err != nil {
		return err
	} else if st.IsDir() {
		paths, err = store.ListShards(target)
		if err != nil {
			return err
		}
		if len(paths) == 0 {
			return fmt.Errorf("no shards in %s", target)
		}
	}

	out := cmd.OutOrStdout()
	for _, path := range paths {
		info, err := store.InspectShard(path)
		if err != nil {
			return err
		}
		rows, err := store.ReadSamples(path)
		if err != nil {
			return err
		}

		games := map[string]struct{}{}
		outcomes := map[float32]int{}
		for _, r := range rows {
			games[r.GameID] = struct{}{}
			outcomes[r.Value]++
		}
		fmt.Fprintf(out, "%s\n  schema=%s rows=%d row_groups=%d games=%d\n", info.Path, info.Schema, info.Rows, info.RowGroups, len(games))
		fmt.Fprintf(out, "  outcomes: win=%d loss=%d draw=%d\n", outcomes[1], outcomes[-1], outcomes[0])

		for i := 0; i < inspectShow && i < len(rows); i++ {
			if err := printSample(cmd, rows[i]); err != nil {
				return err
			}
		}
	}
	return nil
}

func printSample(cmd *cobra.Command, r store.SampleRow) error {
	b, err := game.FromCells(r.Cells())
	if err != nil {
		return fmt.Errorf("game %s ply %d: %w", r.GameID, r.Ply, err)
	}
	var root []mcts.ChildStat
	if len(r.MCTSRootJSON) > 0 {
		if err := json.Unmarshal(r.MCTSRootJSON, &root); err != nil {
			return fmt.Errorf("game %s ply %d: root summary: %w", r.GameID, r.Ply, err)
		}
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "\n  game %s ply %d mover %s value %+.0f iteration %d\n", r.GameID, r.Ply, game.Player(r.Mover), r.Value, r.Iteration)
	fmt.Fprint(out, selfplay.FormatBoard(b, game.Action(r.Action), selfplay.Profile()))
	for _, st := range root {
		if st.Visits == 0 {
			continue
		}
		fmt.Fprintf(out, "  (%d,%d) pi=%.3f N=%d Q=%+.3f P=%.3f\n", st.Action.Row(), st.Action.Col(), r.Policy[st.Action], st.Visits, st.Q, st.Prior)
	}
	return nil
}
