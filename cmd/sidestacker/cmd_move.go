package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/brensch/sidestacker/engine"
	"github.com/brensch/sidestacker/executor/selfplay"
	"github.com/spf13/cobra"
)

var (
	moveCmd = &cobra.Command{
		Use:   "move [board-file]",
		Short: "Print the best move for a board",
		Long: `Reads a 7x7 board, one row per line and one character per cell, with .
for empty. --mark names the side to move (x by default); the other mark is
the opponent. Reads stdin when no file is given.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runMove,
	}

	moveDifficulty string
	moveMark       string
	moveModel      string
	moveSearches   int
	moveTop        int
)

func init() {
	f := moveCmd.Flags()
	f.StringVar(&moveDifficulty, "difficulty", "medium", "easy, medium or hard")
	f.StringVar(&moveMark, "mark", "x", "mark of the side to move")
	f.StringVar(&moveModel, "model", "", "override inference.model_path")
	f.IntVar(&moveSearches, "searches", 0, "override the serving num_searches")
	f.IntVar(&moveTop, "top", 5, "root children to print")
}

func runMove(cmd *cobra.Command, args []string) error {
	level, err := engine.ParseLevel(moveDifficulty)
	if err != nil {
		return err
	}
	if moveModel != "" {
		cfg.Inference.ModelPath = moveModel
	}
	if moveSearches > 0 {
		cfg.Serving.Rollout.NumSearches = moveSearches
		cfg.Serving.Guided.NumSearches = moveSearches
	}

	var in io.Reader = cmd.InOrStdin()
	if len(args) == 1 {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}
	data, err := io.ReadAll(in)
	if err != nil {
		return err
	}

	model, err := openModel(cfg.Inference)
	if err != nil {
		return err
	}
	defer model.Close()

	eng := engine.New(cfg.Serving.Rollout.MCTS(), cfg.Serving.Guided.MCTS(), model.predictor, 0)
	d, err := eng.BestMove(cmd.Context(), parseCells(string(data)), moveMark, level)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprint(out, selfplay.FormatBoard(d.Board, d.Action, selfplay.Profile()))
	fmt.Fprintf(out, "\nbest move: row %d col %d (%s", d.Row(), d.Col(), d.Level)
	if d.Simulations > 0 {
		fmt.Fprintf(out, ", %d simulations, depth %d", d.Simulations, d.MaxDepth)
	}
	fmt.Fprintln(out, ")")

	stats := d.Stats
	sort.SliceStable(stats, func(i, j int) bool { return stats[i].Visits > stats[j].Visits })
	for i, st := range stats {
		if i >= moveTop {
			break
		}
		fmt.Fprintf(out, "  (%d,%d) N=%-5d Q=%+.3f P=%.3f\n", st.Action.Row(), st.Action.Col(), st.Visits, st.Q, st.Prior)
	}
	return nil
}

// parseCells splits a text board into one string per character. Blank lines
// are skipped; shape and alphabet are checked by the engine.
func parseCells(data string) [][]string {
	var cells [][]string
	for _, line := range strings.Split(data, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		cells = append(cells, strings.Split(line, ""))
	}
	return cells
}
