// Command sidestacker runs self-play, serves best-move requests and inspects
// the sample shards self-play produces.
package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/brensch/sidestacker/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	rootCmd = &cobra.Command{
		Use:   "sidestacker",
		Short: "Side-stacker MCTS engine, self-play generator and server",
		Long: `sidestacker plays the side-stacking connect-four variant on a 7x7 board.
It searches with random rollouts or an ONNX policy/value model, generates
self-play training shards, and serves best moves over HTTP and WebSocket.`,
		SilenceUsage:      true,
		PersistentPreRunE: loadConfig,
	}

	configPath string
	logLevel   string

	// cfg is populated by loadConfig before any subcommand runs.
	cfg config.Config
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "sidestacker.yaml", "path to the YAML config; missing file means defaults")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log.level (trace, debug, info, warn, error)")

	rootCmd.AddCommand(selfplayCmd, serveCmd, moveCmd, inspectCmd, statsCmd, initCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command, _ []string) error {
	loaded, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if logLevel != "" {
		loaded.Log.Level = strings.ToLower(logLevel)
	}
	cfg = loaded
	return setupLogging(cfg.Log, cmd.ErrOrStderr())
}

func setupLogging(lc config.LogConfig, w io.Writer) error {
	level, err := zerolog.ParseLevel(lc.Level)
	if err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	if lc.Pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05.000"}
	}
	log.Logger = zerolog.New(w).With().Timestamp().Logger()
	return nil
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default configuration to --config",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := config.WriteDefault(configPath); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", configPath)
		return nil
	},
}
