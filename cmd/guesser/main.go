/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: main.go
Description: Command-line interface for the PCFG guesser. Generates password guesses in
descending probability order from a trained ruleset, saves and resumes named sessions,
and checks rulesets before long runs.
*/

package main

import (
	"fmt"
	"os"
	"time"

	"github.com/kleascm/akaylee-pcfg/cmd/guesser/commands"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "guesser",
		Short: "Probabilistic grammar password guess generator",
		Long: `Generates password guesses from a trained probabilistic context-free grammar,
most likely first. Guesses stream to standard output one per line; logs go to
standard error. Runs can be saved as named sessions and resumed later without
repeating or skipping a guess.`,
		SilenceUsage: true,
	}

	// Global flags
	rootCmd.PersistentFlags().String("config", "", "Config file path")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "custom", "Log format (custom, text, json)")
	rootCmd.PersistentFlags().String("log-dir", "", "Also write logs to timestamped files in this directory")
	rootCmd.PersistentFlags().Int("log-max-files", 10, "Log files kept in the log directory")
	rootCmd.PersistentFlags().String("rules", "", "Ruleset directory")
	rootCmd.PersistentFlags().Bool("no-markov", false, "Disable the Markov leaf; its probability mass becomes unreachable")
	rootCmd.PersistentFlags().String("session-dir", "./sessions", "Directory holding the session database")

	viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("log_format", rootCmd.PersistentFlags().Lookup("log-format"))
	viper.BindPFlag("log_dir", rootCmd.PersistentFlags().Lookup("log-dir"))
	viper.BindPFlag("log_max_files", rootCmd.PersistentFlags().Lookup("log-max-files"))
	viper.BindPFlag("rules", rootCmd.PersistentFlags().Lookup("rules"))
	viper.BindPFlag("no_markov", rootCmd.PersistentFlags().Lookup("no-markov"))
	viper.BindPFlag("session_dir", rootCmd.PersistentFlags().Lookup("session-dir"))

	// Add generate command
	generateCmd := &cobra.Command{
		Use:   "generate",
		Short: "Stream guesses in descending probability order",
		Long: `Stream guesses to standard output, or to --output, until the grammar is
exhausted, the reader goes away, --limit is reached or the process is interrupted.
With --session the run is recorded and can be continued later with --load.`,
		RunE: commands.RunGenerate,
	}

	generateCmd.Flags().String("session", "", "Name of the session to record this run under")
	generateCmd.Flags().Bool("load", false, "Resume the named session instead of starting it")
	generateCmd.Flags().Int("max-queue-size", 1_000_000, "Resident queue size that triggers eviction (0 = unbounded)")
	generateCmd.Flags().Float64("evict-fraction", 1.0/3.0, "Share of the queue evicted per pass (0.25 to 0.5)")
	generateCmd.Flags().Int("channel-size", 64, "Pre-terminals buffered between queue and expander")
	generateCmd.Flags().Bool("overflow", false, "Keep evicted entries in an overflow store instead of regenerating them")
	generateCmd.Flags().String("overflow-backend", "memory", "Overflow store backend (memory, badger)")
	generateCmd.Flags().Int("overflow-max-size", 50_000_000, "Entries kept in the overflow store")
	generateCmd.Flags().Int("overflow-batch-size", 100_000, "Entries restored from the overflow store per rebuild")
	generateCmd.Flags().Int64("limit", 0, "Stop after this many guesses in total (0 = no limit)")
	generateCmd.Flags().Float64("max-rate", 0, "Maximum guesses per second (0 = unlimited)")
	generateCmd.Flags().String("output", "-", "Output file, - for standard output")
	generateCmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9120)")
	generateCmd.Flags().Duration("stats-interval", 30*time.Second, "Interval between progress log lines (0 = off)")
	generateCmd.Flags().Bool("verify-unique", false, "Track every popped derivation and fail on repeats")
	generateCmd.Flags().String("report-dir", "", "Write a JSON summary of the run to this directory")

	viper.BindPFlag("session", generateCmd.Flags().Lookup("session"))
	viper.BindPFlag("load", generateCmd.Flags().Lookup("load"))
	viper.BindPFlag("max_queue_size", generateCmd.Flags().Lookup("max-queue-size"))
	viper.BindPFlag("evict_fraction", generateCmd.Flags().Lookup("evict-fraction"))
	viper.BindPFlag("channel_size", generateCmd.Flags().Lookup("channel-size"))
	viper.BindPFlag("overflow.enabled", generateCmd.Flags().Lookup("overflow"))
	viper.BindPFlag("overflow.backend", generateCmd.Flags().Lookup("overflow-backend"))
	viper.BindPFlag("overflow.max_size", generateCmd.Flags().Lookup("overflow-max-size"))
	viper.BindPFlag("overflow.batch_size", generateCmd.Flags().Lookup("overflow-batch-size"))
	viper.BindPFlag("limit", generateCmd.Flags().Lookup("limit"))
	viper.BindPFlag("max_rate", generateCmd.Flags().Lookup("max-rate"))
	viper.BindPFlag("output", generateCmd.Flags().Lookup("output"))
	viper.BindPFlag("metrics_addr", generateCmd.Flags().Lookup("metrics-addr"))
	viper.BindPFlag("stats_interval", generateCmd.Flags().Lookup("stats-interval"))
	viper.BindPFlag("verify_unique", generateCmd.Flags().Lookup("verify-unique"))
	viper.BindPFlag("report_dir", generateCmd.Flags().Lookup("report-dir"))

	rootCmd.AddCommand(generateCmd)

	// Add check command
	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Validate a ruleset and preview its most likely pre-terminals",
		Long: `Load the ruleset and the Markov model, report their sizes, and list the most
likely pre-terminals with their probabilities. Useful before a long run and in CI.`,
		RunE: commands.RunCheck,
	}

	checkCmd.Flags().Int("preview", 10, "Pre-terminals to list")
	checkCmd.Flags().StringSlice("score", []string{}, "Strings to score against the Markov model")

	viper.BindPFlag("check.preview", checkCmd.Flags().Lookup("preview"))
	viper.BindPFlag("check.score", checkCmd.Flags().Lookup("score"))

	rootCmd.AddCommand(checkCmd)

	// Add sessions command
	sessionsCmd := &cobra.Command{
		Use:   "sessions",
		Short: "List saved sessions",
		RunE:  commands.ListSessions,
	}
	sessionsCmd.AddCommand(&cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a saved session",
		Args:  cobra.ExactArgs(1),
		RunE:  commands.DeleteSession,
	})

	rootCmd.AddCommand(sessionsCmd)

	// Execute root command
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
