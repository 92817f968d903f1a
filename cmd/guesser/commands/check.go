/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: check.go
Description: Check command. Validates a ruleset and its Markov model, prints their
sizes and previews the most likely pre-terminals so a ruleset can be verified before a
long run.
*/

package commands

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/kleascm/akaylee-pcfg/pkg/core"
	"github.com/kleascm/akaylee-pcfg/pkg/expansion"
	"github.com/kleascm/akaylee-pcfg/pkg/grammar"
	"github.com/kleascm/akaylee-pcfg/pkg/markov"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// CheckOptions configures a ruleset check
type CheckOptions struct {
	Rules    string
	NoMarkov bool
	Preview  int      // Pre-terminals to list
	Score    []string // Strings to score against the Markov model
}

// RunCheck executes the check command
func RunCheck(cmd *cobra.Command, args []string) error {
	logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Close()

	opts := CheckOptions{
		Rules:    viper.GetString("rules"),
		NoMarkov: viper.GetBool("no_markov"),
		Preview:  viper.GetInt("check.preview"),
		Score:    viper.GetStringSlice("check.score"),
	}
	return Check(cmd.Context(), cmd.OutOrStdout(), opts)
}

// Check loads the ruleset and writes a report to w
func Check(ctx context.Context, w io.Writer, opts CheckOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.Rules == "" {
		return fmt.Errorf("no ruleset given (use --rules)")
	}

	fmt.Fprintln(w, "🔍 PCFG Guesser - Ruleset Check")
	fmt.Fprintln(w, "===============================")
	fmt.Fprintln(w)

	rs, err := grammar.Load(opts.Rules, grammar.LoadOptions{DisableMarkov: opts.NoMarkov})
	if err != nil {
		fmt.Fprintf(w, "❌ Grammar: %v\n", err)
		return err
	}
	g := rs.Grammar
	printGrammarStats(w, rs)

	var model *markov.Model
	if g.HasMarkov() {
		if rs.OmenDir() == "" {
			err := fmt.Errorf("grammar has Markov rules but names no omen directory")
			fmt.Fprintf(w, "❌ Markov: %v\n", err)
			return err
		}
		model, err = markov.Load(rs.OmenDir())
		if err != nil {
			fmt.Fprintf(w, "❌ Markov: %v\n", err)
			return err
		}
		printMarkovStats(w, model, opts.Score)
	} else {
		fmt.Fprintln(w, "Markov: not used")
		fmt.Fprintln(w)
	}

	if opts.Preview > 0 {
		if err := previewPreTerminals(ctx, w, g, model, opts.Preview); err != nil {
			fmt.Fprintf(w, "❌ Preview: %v\n", err)
			return err
		}
	}

	fmt.Fprintln(w, "✅ Ruleset is ready")
	return nil
}

func printGrammarStats(w io.Writer, rs *grammar.Ruleset) {
	s := rs.Grammar.Stats()
	fmt.Fprintf(w, "Grammar: %s (version %s)\n", rs.Dir, rs.Grammar.Version())
	fmt.Fprintf(w, "   Non-terminals: %d\n", s.NonTerminals)
	fmt.Fprintf(w, "   Replacements:  %d\n", s.Replacements)
	fmt.Fprintf(w, "   Values:        %d\n", s.Values)

	functions := make([]string, 0, len(s.ByFunction))
	for fn := range s.ByFunction {
		functions = append(functions, fn)
	}
	sort.Strings(functions)
	for _, fn := range functions {
		fmt.Fprintf(w, "   %-14s %d\n", fn+":", s.ByFunction[fn])
	}
	fmt.Fprintln(w)
}

func printMarkovStats(w io.Writer, model *markov.Model, score []string) {
	s := model.Stats()
	fmt.Fprintf(w, "Markov: %d-gram over %d characters\n", s.Ngram, len(model.Alphabet()))
	fmt.Fprintf(w, "   Prefixes:      %d\n", s.Prefixes)
	fmt.Fprintf(w, "   Transitions:   %d\n", s.Transitions)
	fmt.Fprintf(w, "   Lengths:       %d to %d\n", s.MinLength, s.MaxLength)
	for _, guess := range score {
		if level, ok := model.Level(guess); ok {
			fmt.Fprintf(w, "   Level of %q: %d\n", guess, level)
		} else {
			fmt.Fprintf(w, "   Level of %q: not generated\n", guess)
		}
	}
	fmt.Fprintln(w)
}

// previewPreTerminals lists the first n pre-terminals with their probabilities and guess
// counts
func previewPreTerminals(ctx context.Context, w io.Writer, g *grammar.Grammar, model *markov.Model, n int) error {
	queue := core.NewGuessQueue(g, core.QueueConfig{}, nil, nil, nil)
	fmt.Fprintf(w, "Most likely pre-terminals:\n")
	for i := 0; i < n; i++ {
		item, err := queue.Next(ctx)
		if err != nil {
			return err
		}
		if item == nil {
			fmt.Fprintf(w, "   (grammar exhausted after %d)\n", i)
			break
		}
		exp, err := expansion.New(g, model, item.Tree)
		if err != nil {
			return err
		}
		guesses := "markov"
		if size := exp.Size(); size >= 0 {
			guesses = fmt.Sprintf("%d guesses", size)
		}
		fmt.Fprintf(w, "%4d. %.6g  %s  (%s)\n", i+1, item.Probability, g.Describe(item.Tree), guesses)
	}
	fmt.Fprintln(w)
	return nil
}
