/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: sessions.go
Description: Sessions command. Lists the saved sessions with their status and guess
counts, and deletes sessions that are no longer needed.
*/

package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/kleascm/akaylee-pcfg/pkg/session"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// ListSessions executes the sessions command
func ListSessions(cmd *cobra.Command, args []string) error {
	if err := LoadConfig(); err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	store, err := openSessions(viper.GetString("session_dir"))
	if err != nil {
		return err
	}
	defer store.Close()
	return PrintSessions(context.Background(), cmd.OutOrStdout(), store)
}

// PrintSessions writes a table of every session, most recently updated first
func PrintSessions(ctx context.Context, w io.Writer, store *session.Store) error {
	sessions, err := store.List(ctx)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Fprintln(w, "No saved sessions")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSTATUS\tGUESSES\tMARKOV\tUPDATED\tRULESET")
	for _, s := range sessions {
		markov := "on"
		if s.NoMarkov {
			markov = "off"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\n",
			s.Name,
			s.Status,
			s.Guesses,
			markov,
			s.UpdatedAt.Local().Format(time.DateTime),
			s.Ruleset,
		)
	}
	return tw.Flush()
}

// DeleteSession executes the sessions delete command
func DeleteSession(cmd *cobra.Command, args []string) error {
	if err := LoadConfig(); err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	dir := viper.GetString("session_dir")
	store, err := openSessions(dir)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	sess, err := store.Get(ctx, args[0])
	if err != nil {
		return err
	}
	if err := store.Delete(ctx, sess.Name); err != nil {
		return err
	}
	// Scratch space of the badger overflow backend
	if err := os.RemoveAll(filepath.Join(dir, "overflow", sess.ID)); err != nil {
		return fmt.Errorf("failed to remove overflow data: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted session %s\n", sess.Name)
	return nil
}
