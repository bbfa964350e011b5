package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/wilsonaustin10/arnoldaibackend/statestore"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions [session-id]",
	Short: "Inspect persisted session metrics",
	Long: `Lists the sessions with a stored metrics snapshot, or prints one
snapshot as JSON. Snapshots outlive the process only when redis.addr is set.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, closeFn, err := openSnapshotStore(cmd.Context(), cfg.Redis)
		if err != nil {
			return err
		}
		defer closeFn()

		if cfg.Redis.Addr == "" {
			fmt.Fprintln(cmd.ErrOrStderr(),
				"Note: no redis.addr configured; the in-memory store is empty outside a running server.")
		}
		if len(args) == 1 {
			return printSnapshot(cmd, store, args[0])
		}
		return listSnapshots(cmd, store)
	},
}

func init() {
	sessionsCmd.Flags().String("redis-addr", "", "Redis address holding session snapshots")
	sessionsCmd.PreRun = func(cmd *cobra.Command, _ []string) {
		_ = viper.BindPFlag("redis.addr", cmd.Flags().Lookup("redis-addr"))
	}
	rootCmd.AddCommand(sessionsCmd)
}

func listSnapshots(cmd *cobra.Command, store statestore.Store) error {
	ids, err := store.List(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}
	out := cmd.OutOrStdout()
	if len(ids) == 0 {
		fmt.Fprintln(out, "No session snapshots found.")
		return nil
	}

	fmt.Fprintf(out, "Found %d session(s):\n", len(ids))
	for _, id := range ids {
		snap, err := store.Load(cmd.Context(), id)
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "Error loading session %s: %v\n", id, err)
			continue
		}
		writeSummary(out, snap)
	}
	return nil
}

func writeSummary(w io.Writer, s *statestore.Snapshot) {
	state := "disconnected"
	if s.Connected {
		state = "connected"
	}
	fmt.Fprintf(w, "  - %s  %s  sent=%d received=%d errors=%d reconnects=%d calls=%d saved=%s\n",
		s.SessionID, state, s.MessagesSent, s.MessagesReceived, s.Errors, s.Reconnects,
		s.FunctionCalls, s.SavedAt.Format("2006-01-02 15:04:05"))
}

func printSnapshot(cmd *cobra.Command, store statestore.Store, id string) error {
	snap, err := store.Load(cmd.Context(), id)
	if err != nil {
		return fmt.Errorf("failed to load session %s: %w", id, err)
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}
