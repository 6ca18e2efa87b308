package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/codecowboy/cowboy/internal/auth"
	"github.com/codecowboy/cowboy/internal/store"
)

// sessionsCmd represents the sessions command
var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect sessions held by the session store",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all sessions",
	RunE:  runSessionsList,
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <session-id>",
	Short: "Delete a session",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsDelete,
}

func init() {
	rootCmd.AddCommand(sessionsCmd)
	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsDeleteCmd)
}

// storeClient builds a session store client from the loaded configuration.
func storeClient() *store.Client {
	var opts []store.Option
	if cfg.Store.Token != "" {
		opts = append(opts, store.WithTokenSource(auth.NewStaticTokenSource(cfg.Store.Token)))
	}
	return store.New(cfg.Store.BaseURL, opts...)
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	sessions, err := storeClient().ListSessions(context.Background())
	if err != nil {
		return err
	}

	if len(sessions) == 0 {
		fmt.Println("No sessions")
		return nil
	}
	for _, s := range sessions {
		name := s.Name
		if name == "" {
			name = "(unnamed)"
		}
		fmt.Printf("%s  %-30s %d message(s)\n", s.ID, name, len(s.Messages))
	}
	return nil
}

func runSessionsDelete(cmd *cobra.Command, args []string) error {
	if err := storeClient().DeleteSession(context.Background(), args[0]); err != nil {
		return err
	}
	fmt.Printf("Deleted session %s\n", args[0])
	return nil
}
