package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shayc/conductor/internal/store"
)

var agentHealthCmd = &cobra.Command{
	Use:   "agent-health",
	Short: "Print the health and circuit state of every known agent",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAgentHealth()
	},
}

func init() {
	rootCmd.AddCommand(agentHealthCmd)
}

func runAgentHealth() error {
	db, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	defer db.Close()

	health := store.NewHealthStore(db)
	summaries, err := health.List(context.Background())
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	if len(summaries) == 0 {
		fmt.Println("no agent health records yet")
		return nil
	}
	for _, s := range summaries {
		fmt.Printf("%-20s %-10s failures=%d\n", s.AgentName, s.Health, s.ConsecutiveFailures)
	}
	return nil
}
