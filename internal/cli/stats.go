package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/strandlabs/mnemo-go-sdk/memory"
)

func init() {
	cmd := &cobra.Command{
		Use:   "stats <item-id>",
		Short: "Show tool call statistics for a tool item",
		Args:  cobra.ExactArgs(1),
		Run:   runStats,
	}

	cmd.Flags().IntP("recent", "n", memory.DefaultConfig.ToolStatsWindow, "Number of recent calls to analyze")

	RootCmd.AddCommand(cmd)
}

func runStats(cmd *cobra.Command, args []string) {
	recent, _ := cmd.Flags().GetInt("recent")

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	it, err := s.Get(cmd.Context(), scope, args[0])
	if err != nil {
		exitErr("stats", err)
	}
	if it.Type != memory.TypeTool {
		exitErr("stats", fmt.Errorf("item %s has type %q, want %q", it.ID, it.Type, memory.TypeTool))
	}

	b, _ := json.MarshalIndent(memory.ToolStatistics(it, recent), "", "  ")
	fmt.Println(string(b))
}
