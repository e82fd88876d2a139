package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/strandlabs/mnemo-go-sdk/memory"
)

func init() {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List memory items",
		Run:   runList,
	}

	cmd.Flags().StringP("type", "t", "", "Filter by memory type")
	cmd.Flags().StringP("entities", "e", "", "Filter by entity tags (comma-separated, any match)")
	cmd.Flags().Float64("min-confidence", 0, "Minimum confidence")
	cmd.Flags().Int("days", 0, "Only items from the last N days")
	cmd.Flags().Bool("summaries-only", false, "Only output id and summary lines")

	RootCmd.AddCommand(cmd)
}

func runList(cmd *cobra.Command, args []string) {
	memType, _ := cmd.Flags().GetString("type")
	entitiesStr, _ := cmd.Flags().GetString("entities")
	minConf, _ := cmd.Flags().GetFloat64("min-confidence")
	days, _ := cmd.Flags().GetInt("days")
	summariesOnly, _ := cmd.Flags().GetBool("summaries-only")

	var p memory.FilterParams
	if memType != "" {
		p.MemoryTypes = []memory.Type{memory.Type(memType)}
	}
	p.EntityTypes = splitCSV(entitiesStr)
	if minConf > 0 {
		p.MinConfidence = &minConf
	}
	p.TimeRangeDays = days

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	items, err := s.Filter(cmd.Context(), scope, p)
	if err != nil {
		exitErr("list", err)
	}

	if summariesOnly {
		for _, it := range items {
			fmt.Printf("%s\t%s\n", it.ID, it.Summary)
		}
		return
	}

	b, _ := json.MarshalIndent(items, "", "  ")
	fmt.Println(string(b))
}
