package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/strandlabs/mnemo-go-sdk/memory"
)

func init() {
	cmd := &cobra.Command{
		Use:   "put [summary]",
		Short: "Store a memory item",
		Long:  "Store a memory item. The summary can be a positional arg or piped via stdin. Items with the same normalized summary and type are reinforced rather than duplicated.",
		Run:   runPut,
	}

	cmd.Flags().StringP("type", "t", "knowledge", "Memory type: profile, event, knowledge, behavior, skill, tool")
	cmd.Flags().Float64P("confidence", "c", 0.8, "Extraction confidence in [0,1]")
	cmd.Flags().StringP("entities", "e", "", "Comma-separated entity tags")
	cmd.Flags().String("meta", "", "JSON metadata")

	RootCmd.AddCommand(cmd)
}

func runPut(cmd *cobra.Command, args []string) {
	memType, _ := cmd.Flags().GetString("type")
	confidence, _ := cmd.Flags().GetFloat64("confidence")
	entitiesStr, _ := cmd.Flags().GetString("entities")
	meta, _ := cmd.Flags().GetString("meta")

	// Summary: positional arg first, then stdin
	var summary string
	if len(args) > 0 {
		summary = strings.Join(args, " ")
	} else {
		stat, _ := os.Stdin.Stat()
		if (stat.Mode() & os.ModeCharDevice) == 0 {
			b, err := io.ReadAll(os.Stdin)
			if err != nil {
				exitErr("read stdin", err)
			}
			summary = string(b)
		}
	}
	if strings.TrimSpace(summary) == "" {
		exitErr("put", fmt.Errorf("summary is required (positional arg or stdin)"))
	}

	it := &memory.Item{
		Type:       memory.Type(memType),
		Summary:    strings.TrimSpace(summary),
		Confidence: confidence,
		Entities:   splitCSV(entitiesStr),
	}
	if meta != "" {
		if err := json.Unmarshal([]byte(meta), &it.Metadata); err != nil {
			exitErr("parse meta", err)
		}
	}

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	stored, inserted, err := s.Upsert(cmd.Context(), scope, it)
	if err != nil {
		exitErr("put", err)
	}

	out := struct {
		*memory.Item
		Inserted bool `json:"inserted"`
	}{stored, inserted}
	b, _ := json.Marshal(out)
	fmt.Println(string(b))
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
