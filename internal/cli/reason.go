package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/spf13/cobra"

	"github.com/strandlabs/mnemo-go-sdk/memory"
	"github.com/strandlabs/mnemo-go-sdk/memory/embedder/httpapi"
	"github.com/strandlabs/mnemo-go-sdk/memory/embedder/mock"
	"github.com/strandlabs/mnemo-go-sdk/reason"
	anthropicinfer "github.com/strandlabs/mnemo-go-sdk/reason/infer/anthropic"
)

func init() {
	cmd := &cobra.Command{
		Use:   "reason <goal>",
		Short: "Reason over stored memories",
		Long:  "Run the reasoning engine against the scope's memories. Requires ANTHROPIC_API_KEY. Set MNEMO_EMBED_URL to use an Ollama-compatible embedding server instead of the deterministic mock embedder.",
		Args:  cobra.ExactArgs(1),
		Run:   runReason,
	}

	cmd.Flags().Int("depth", 1, "Graph traversal depth (1-5)")
	cmd.Flags().Int("max-results", 10, "Maximum memories to consider (1-100)")
	cmd.Flags().StringP("type", "t", "", "Restrict to one memory type")
	cmd.Flags().Bool("tool-stats", false, "Include tool statistics in the prompt")
	cmd.Flags().Bool("write-derived", false, "Persist high-confidence conclusions as derived memories")
	cmd.Flags().Bool("trace", false, "Print the full trace instead of just the answer")

	RootCmd.AddCommand(cmd)
}

func runReason(cmd *cobra.Command, args []string) {
	depth, _ := cmd.Flags().GetInt("depth")
	maxResults, _ := cmd.Flags().GetInt("max-results")
	memType, _ := cmd.Flags().GetString("type")
	toolStats, _ := cmd.Flags().GetBool("tool-stats")
	writeDerived, _ := cmd.Flags().GetBool("write-derived")
	showTrace, _ := cmd.Flags().GetBool("trace")

	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" {
		exitErr("reason", fmt.Errorf("ANTHROPIC_API_KEY is not set"))
	}

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	var emb memory.Embedder
	if embedURL := os.Getenv("MNEMO_EMBED_URL"); embedURL != "" {
		emb, err = httpapi.New(httpapi.Config{BaseURL: embedURL, Model: "nomic-embed-text", Dimensions: 768})
		if err != nil {
			exitErr("embedder", err)
		}
	} else {
		emb = mock.New()
	}

	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	inf := anthropicinfer.New(&client, anthropicinfer.Config{})

	engine := reason.NewEngine(s, emb, inf, nil)

	q := reason.Query{
		Scope:            scope,
		Goal:             args[0],
		Depth:            depth,
		MaxResults:       maxResults,
		IncludeToolStats: toolStats,
		WriteDerived:     writeDerived,
	}
	if memType != "" {
		q.Constraints.MemoryTypes = []memory.Type{memory.Type(memType)}
	}

	trace, err := engine.Run(cmd.Context(), &q)
	if err != nil {
		exitErr("reason", err)
	}

	if showTrace {
		b, _ := json.MarshalIndent(trace, "", "  ")
		fmt.Println(string(b))
		return
	}

	if trace.FinalAnswer == nil {
		if trace.InsufficientEvidence {
			fmt.Println("insufficient evidence")
			for _, missing := range trace.MissingInformation {
				fmt.Printf("  missing: %s\n", missing)
			}
			return
		}
		last := trace.LastStep()
		if last != nil && last.Failed {
			exitErr("reason", fmt.Errorf("step %s failed: %s", last.Action, last.Err))
		}
		fmt.Println("no answer")
		return
	}
	fmt.Println(*trace.FinalAnswer)
}
