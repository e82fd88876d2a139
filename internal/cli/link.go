package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "link <from-id> <to-id>",
		Short: "Link two memory items",
		Long:  "Record a typed edge between two items. Relations: relates_to, contradicts, depends_on, refines, derived_from.",
		Args:  cobra.ExactArgs(2),
		Run:   runLink,
	}

	cmd.Flags().StringP("rel", "r", "relates_to", "Relation type")

	RootCmd.AddCommand(cmd)
}

func runLink(cmd *cobra.Command, args []string) {
	rel, _ := cmd.Flags().GetString("rel")

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	if err := s.AddLink(cmd.Context(), scope, args[0], args[1], rel); err != nil {
		exitErr("link", err)
	}
	fmt.Printf("%s -[%s]-> %s\n", args[0], rel, args[1])
}
