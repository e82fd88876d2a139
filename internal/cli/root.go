// Package cli implements the mnemo CLI commands.
package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/strandlabs/mnemo-go-sdk/memory/store/sqlite"
)

var (
	dbPath string
	scope  string
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "mnemo",
	Short: "Memory and reasoning for AI agents",
	Long:  "A CLI for agent memory: store deduplicated facts, link them, and reason over them. SQLite-backed, single binary.",
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", "", "Database path (default: $MNEMO_DB or ~/.mnemo/memory.db)")
	RootCmd.PersistentFlags().StringVarP(&scope, "scope", "s", "default", "Memory scope (user or agent ID)")
}

func getDBPath() string {
	if dbPath != "" {
		return dbPath
	}
	if env := os.Getenv("MNEMO_DB"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".mnemo", "memory.db")
}

func openStore() (*sqlite.SQLiteStore, error) {
	return sqlite.New(getDBPath(), nil)
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}
