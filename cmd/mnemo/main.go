package main

import (
	"os"

	"github.com/strandlabs/mnemo-go-sdk/internal/cli"
)

func main() {
	if err := cli.RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
