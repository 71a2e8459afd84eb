package main

import (
	"os"

	"github.com/tegendraads/registry/cmd/dataset-indexer/cmd"
)

func main() {
	if err := cmd.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
