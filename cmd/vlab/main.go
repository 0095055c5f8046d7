package main

import (
	"os"

	"github.com/variantlab/variantlab/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
