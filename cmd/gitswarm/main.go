package main

import (
	"os"

	"github.com/gitswarm/gitswarm/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
