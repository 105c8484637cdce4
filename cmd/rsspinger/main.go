package main

import (
	"os"

	"github.com/ppiankov/rsspinger/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
