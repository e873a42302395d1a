package main

import (
	"os"

	"github.com/movegrid/movegrid/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
