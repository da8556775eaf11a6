package main

import (
	"fmt"
	"os"

	"github.com/radioactive-labs/chrono-forge/cmd/chronoforge/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
