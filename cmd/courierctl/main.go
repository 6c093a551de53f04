package main

import (
	"fmt"
	"os"

	"courier/internal/cli"
)

func main() {
	root := cli.NewRootCommand(cli.DefaultDeps())
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
