package main

import (
	"os"

	"pulpfile/cmd/pulpfile/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
