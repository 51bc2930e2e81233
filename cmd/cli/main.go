package main

import (
	"os"

	"github.com/erpcore/automation-engine/cmd/cli/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
