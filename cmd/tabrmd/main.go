// Command tabrmd runs the TPM 2.0 access broker daemon.
package main

import (
	"fmt"
	"os"

	"github.com/abrmd-go/tabrmd/cmd/tabrmd/commands"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	commands.Version = version
	commands.Commit = commit

	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
