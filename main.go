// The main package for the tgingest executable.
package main

import (
	"github.com/JakeFAU/tg-ingest/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
