// The main package for the shelfscan executable.
package main

import (
	"github.com/JakeFAU/shelfscan/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
