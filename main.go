// The main package for the qcatalog executable.
package main

import (
	"github.com/JakeFAU/quantum-catalog/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
