// Command fbauth exchanges and extends Facebook access tokens from the
// command line.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		// Cobra prints the error
		os.Exit(1)
	}
}
