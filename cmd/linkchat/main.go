// Command linkchat is a terminal chat client for the linkchat messaging server,
// plus an in-memory dev server to run it against.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
