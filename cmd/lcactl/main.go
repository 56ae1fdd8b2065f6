// Command lcactl drives the filing API from a terminal: batch submission,
// progress checks and operator answers.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "lcactl:", err)
		os.Exit(1)
	}
}
