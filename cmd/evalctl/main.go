// Command evalctl runs evaluations in bulk from an Excel manifest and
// exports evaluated reports to Excel.
package main

import (
	"fmt"
	"os"
)

var version = "dev"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
