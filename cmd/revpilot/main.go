// Command revpilot is the headless companion to the desktop app: it checks the
// CRM connection, asks the copilot, and runs voice sessions from a terminal.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
