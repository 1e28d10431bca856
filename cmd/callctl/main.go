// Package main provides the callctl CLI for the voice call relay.
//
// Usage:
//
//	callctl [flags] <command> [args]
//
// Commands:
//
//	dial      - place a call and speak audio files into it
//	calls     - list, inspect and end live calls
//	ledger    - show recent call records
//	initiate  - ring a caller's device
//
// The server defaults to $CALLRELAY_URL, loaded from .env when present.
package main

import (
	"fmt"
	"os"

	"github.com/ashureev/callrelay/cmd/callctl/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
