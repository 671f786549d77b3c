package main

import (
	"fmt"
	"os"
)

// Version is set via -ldflags at build time.
var Version = "dev"

// isTerminal returns true if stdin is a terminal (not piped).
func isTerminal() bool {
	stat, _ := os.Stdin.Stat()
	return (stat.Mode() & os.ModeCharDevice) != 0
}

// printBanner displays a friendly banner when run interactively without args.
func printBanner() {
	fmt.Println(`
   _       _                  _ _
  (_)_ __ | | ____      _____| | |
  | | '_ \| |/ /\ \ /\ / / _ \ | |
  | | | | |   <  \ V  V /  __/ | |
  |_|_| |_|_|\_\  \_/\_/ \___|_|_|

  Offline-first writing workspace

  Usage: inkwell <command> [options]
         inkwell --help

  MCP server mode requires piped input.`)
}

func main() {
	args := os.Args

	if len(args) < 2 {
		// No args + interactive terminal → show banner and exit
		if isTerminal() {
			printBanner()
			return
		}
		// Piped stdin → MCP server
		args = append(args, "mcp")
	}

	if err := newCLIApp().Run(args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
