// Command watchdog is the CLI front-end for the observation engine. It
// drives the observer kernel purely through pkg/observer and
// pkg/handler, never reaching into backend internals directly.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/gorakhargosh/watchdog/pkg/logger"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	clg := logger.NewColorLogger(log.New(os.Stdout, "watchdog --> ", log.Ldate|log.Ltime))

	sub, args := os.Args[1], os.Args[2:]
	var err error
	switch sub {
	case "log":
		err = runLog(clg, args)
	case "shell-command":
		err = runShellCommand(clg, args)
	case "tricks":
		err = runTricks(clg, args)
	case "auto-restart":
		err = runAutoRestart(clg, args)
	default:
		usage()
		os.Exit(1)
	}

	if err != nil {
		clg.Printcf(logger.ColorRed, "watchdog: %v", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: watchdog <log|shell-command|tricks|auto-restart> [flags]")
}
