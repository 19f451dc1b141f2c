// The log subcommand pretty-prints every event on a watched directory.
package main

import (
	"flag"

	"github.com/gorakhargosh/watchdog/pkg/handler"
	"github.com/gorakhargosh/watchdog/pkg/logger"
)

func runLog(log *logger.ColorLogger, args []string) error {
	fs := flag.NewFlagSet("log", flag.ExitOnError)
	w := bindWatchFlags(fs, ".")
	if err := fs.Parse(args); err != nil {
		return err
	}

	obs := w.newObserver(log)
	h := handler.NewLoggingHandler(log)
	return runUntilInterrupted(obs, w, h, log)
}
