package main

import (
	"flag"
	"os"
	"os/signal"
	"time"

	"github.com/gorakhargosh/watchdog/pkg/handler"
	"github.com/gorakhargosh/watchdog/pkg/logger"
	"github.com/gorakhargosh/watchdog/pkg/observer"
)

// watchFlags holds the flag set every subcommand that schedules a watch
// shares: which directory, recursive or not, and whether to force the
// portable polling backend instead of the platform-native one.
type watchFlags struct {
	path      string
	recursive bool
	polling   bool
}

func bindWatchFlags(fs *flag.FlagSet, defaultPath string) *watchFlags {
	w := &watchFlags{}
	fs.StringVar(&w.path, "directory", defaultPath, "directory to watch")
	fs.BoolVar(&w.recursive, "recursive", true, "watch subdirectories recursively")
	fs.BoolVar(&w.polling, "polling", false, "force the portable polling backend")
	return w
}

func (w *watchFlags) newObserver(log *logger.ColorLogger) *observer.Observer {
	if w.polling {
		return observer.NewPollingObserver(observer.DefaultOptions(), log)
	}
	return observer.NewObserver(observer.DefaultOptions(), log)
}

// runUntilInterrupted schedules h on obs for the watch described by w,
// starts the observer, and blocks until SIGINT.
func runUntilInterrupted(obs *observer.Observer, w *watchFlags, h handler.Handler, log *logger.ColorLogger) error {
	if _, err := obs.Schedule(h, w.path, w.recursive, nil); err != nil {
		return err
	}
	if err := obs.Start(); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	<-sigCh

	log.Infof("watchdog: shutting down")
	if err := obs.Stop(); err != nil {
		return err
	}
	return obs.Join(5 * time.Second)
}
