// The auto-restart subcommand runs a long-lived subprocess and restarts
// it whenever a matched filesystem event arrives.
package main

import (
	"flag"
	"strings"
	"sync"
	"time"

	"github.com/gorakhargosh/watchdog/pkg/debounce"
	"github.com/gorakhargosh/watchdog/pkg/event"
	"github.com/gorakhargosh/watchdog/pkg/handler"
	"github.com/gorakhargosh/watchdog/pkg/logger"
	"github.com/gorakhargosh/watchdog/pkg/supervisor"
)

func runAutoRestart(log *logger.ColorLogger, args []string) error {
	fs := flag.NewFlagSet("auto-restart", flag.ExitOnError)
	w := bindWatchFlags(fs, ".")
	command := fs.String("command", "", "command to run and restart on matched events")
	debounceWindow := fs.Duration("debounce", 200*time.Millisecond, "collapse bursts of events within this window into a single restart")
	if err := fs.Parse(args); err != nil {
		return err
	}

	parts := strings.Fields(*command)
	if len(parts) == 0 {
		return flag.ErrHelp
	}

	h := newAutoRestartHandler(parts, log)
	h.restart()

	obs := w.newObserver(log)
	target := handler.Handler(h)
	if *debounceWindow > 0 {
		d := debounce.New(*debounceWindow, h)
		d.Start()
		defer d.Wait()
		target = d
		defer d.Stop()
	}

	err := runUntilInterrupted(obs, w, target, log)
	h.stop()
	return err
}

// autoRestartHandler owns the supervised subprocess and rebuilds it from
// scratch on every matched event, since supervisor.SubprocessSupervisor
// is not itself restartable once stopped.
type autoRestartHandler struct {
	command []string
	log     *logger.ColorLogger

	mu  sync.Mutex
	sup *supervisor.SubprocessSupervisor
}

func newAutoRestartHandler(command []string, log *logger.ColorLogger) *autoRestartHandler {
	return &autoRestartHandler{command: command, log: log}
}

func (h *autoRestartHandler) Dispatch(e event.Event) {
	h.log.Infof("auto-restart: restarting %v on %s", h.command, e)
	h.restart()
}

func (h *autoRestartHandler) restart() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.sup != nil {
		h.sup.Stop()
		h.sup.Wait()
	}
	h.sup = supervisor.New(supervisor.Options{
		Command: h.command,
		Restart: supervisor.NoRestart,
	}, h.log)
	if err := h.sup.Start(); err != nil {
		h.log.Errorf("auto-restart: failed to start %v: %v", h.command, err)
	}
}

func (h *autoRestartHandler) stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sup != nil {
		h.sup.Stop()
		h.sup.Wait()
	}
}

var _ handler.Handler = (*autoRestartHandler)(nil)
