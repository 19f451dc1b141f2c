// The shell-command subcommand runs a shell command for every matched
// event, substituting ${watch_src_path}, ${watch_dest_path},
// ${watch_event_type} and ${watch_object} placeholders.
package main

import (
	"flag"
	"os"
	"os/exec"
	"strings"

	"github.com/gorakhargosh/watchdog/pkg/event"
	"github.com/gorakhargosh/watchdog/pkg/handler"
	"github.com/gorakhargosh/watchdog/pkg/logger"
)

func runShellCommand(log *logger.ColorLogger, args []string) error {
	fs := flag.NewFlagSet("shell-command", flag.ExitOnError)
	w := bindWatchFlags(fs, ".")
	command := fs.String("command", "", `shell command, may reference ${watch_src_path}, ${watch_dest_path}, ${watch_event_type}, ${watch_object}`)
	wait := fs.Bool("wait", false, "block until the spawned command exits before handling the next event")
	if err := fs.Parse(args); err != nil {
		return err
	}

	obs := w.newObserver(log)
	h := newShellCommandHandler(*command, *wait, log)
	return runUntilInterrupted(obs, w, h, log)
}

type shellCommandHandler struct {
	template string
	wait     bool
	log      *logger.ColorLogger
}

func newShellCommandHandler(template string, wait bool, log *logger.ColorLogger) *shellCommandHandler {
	return &shellCommandHandler{template: template, wait: wait, log: log}
}

func (h *shellCommandHandler) Dispatch(e event.Event) {
	command := renderShellCommand(h.template, e)

	cmd := exec.Command("sh", "-c", command)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if h.wait {
		if err := cmd.Run(); err != nil {
			h.log.Warnf("shell-command: %v exited: %v", command, err)
		}
		return
	}
	if err := cmd.Start(); err != nil {
		h.log.Warnf("shell-command: failed to start %v: %v", command, err)
	}
}

// renderShellCommand substitutes template's placeholders for e, falling
// back to a default echo command when template is empty.
func renderShellCommand(template string, e event.Event) string {
	object := "file"
	if e.IsDirectory {
		object = "directory"
	}

	if template == "" {
		if e.Kind == event.FileMoved || e.Kind == event.DirMoved {
			template = `echo "${watch_event_type} ${watch_object} from ${watch_src_path} to ${watch_dest_path}"`
		} else {
			template = `echo "${watch_event_type} ${watch_object} ${watch_src_path}"`
		}
	}

	replacer := strings.NewReplacer(
		"${watch_src_path}", e.SrcPath,
		"${watch_dest_path}", e.DestPath,
		"${watch_event_type}", e.Kind.String(),
		"${watch_object}", object,
	)
	return replacer.Replace(template)
}

var _ handler.Handler = (*shellCommandHandler)(nil)
