package handler

import (
	"github.com/gorakhargosh/watchdog/pkg/event"
	"github.com/gorakhargosh/watchdog/pkg/logger"
)

// FuncHandler adapts a plain function into a Handler, for callers that
// want a single callback without defining a named type. The registry
// tracks handlers by identity, so the adapter is a pointer-receiver
// struct rather than a bare func type.
type FuncHandler struct {
	fn func(e event.Event)
}

// NewFunc wraps fn as a Handler.
func NewFunc(fn func(e event.Event)) *FuncHandler {
	return &FuncHandler{fn: fn}
}

func (f *FuncHandler) Dispatch(e event.Event) { f.fn(e) }

// LoggingHandler prints every dispatched event through a ColorLogger.
type LoggingHandler struct {
	Log *logger.ColorLogger
}

func NewLoggingHandler(log *logger.ColorLogger) *LoggingHandler {
	return &LoggingHandler{Log: log}
}

func (h *LoggingHandler) Dispatch(e event.Event) {
	if h.Log == nil {
		return
	}
	h.Log.Printc(logger.ColorGreen, e.String())
}
