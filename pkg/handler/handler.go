// Package handler defines the callback contract dispatched events are
// routed through. Dispatch switches on the event Kind and calls small,
// independently-implementable interfaces; there is no reflection.
package handler

import (
	"github.com/gorakhargosh/watchdog/pkg/event"
)

// Handler is the non-blocking entry point every scheduled callback must
// implement. Dispatch must not block; a slow handler backpressures the
// whole observer.
type Handler interface {
	Dispatch(e event.Event)
}

// The following optional interfaces let a Handler opt into per-variant
// callbacks without reflection. Route calls these through a plain type
// switch; a Handler type that implements AnyEventHandler alone receives
// every event as a catch-all.
type (
	CreatedHandler interface {
		OnCreated(e event.Event)
	}
	DeletedHandler interface {
		OnDeleted(e event.Event)
	}
	ModifiedHandler interface {
		OnModified(e event.Event)
	}
	MovedHandler interface {
		OnMoved(e event.Event)
	}
	OpenedHandler interface {
		OnOpened(e event.Event)
	}
	ClosedHandler interface {
		OnClosed(e event.Event)
	}
	AnyEventHandler interface {
		OnAnyEvent(e event.Event)
	}
)

// Base satisfies Handler with a no-op Dispatch. It does not route to the
// embedding type's On* methods; per-variant fan-out comes from calling
// Route (see the Dispatch method below).
type Base struct{}

// Route is the reusable dispatch switch. It is a free function (not a
// Base method) so FuncHandler and other adapters that can't embed Base
// can still reuse it.
func Route(target Handler, e event.Event) {
	switch e.Kind {
	case event.FileCreated, event.DirCreated:
		if h, ok := target.(CreatedHandler); ok {
			h.OnCreated(e)
		}
	case event.FileDeleted, event.DirDeleted:
		if h, ok := target.(DeletedHandler); ok {
			h.OnDeleted(e)
		}
	case event.FileModified, event.DirModified:
		if h, ok := target.(ModifiedHandler); ok {
			h.OnModified(e)
		}
	case event.FileMoved, event.DirMoved:
		if h, ok := target.(MovedHandler); ok {
			h.OnMoved(e)
		}
	case event.FileOpened, event.DirOpened:
		if h, ok := target.(OpenedHandler); ok {
			h.OnOpened(e)
		}
	case event.FileClosed, event.DirClosed, event.FileClosedNoWrite, event.DirClosedNoWrite:
		if h, ok := target.(ClosedHandler); ok {
			h.OnClosed(e)
		}
	}
	if h, ok := target.(AnyEventHandler); ok {
		h.OnAnyEvent(e)
	}
}

// Dispatch is a no-op satisfying Handler for embedders of Base. Go gives an
// embedded type no way to recover the outer receiver, so a concrete handler
// that wants Route's per-variant fan-out must define its own Dispatch
// calling handler.Route(h, e) with itself as the target; Base only saves
// handlers with no per-variant callbacks from writing an empty method.
func (Base) Dispatch(e event.Event) {}
