// Package pump implements the condition pump every casual process runs
// as its main loop: a handler table dispatching complete messages by
// type, composed with four optional hooks (prelude, idle, done, error),
// grounded on the teacher's epoll reactor callback-table shape but
// expressed over Go channels instead of a raw select(2)/epoll_wait.
package pump

import (
	"context"
	"time"

	"github.com/casual-go/casual/internal/casualerr"
	"github.com/casual-go/casual/internal/wire"
)

// HandlerFunc processes one complete message. It returns an error to be
// routed through the Error hook; returning a *casualerr.Error of kind
// KindInternalUnexpected is treated as process-fatal.
type HandlerFunc func(ctx context.Context, msg wire.Message) error

// Hooks are the four optional compositions points from spec §4.2.
// Missing hooks get defaults: Done defaults to "never"; Error defaults
// to continuing, except that an error of kind KindInternalUnexpected
// stops the pump. The default Error hook does not log.
type Hooks struct {
	// Prelude runs once before the loop starts.
	Prelude func()
	// Idle runs whenever the source channel transitions to empty.
	Idle func()
	// Done is polled after each step; true ends the pump.
	Done func() bool
	// Error is invoked when a handler returns an error. Returning true
	// tells the pump to stop (process-fatal).
	Error func(err error) (fatal bool)
}

func (h Hooks) withDefaults() Hooks {
	if h.Done == nil {
		h.Done = func() bool { return false }
	}
	if h.Error == nil {
		h.Error = func(err error) bool {
			return casualerr.KindOf(err) == casualerr.KindInternalUnexpected
		}
	}
	return h
}

// Pump is a handler-table-driven message loop over a single inbound
// channel. One pump per process, matching spec.md's "no pre-emption
// inside a handler": handlers run to completion on the pump's own
// goroutine before the next message is dispatched.
type Pump struct {
	inbox    <-chan wire.Message
	handlers map[wire.Type]HandlerFunc
	hooks    Hooks
	onUnknown func(wire.Type)
}

// New builds a pump reading from inbox, dispatching via handlers.
func New(inbox <-chan wire.Message, handlers map[wire.Type]HandlerFunc, hooks Hooks) *Pump {
	return &Pump{
		inbox:    inbox,
		handlers: handlers,
		hooks:    hooks.withDefaults(),
		onUnknown: func(wire.Type) {},
	}
}

// OnUnknownType installs a callback invoked when a message of an
// unregistered type arrives. The pump discards such messages; the
// default callback does nothing, so by default nothing is logged.
func (p *Pump) OnUnknownType(fn func(wire.Type)) {
	p.onUnknown = fn
}

// Run drives the pump until ctx is cancelled, Done fires, or a fatal
// error occurs. It returns the fatal error, if any.
func (p *Pump) Run(ctx context.Context) error {
	if p.hooks.Prelude != nil {
		p.hooks.Prelude()
	}

	// While the inbox stays empty, Done is re-polled on every tick.
	tick := time.NewTicker(10 * time.Millisecond)
	defer tick.Stop()
	idle := false

	for {
		if p.hooks.Done() {
			return nil
		}

		select {
		case <-ctx.Done():
			return nil

		case msg, ok := <-p.inbox:
			if !ok {
				return nil
			}
			idle = false
			if err := p.dispatch(ctx, msg); err != nil {
				if p.hooks.Error(err) {
					return err
				}
			}

		default:
			if !idle && p.hooks.Idle != nil {
				p.hooks.Idle()
			}
			idle = true
			select {
			case <-ctx.Done():
				return nil
			case <-tick.C:
			case msg, ok := <-p.inbox:
				if !ok {
					return nil
				}
				idle = false
				if err := p.dispatch(ctx, msg); err != nil {
					if p.hooks.Error(err) {
						return err
					}
				}
			}
		}
	}
}

func (p *Pump) dispatch(ctx context.Context, msg wire.Message) (err error) {
	h, ok := p.handlers[msg.Type]
	if !ok {
		p.onUnknown(msg.Type)
		return nil
	}

	defer func() {
		if r := recover(); r != nil {
			err = casualerr.Newf(casualerr.KindInternalUnexpected, "handler panic for type %d: %v", msg.Type, r)
		}
	}()

	return h(ctx, msg)
}
