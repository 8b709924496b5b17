package startup

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/datatrails/go-servicebus-repro/logger"
)

// Listener is anything that blocks serving until told to stop - a http
// server or a servicebus receiver.
type Listener interface {
	Listen() error
	Shutdown(context.Context) error
}

// Listeners runs a set of Listener's together.
type Listeners struct {
	name      string
	log       logger.Logger
	listeners []Listener
}

type ListenersOption func(*Listeners)

func WithListener(h Listener) ListenersOption {
	return func(l *Listeners) {
		if h != nil {
			l.listeners = append(l.listeners, h)
		}
	}
}

func WithListeners(h ...Listener) ListenersOption {
	return func(l *Listeners) {
		for _, hh := range h {
			if hh != nil {
				l.listeners = append(l.listeners, hh)
			}
		}
	}
}

func NewListeners(log logger.Logger, name string, opts ...ListenersOption) *Listeners {
	l := &Listeners{name: strings.ToLower(name)}
	l.log = log.WithIndex("listeners", l.name)
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Listeners) String() string {
	return l.name
}

// Listen starts every listener and blocks until ctx is done, a signal
// arrives or one of the listeners fails. All listeners are shut down before
// returning. Cancellation is not an error.
func (l *Listeners) Listen(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, errCtx := errgroup.WithContext(ctx)

	for _, h := range l.listeners {
		g.Go(h.Listen)
	}

	g.Go(func() error {
		<-errCtx.Done()
		l.log.Debugf("Cancelled: %v", context.Cause(errCtx))
		return l.Shutdown()
	})

	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (l *Listeners) Shutdown() error {
	var err error
	for _, h := range l.listeners {
		func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if e := h.Shutdown(ctx); e != nil {
				err = errors.Join(err, fmt.Errorf("cannot shutdown %s: %w", h, e))
			}
		}()
	}
	return err
}
