package stream

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/quartz"
)

const defaultRetryInterval = 2 * time.Second

var (
	ErrAdapterStarted = errors.New("adapter is already started")
	ErrAdapterStopped = errors.New("adapter is stopped")
	ErrNilHandler     = errors.New("handler is nil")
)

type Option func(*Adapter)

// WithClock - clock used to wait between reconnect attempts.
func WithClock(clock quartz.Clock) Option {
	return func(that *Adapter) {
		that.clock = clock
	}
}

// WithRetryInterval - pause between probes of a lost source.
func WithRetryInterval(interval time.Duration) Option {
	return func(that *Adapter) {
		if interval > 0 {
			that.retryInterval = interval
		}
	}
}

// Adapter - turns a Source into an ordered sequence of events delivered from a single goroutine.
//
// The first event is always a snapshot, or a connection loss when the source is unreachable.
// After a loss the adapter probes the source every retry interval and, once it answers, delivers
// ConnectionRestored followed by a fresh snapshot.
type Adapter struct {
	logger        *slog.Logger
	source        Source
	clock         quartz.Clock
	retryInterval time.Duration

	// mu is held for the whole duration of a handler call
	mu      sync.Mutex
	handler Handler
	stopped atomic.Bool

	// deliverer - id of the goroutine that calls the handler
	deliverer atomic.Uint64

	stateMu sync.Mutex
	started bool
	err     error
	cancel  context.CancelFunc

	done chan struct{}
}

func NewAdapter(logger *slog.Logger, source Source, opts ...Option) *Adapter {
	adapter := &Adapter{
		logger:        logger.With("component", "stream"),
		source:        source,
		clock:         quartz.NewReal(),
		retryInterval: defaultRetryInterval,
		done:          make(chan struct{}),
	}

	for _, opt := range opts {
		opt(adapter)
	}

	return adapter
}

// Start - begins delivery to handler in a background goroutine.
func (that *Adapter) Start(ctx context.Context, handler Handler) error {
	if handler == nil {
		return ErrNilHandler
	}

	that.stateMu.Lock()
	defer that.stateMu.Unlock()

	switch {
	case that.stopped.Load():
		return ErrAdapterStopped
	case that.started:
		return ErrAdapterStarted
	}

	ctx, cancel := context.WithCancel(ctx)
	that.started = true
	that.handler = handler
	that.cancel = cancel

	go that.run(ctx, cancel)

	return nil
}

// Stop - ends the subscription. Once Stop returns the handler is not running and will not be
// called again. Called from inside the handler, it returns at once and the running call is the
// last one.
func (that *Adapter) Stop() {
	that.stopped.Store(true)

	that.stateMu.Lock()
	cancel := that.cancel
	that.stateMu.Unlock()

	if cancel != nil {
		cancel()
	}

	if that.deliverer.Load() == goroutineID() {
		return
	}

	// waits out a handler call running on the delivery goroutine
	that.mu.Lock()
	that.mu.Unlock() //nolint: staticcheck // empty critical section
}

// Done - closed when the delivery goroutine has exited.
func (that *Adapter) Done() <-chan struct{} {
	return that.done
}

// Err - error returned by the handler that ended the subscription, if any.
func (that *Adapter) Err() error {
	that.stateMu.Lock()
	defer that.stateMu.Unlock()

	return that.err
}

func (that *Adapter) run(ctx context.Context, cancel context.CancelFunc) {
	defer close(that.done)
	defer cancel()

	that.deliverer.Store(goroutineID())

	log := that.logger.With("method", "run")

	last, ok := that.initialSnapshot(ctx)
	for ok {
		entries, err := that.source.Tail(ctx, last)
		if ctx.Err() != nil {
			return
		}

		if err != nil {
			log.Warn("stream read failed", "error", err, "last_token", last)

			if !that.deliver(Event{Kind: EventConnectionLost, Err: err}) {
				return
			}

			last, ok = that.reconnect(ctx, last)
			continue
		}

		for _, entry := range entries {
			if !that.deliver(Event{Kind: EventDelta, Entries: []Entry{entry}}) {
				return
			}
			last = entry.Token
		}
	}
}

func (that *Adapter) initialSnapshot(ctx context.Context) (string, bool) {
	entries, err := that.source.Snapshot(ctx)
	if ctx.Err() != nil {
		return "", false
	}

	if err != nil {
		that.logger.Warn("initial snapshot failed", "error", err)

		if !that.deliver(Event{Kind: EventConnectionLost, Err: err}) {
			return "", false
		}

		return that.reconnect(ctx, "")
	}

	return that.deliverSnapshot(entries, "")
}

// reconnect - waits until the source answers again, then resynchronizes with a snapshot.
func (that *Adapter) reconnect(ctx context.Context, last string) (string, bool) {
	log := that.logger.With("method", "reconnect")

	for attempt := 1; ; attempt++ {
		timer := that.clock.NewTimer(that.retryInterval, "adapter", "reconnect")

		select {
		case <-ctx.Done():
			timer.Stop()
			return last, false
		case <-timer.C:
		}

		if err := that.source.Ping(ctx); err != nil {
			log.Debug("source still unreachable", "attempt", attempt, "error", err)
			continue
		}

		entries, err := that.source.Snapshot(ctx)
		if err != nil {
			log.Debug("snapshot after reconnect failed", "attempt", attempt, "error", err)
			continue
		}

		log.Info("connection restored", "attempt", attempt, "entries", len(entries))

		if !that.deliver(Event{Kind: EventConnectionRestored}) {
			return last, false
		}

		return that.deliverSnapshot(entries, last)
	}
}

func (that *Adapter) deliverSnapshot(entries []Entry, last string) (string, bool) {
	if !that.deliver(Event{Kind: EventSnapshot, Entries: entries}) {
		return last, false
	}

	if len(entries) > 0 {
		last = entries[len(entries)-1].Token
	}

	return last, true
}

// deliver - calls the handler unless the adapter is stopped. Reports whether delivery may go on.
func (that *Adapter) deliver(event Event) bool {
	that.mu.Lock()
	defer that.mu.Unlock()

	if that.stopped.Load() {
		return false
	}

	if err := that.handler(event); err != nil {
		that.logger.Error("handler ended the subscription", "event", event.Kind.String(), "error", err)

		that.stateMu.Lock()
		that.err = err
		that.stateMu.Unlock()
		that.stopped.Store(true)

		return false
	}

	return !that.stopped.Load()
}

// goroutineID - id of the calling goroutine, read from the header of its stack trace.
func goroutineID() uint64 {
	var buf [64]byte

	n := runtime.Stack(buf[:], false)
	fields := bytes.Fields(bytes.TrimPrefix(buf[:n], []byte("goroutine ")))
	if len(fields) == 0 {
		return 0
	}

	id, err := strconv.ParseUint(string(fields[0]), 10, 64)
	if err != nil {
		return 0
	}

	return id
}
