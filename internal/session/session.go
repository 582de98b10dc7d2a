// Package session is the surface of the synchronization core: it wires the log subscription,
// the ingestor, the authoritative store and the turn arbiter for one game.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/rocketscienceinc/ultimatettt/internal/apperror"
	"github.com/rocketscienceinc/ultimatettt/internal/arbiter"
	"github.com/rocketscienceinc/ultimatettt/internal/entity"
	"github.com/rocketscienceinc/ultimatettt/internal/gamestate"
	"github.com/rocketscienceinc/ultimatettt/internal/ingest"
	"github.com/rocketscienceinc/ultimatettt/internal/stream"
	"github.com/rocketscienceinc/ultimatettt/internal/tictactoe"
)

var (
	ErrNilLog      = errors.New("log is nil")
	ErrEmptyPlayer = errors.New("local player id is empty")
)

// ReportObserver - receives log entries that were dropped or rejected.
type ReportObserver func(entry stream.Entry, err error)

type Option func(*options)

type options struct {
	streamOptions []stream.Option
}

// WithStreamOptions - options for the underlying log subscription.
func WithStreamOptions(opts ...stream.Option) Option {
	return func(that *options) {
		that.streamOptions = append(that.streamOptions, opts...)
	}
}

type Session struct {
	logger *slog.Logger
	log    stream.Log
	local  entity.PlayerID

	store    *gamestate.Store
	ingestor *ingest.Ingestor
	arbiter  *arbiter.Arbiter
	adapter  *stream.Adapter

	closed   atomic.Bool
	synced   chan struct{}
	syncOnce sync.Once

	reportMu        sync.Mutex
	reportObservers map[int]ReportObserver
	nextReportID    int
}

// Start - subscribes to log as local and returns the running session.
func Start(ctx context.Context, logger *slog.Logger, log stream.Log, local entity.PlayerID, opts ...Option) (*Session, error) {
	if log == nil {
		return nil, ErrNilLog
	}

	if local.IsEmpty() {
		return nil, ErrEmptyPlayer
	}

	var conf options
	for _, opt := range opts {
		opt(&conf)
	}

	logger = logger.With("player", local)

	that := &Session{
		logger:          logger.With("component", "session"),
		log:             log,
		local:           local,
		synced:          make(chan struct{}),
		reportObservers: make(map[int]ReportObserver),
	}

	that.store = gamestate.NewStore(logger)
	that.ingestor = ingest.NewIngestor(logger, that.store, that.report)
	that.arbiter = arbiter.New(local, that.store)
	that.adapter = stream.NewAdapter(logger, log, conf.streamOptions...)

	if err := that.adapter.Start(ctx, that.handle); err != nil {
		return nil, fmt.Errorf("failed to subscribe to log: %w", err)
	}

	go that.watch()

	return that, nil
}

// CurrentState - read-only copy of the authoritative state.
func (that *Session) CurrentState() entity.GameState {
	return that.store.Snapshot()
}

// OnChange - observer runs after every accepted mutation, on the delivery goroutine. It may call
// Stop. Returns a function that removes it.
func (that *Session) OnChange(observer gamestate.Observer) func() {
	return that.store.Subscribe(observer)
}

// OnReport - observer runs for every malformed or rejected entry. Returns a function that removes it.
func (that *Session) OnReport(observer ReportObserver) func() {
	that.reportMu.Lock()
	defer that.reportMu.Unlock()

	id := that.nextReportID
	that.nextReportID++
	that.reportObservers[id] = observer

	return func() {
		that.reportMu.Lock()
		defer that.reportMu.Unlock()

		delete(that.reportObservers, id)
	}
}

// SubmitLocalMove - validates a move by the local player against the current state and appends
// it to the log. The move takes effect when the log delivers it back.
func (that *Session) SubmitLocalMove(ctx context.Context, subBoard, cell int) error {
	log := that.logger.With("method", "SubmitLocalMove")

	if err := that.checkOpen(); err != nil {
		return err
	}

	move := entity.Move{SubBoard: subBoard, Cell: cell, Player: that.local}

	if err := tictactoe.ValidateMove(move); err != nil {
		return err
	}

	if _, err := tictactoe.ApplyMove(that.store.Snapshot(), move); err != nil {
		return err
	}

	token, err := that.log.Append(ctx, stream.EncodeMove(move))
	if err != nil {
		return fmt.Errorf("failed to append move: %w", err)
	}

	log.Info("move submitted", "sub_board", subBoard, "cell", cell, "token", token)

	return nil
}

// ClaimFirstPlayer - appends an assignment making the local player the first to move.
// Claiming again as the current first player is a no-op.
func (that *Session) ClaimFirstPlayer(ctx context.Context) error {
	if err := that.checkOpen(); err != nil {
		return err
	}

	state := that.store.Snapshot()
	if state.IsFirstPlayerKnown() {
		if state.FirstPlayer == that.local {
			return nil
		}

		return fmt.Errorf("%w: %s", apperror.ErrFirstPlayerTaken, state.FirstPlayer)
	}

	token, err := that.log.Append(ctx, stream.EncodeAssignment(that.local))
	if err != nil {
		return fmt.Errorf("failed to append first player: %w", err)
	}

	that.logger.Info("first player claimed", "token", token)

	return nil
}

func (that *Session) CanAct() bool {
	return that.arbiter.CanAct()
}

func (that *Session) LocalRole() entity.Role {
	return that.arbiter.LocalRole()
}

func (that *Session) LocalPlayer() entity.PlayerID {
	return that.local
}

// Synced - closed once the first snapshot of the log has been applied.
func (that *Session) Synced() <-chan struct{} {
	return that.synced
}

// Done - closed when the subscription has ended, after Stop or a fatal error.
func (that *Session) Done() <-chan struct{} {
	return that.adapter.Done()
}

// Err - the fatal error that ended the session, nil when it was stopped or is still running.
func (that *Session) Err() error {
	return that.adapter.Err()
}

// Stop - ends the subscription. No observer is called by the subscription after Stop returns.
// Called from an observer, it returns at once and that observer call is the last one.
func (that *Session) Stop() {
	that.closed.Store(true)
	that.adapter.Stop()
}

func (that *Session) handle(event stream.Event) error {
	if err := that.ingestor.Handle(event); err != nil {
		return err
	}

	if event.Kind == stream.EventSnapshot {
		that.syncOnce.Do(func() {
			close(that.synced)
		})
	}

	return nil
}

func (that *Session) report(entry stream.Entry, err error) {
	that.reportMu.Lock()
	observers := make([]ReportObserver, 0, len(that.reportObservers))
	for id := range that.nextReportID {
		if observer, ok := that.reportObservers[id]; ok {
			observers = append(observers, observer)
		}
	}
	that.reportMu.Unlock()

	for _, observer := range observers {
		observer(entry, err)
	}
}

func (that *Session) watch() {
	<-that.adapter.Done()
	that.closed.Store(true)

	if err := that.adapter.Err(); err != nil {
		that.logger.Error("session ended", "error", err)
		return
	}

	that.logger.Info("session stopped")
}

func (that *Session) checkOpen() error {
	if that.closed.Load() {
		if err := that.adapter.Err(); err != nil {
			return fmt.Errorf("%w: %w", apperror.ErrSessionClosed, err)
		}

		return apperror.ErrSessionClosed
	}

	select {
	case <-that.adapter.Done():
		return apperror.ErrSessionClosed
	default:
		return nil
	}
}
