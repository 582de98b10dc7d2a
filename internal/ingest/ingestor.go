package ingest

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/rocketscienceinc/ultimatettt/internal/apperror"
	"github.com/rocketscienceinc/ultimatettt/internal/entity"
	"github.com/rocketscienceinc/ultimatettt/internal/stream"
)

type gameStore interface {
	Apply(move entity.Move) (entity.GameState, error)
	SetFirstPlayer(player entity.PlayerID) error
	Snapshot() entity.GameState
}

// Reporter - receives entries that were dropped or rejected without ending the session.
type Reporter func(entry stream.Entry, err error)

// Ingestor - feeds log events into the store in the order the log defines.
//
// Within a snapshot the first player assignment is applied before any move. Move deltas that
// arrive before the assignment wait in pending and are replayed right after it, so a live client
// ends up with the same order as one that replays the snapshot later.
type Ingestor struct {
	logger   *slog.Logger
	store    gameStore
	reporter Reporter

	forwarded map[string]struct{}
	pending   []movedEntry
}

func NewIngestor(logger *slog.Logger, store gameStore, reporter Reporter) *Ingestor {
	if reporter == nil {
		reporter = func(stream.Entry, error) {}
	}

	return &Ingestor{
		logger:    logger.With("component", "ingest"),
		store:     store,
		reporter:  reporter,
		forwarded: make(map[string]struct{}),
	}
}

// Handle - processes one event. Only a protocol violation is returned; it is fatal to the session.
func (that *Ingestor) Handle(event stream.Event) error {
	switch event.Kind {
	case stream.EventSnapshot:
		return that.handleSnapshot(event.Entries)
	case stream.EventDelta:
		for _, entry := range event.Entries {
			if err := that.handleDelta(entry); err != nil {
				return err
			}
		}
	case stream.EventConnectionLost:
		that.logger.Warn("connection lost, keeping local state", "error", event.Err)
	case stream.EventConnectionRestored:
		that.logger.Info("connection restored, expecting snapshot replay", "forwarded", len(that.forwarded))
	default:
		that.logger.Warn("unknown event kind", "kind", event.Kind.String())
	}

	return nil
}

func (that *Ingestor) handleSnapshot(entries []stream.Entry) error {
	log := that.logger.With("method", "handleSnapshot")

	assignments, moves := that.partition(entries)

	for _, assignment := range assignments {
		if err := that.assign(assignment); err != nil {
			return err
		}
	}

	applied := 0
	for _, move := range moves {
		if that.submit(move) {
			applied++
		}
	}

	log.Info("snapshot ingested", "entries", len(entries), "new_moves", applied)

	return nil
}

func (that *Ingestor) handleDelta(entry stream.Entry) error {
	record, err := stream.Decode(entry)
	if err != nil {
		that.report(entry, err)
		return nil
	}

	if record.IsAssignment() {
		return that.assign(assignedEntry{entry: entry, player: record.Player})
	}

	that.submit(movedEntry{entry: entry, move: record.Move})

	return nil
}

type assignedEntry struct {
	entry  stream.Entry
	player entity.PlayerID
}

type movedEntry struct {
	entry stream.Entry
	move  entity.Move
}

// partition - splits a batch into assignments and moves, keeping log order within each group.
func (that *Ingestor) partition(entries []stream.Entry) ([]assignedEntry, []movedEntry) {
	var (
		assignments []assignedEntry
		moves       []movedEntry
	)

	for _, entry := range entries {
		record, err := stream.Decode(entry)
		if err != nil {
			that.report(entry, err)
			continue
		}

		if record.IsAssignment() {
			assignments = append(assignments, assignedEntry{entry: entry, player: record.Player})
			continue
		}

		moves = append(moves, movedEntry{entry: entry, move: record.Move})
	}

	return assignments, moves
}

func (that *Ingestor) assign(assignment assignedEntry) error {
	if err := that.store.SetFirstPlayer(assignment.player); err != nil {
		if errors.Is(err, apperror.ErrProtocolViolation) {
			that.logger.Error("conflicting first player", "token", assignment.entry.Token, "error", err)
			return fmt.Errorf("entry %s: %w", assignment.entry.Token, err)
		}

		that.report(assignment.entry, err)

		return nil
	}

	that.flushPending()

	return nil
}

// submit - forwards the move, or holds it while the first player is unknown.
func (that *Ingestor) submit(moved movedEntry) bool {
	if !that.store.Snapshot().IsFirstPlayerKnown() {
		that.hold(moved)
		return false
	}

	return that.forward(moved)
}

// forward - hands a move to the store once per token. Reports whether the state changed.
func (that *Ingestor) forward(moved movedEntry) bool {
	token := moved.entry.Token
	if _, ok := that.forwarded[token]; ok {
		return false
	}

	before := len(that.store.Snapshot().AppliedMoves)

	state, err := that.store.Apply(moved.move)
	that.forwarded[token] = struct{}{}

	if err != nil {
		that.report(moved.entry, err)
		return false
	}

	return len(state.AppliedMoves) > before
}

func (that *Ingestor) hold(moved movedEntry) {
	if _, ok := that.forwarded[moved.entry.Token]; ok {
		return
	}

	for _, waiting := range that.pending {
		if waiting.entry.Token == moved.entry.Token {
			return
		}
	}

	that.logger.Debug("move held until first player is known", "token", moved.entry.Token)
	that.pending = append(that.pending, moved)
}

func (that *Ingestor) flushPending() {
	if len(that.pending) == 0 {
		return
	}

	pending := that.pending
	that.pending = nil

	that.logger.Info("replaying held moves", "count", len(pending))

	for _, moved := range pending {
		that.forward(moved)
	}
}

// Pending - number of moves waiting for the first player assignment.
func (that *Ingestor) Pending() int {
	return len(that.pending)
}

func (that *Ingestor) report(entry stream.Entry, err error) {
	that.logger.Warn("entry rejected", "token", entry.Token, "error", err)
	that.reporter(entry, err)
}
