package gamestate

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/rocketscienceinc/ultimatettt/internal/entity"
	"github.com/rocketscienceinc/ultimatettt/internal/tictactoe"
)

// Observer - called with a copy of the state after every successful mutation.
type Observer func(state entity.GameState)

// Store - owner of the single authoritative GameState of one session.
//
// Writers are serialized by writeMu, which is held while observers run so that notifications
// follow mutation order. Observers may read the store but must not write to it.
type Store struct {
	logger *slog.Logger

	writeMu sync.Mutex

	mu        sync.RWMutex
	state     entity.GameState
	observers map[int]Observer
	nextID    int
}

func NewStore(logger *slog.Logger) *Store {
	return &Store{
		logger:    logger.With("component", "gamestate"),
		state:     entity.NewGameState(),
		observers: make(map[int]Observer),
	}
}

// Apply - records move. A token that is already applied is a no-op and returns the current state.
func (that *Store) Apply(move entity.Move) (entity.GameState, error) {
	that.writeMu.Lock()
	defer that.writeMu.Unlock()

	current := that.Snapshot()
	if current.HasMove(move.Token) {
		return current, nil
	}

	next, err := tictactoe.ApplyMove(current, move)
	if err != nil {
		return current, fmt.Errorf("failed to apply move %s: %w", move, err)
	}

	that.commit(next)
	that.logger.Debug("move applied", "move", move.String(), "active", next.Board.ActiveSubBoard)

	return next.Clone(), nil
}

// SetFirstPlayer - accepted once. The same player again is a no-op, another one is a protocol violation.
func (that *Store) SetFirstPlayer(player entity.PlayerID) error {
	that.writeMu.Lock()
	defer that.writeMu.Unlock()

	current := that.Snapshot()

	next, err := tictactoe.AssignFirstPlayer(current, player)
	if err != nil {
		return fmt.Errorf("failed to set first player: %w", err)
	}

	if next.FirstPlayer == current.FirstPlayer {
		return nil
	}

	that.commit(next)
	that.logger.Info("first player assigned", "player", player)

	return nil
}

// Snapshot - read-only copy of the current state.
func (that *Store) Snapshot() entity.GameState {
	that.mu.RLock()
	defer that.mu.RUnlock()

	return that.state.Clone()
}

// Subscribe - registers observer and returns a function that removes it.
func (that *Store) Subscribe(observer Observer) func() {
	that.mu.Lock()
	defer that.mu.Unlock()

	id := that.nextID
	that.nextID++
	that.observers[id] = observer

	return func() {
		that.mu.Lock()
		defer that.mu.Unlock()

		delete(that.observers, id)
	}
}

// commit - must be called with writeMu held.
func (that *Store) commit(next entity.GameState) {
	that.mu.Lock()
	that.state = next
	observers := make([]Observer, 0, len(that.observers))
	for id := range that.nextID {
		if observer, ok := that.observers[id]; ok {
			observers = append(observers, observer)
		}
	}
	that.mu.Unlock()

	for _, observer := range observers {
		observer(next.Clone())
	}
}
