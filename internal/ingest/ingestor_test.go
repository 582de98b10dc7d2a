package ingest

import (
	"io"
	"log/slog"
	"slices"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/rocketscienceinc/ultimatettt/internal/apperror"
	"github.com/rocketscienceinc/ultimatettt/internal/entity"
	"github.com/rocketscienceinc/ultimatettt/internal/gamestate"
	"github.com/rocketscienceinc/ultimatettt/internal/stream"
)

const (
	playerX entity.PlayerID = "X"
	playerO entity.PlayerID = "O"
)

// opening - six legal moves, X first.
var opening = []entity.Move{
	{SubBoard: 4, Cell: 4, Player: playerX},
	{SubBoard: 4, Cell: 0, Player: playerO},
	{SubBoard: 0, Cell: 8, Player: playerX},
	{SubBoard: 8, Cell: 4, Player: playerO},
	{SubBoard: 4, Cell: 8, Player: playerX},
	{SubBoard: 8, Cell: 0, Player: playerO},
}

type report struct {
	token string
	err   error
}

type fixture struct {
	store    *gamestate.Store
	ingestor *Ingestor
	reports  []report
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	f := &fixture{store: gamestate.NewStore(logger)}
	f.ingestor = NewIngestor(logger, f.store, func(entry stream.Entry, err error) {
		f.reports = append(f.reports, report{token: entry.Token, err: err})
	})

	return f
}

func assignEntry(token string, player entity.PlayerID) stream.Entry {
	return stream.Entry{Token: token, Values: stream.EncodeAssignment(player)}
}

func moveEntry(token string, move entity.Move) stream.Entry {
	return stream.Entry{Token: token, Values: stream.EncodeMove(move)}
}

// openingEntries - moves of the opening as log entries with tokens m1..mN.
func openingEntries(n int) []stream.Entry {
	entries := make([]stream.Entry, 0, n)
	for i, move := range opening[:n] {
		entries = append(entries, moveEntry("m"+strconv.Itoa(i+1), move))
	}

	return entries
}

func snapshot(entries ...stream.Entry) stream.Event {
	return stream.Event{Kind: stream.EventSnapshot, Entries: entries}
}

func delta(entry stream.Entry) stream.Event {
	return stream.Event{Kind: stream.EventDelta, Entries: []stream.Entry{entry}}
}

func TestIngestor_Snapshot(t *testing.T) {
	t.Run("Assignment position inside a snapshot does not matter", func(t *testing.T) {
		moves := openingEntries(5)

		var states []entity.GameState
		for at := 0; at <= len(moves); at++ {
			// Given: the assignment placed at position `at` among the moves
			entries := slices.Insert(slices.Clone(moves), at, assignEntry("a", playerX))

			// When: the snapshot is ingested
			f := newFixture(t)
			require.NoError(t, f.ingestor.Handle(snapshot(entries...)))

			// Then: every move is applied and nothing is reported
			assert.Empty(t, f.reports, "assignment at %d", at)
			assert.Len(t, f.store.Snapshot().AppliedMoves, len(moves))

			states = append(states, f.store.Snapshot())
		}

		for _, state := range states[1:] {
			assert.Equal(t, states[0], state)
		}
	})

	t.Run("Reconnect replay adds only the new move", func(t *testing.T) {
		// Given: five moves already applied from the first snapshot
		f := newFixture(t)
		first := append([]stream.Entry{assignEntry("a", playerX)}, openingEntries(5)...)
		require.NoError(t, f.ingestor.Handle(snapshot(first...)))
		require.Len(t, f.store.Snapshot().AppliedMoves, 5)

		// When: the connection is restored and the log is replayed with one extra move
		require.NoError(t, f.ingestor.Handle(stream.Event{Kind: stream.EventConnectionLost}))
		require.NoError(t, f.ingestor.Handle(stream.Event{Kind: stream.EventConnectionRestored}))

		replay := append([]stream.Entry{assignEntry("a", playerX)}, openingEntries(6)...)
		require.NoError(t, f.ingestor.Handle(snapshot(replay...)))

		// Then: exactly one move is added
		state := f.store.Snapshot()
		assert.Len(t, state.AppliedMoves, 6)
		assert.Equal(t, "m6", state.AppliedMoves[5].Token)
		assert.Empty(t, f.reports)
	})

	t.Run("Malformed entries are dropped and the rest applied", func(t *testing.T) {
		f := newFixture(t)

		broken := stream.Entry{Token: "bad", Values: map[string]string{stream.FieldKind: stream.KindMove}}
		entries := append([]stream.Entry{assignEntry("a", playerX), broken}, openingEntries(2)...)

		require.NoError(t, f.ingestor.Handle(snapshot(entries...)))

		require.Len(t, f.reports, 1)
		assert.Equal(t, "bad", f.reports[0].token)
		require.ErrorIs(t, f.reports[0].err, apperror.ErrMalformedEvent)
		assert.Len(t, f.store.Snapshot().AppliedMoves, 2)
	})

	t.Run("Moves without any assignment wait for it", func(t *testing.T) {
		f := newFixture(t)

		require.NoError(t, f.ingestor.Handle(snapshot(openingEntries(3)...)))
		assert.Empty(t, f.store.Snapshot().AppliedMoves)
		assert.Equal(t, 3, f.ingestor.Pending())

		require.NoError(t, f.ingestor.Handle(delta(assignEntry("a", playerX))))

		assert.Len(t, f.store.Snapshot().AppliedMoves, 3)
		assert.Zero(t, f.ingestor.Pending())
		assert.Empty(t, f.reports)
	})

	t.Run("Conflicting assignments in a snapshot are fatal", func(t *testing.T) {
		f := newFixture(t)

		err := f.ingestor.Handle(snapshot(assignEntry("a", playerX), assignEntry("b", playerO)))

		require.ErrorIs(t, err, apperror.ErrProtocolViolation)
	})
}

func TestIngestor_Delta(t *testing.T) {
	t.Run("Duplicate delta is a no-op", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.ingestor.Handle(delta(assignEntry("a", playerX))))

		entry := openingEntries(1)[0]
		require.NoError(t, f.ingestor.Handle(delta(entry)))
		once := f.store.Snapshot()

		require.NoError(t, f.ingestor.Handle(delta(entry)))

		assert.Equal(t, once, f.store.Snapshot())
		assert.Empty(t, f.reports)
	})

	t.Run("Illegal move is reported and the stream goes on", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.ingestor.Handle(delta(assignEntry("a", playerX))))

		// O tries to move first
		illegal := moveEntry("x1", entity.Move{SubBoard: 0, Cell: 0, Player: playerO})
		require.NoError(t, f.ingestor.Handle(delta(illegal)))

		for _, entry := range openingEntries(2) {
			require.NoError(t, f.ingestor.Handle(delta(entry)))
		}

		require.Len(t, f.reports, 1)
		require.ErrorIs(t, f.reports[0].err, apperror.ErrIllegalMove)
		require.ErrorIs(t, f.reports[0].err, apperror.ErrNotYourTurn)
		assert.Len(t, f.store.Snapshot().AppliedMoves, 2)
	})

	t.Run("Live order matches snapshot order when moves precede the assignment", func(t *testing.T) {
		// Given: a live client that sees two moves before the assignment
		live := newFixture(t)
		moves := openingEntries(2)

		for _, entry := range moves {
			require.NoError(t, live.ingestor.Handle(delta(entry)))
		}
		assert.Empty(t, live.store.Snapshot().AppliedMoves)

		require.NoError(t, live.ingestor.Handle(delta(assignEntry("a", playerX))))

		// And: a late client that replays the same log as a snapshot
		late := newFixture(t)
		require.NoError(t, late.ingestor.Handle(snapshot(moves[0], moves[1], assignEntry("a", playerX))))

		// Then: both converge
		assert.Equal(t, late.store.Snapshot(), live.store.Snapshot())
		assert.Len(t, live.store.Snapshot().AppliedMoves, 2)
	})

	t.Run("Conflicting assignment delta is fatal", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.ingestor.Handle(delta(assignEntry("a", playerX))))
		require.NoError(t, f.ingestor.Handle(delta(assignEntry("a2", playerX))))

		err := f.ingestor.Handle(delta(assignEntry("b", playerO)))

		require.ErrorIs(t, err, apperror.ErrProtocolViolation)
		assert.Equal(t, playerX, f.store.Snapshot().FirstPlayer)
	})

	t.Run("Malformed delta is reported", func(t *testing.T) {
		f := newFixture(t)

		err := f.ingestor.Handle(delta(stream.Entry{Token: "1", Values: map[string]string{"kind": "move"}}))

		require.NoError(t, err)
		require.Len(t, f.reports, 1)
		require.ErrorIs(t, f.reports[0].err, apperror.ErrMalformedEvent)
	})
}

type mockStore struct {
	mock.Mock
}

func (that *mockStore) Apply(move entity.Move) (entity.GameState, error) {
	args := that.Called(move)
	return args.Get(0).(entity.GameState), args.Error(1)
}

func (that *mockStore) SetFirstPlayer(player entity.PlayerID) error {
	return that.Called(player).Error(0)
}

func (that *mockStore) Snapshot() entity.GameState {
	return that.Called().Get(0).(entity.GameState)
}

func TestIngestor_AssignmentGoesFirst(t *testing.T) {
	// Given: a store that records the order of writes
	store := &mockStore{}
	var calls []string

	started := entity.NewGameState()
	started.FirstPlayer = playerX

	store.On("SetFirstPlayer", playerX).
		Run(func(mock.Arguments) { calls = append(calls, "assign") }).
		Return(nil).
		Once()
	store.On("Snapshot").Return(started)
	store.On("Apply", mock.AnythingOfType("entity.Move")).
		Run(func(args mock.Arguments) {
			calls = append(calls, "move:"+args.Get(0).(entity.Move).Token)
		}).
		Return(started, nil).
		Twice()

	ingestor := NewIngestor(slog.New(slog.NewJSONHandler(io.Discard, nil)), store, nil)
	moves := openingEntries(2)

	// When: a snapshot lists the assignment after the moves
	err := ingestor.Handle(snapshot(moves[0], moves[1], assignEntry("a", playerX)))

	// Then: the assignment reaches the store before any move
	require.NoError(t, err)
	assert.Equal(t, []string{"assign", "move:m1", "move:m2"}, calls)
	store.AssertExpectations(t)
}
