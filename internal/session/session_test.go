package session

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rocketscienceinc/ultimatettt/internal/apperror"
	"github.com/rocketscienceinc/ultimatettt/internal/entity"
	"github.com/rocketscienceinc/ultimatettt/internal/stream"
)

const (
	playerX entity.PlayerID = "X"
	playerO entity.PlayerID = "O"
	watcher entity.PlayerID = "W"

	waitFor = 2 * time.Second
)

var opening = [][2]int{{4, 4}, {4, 0}, {0, 8}, {8, 4}, {4, 8}, {8, 0}}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func startSession(t *testing.T, memLog *stream.MemoryLog, local entity.PlayerID, opts ...Option) *Session {
	t.Helper()

	session, err := Start(context.Background(), discardLogger(), memLog, local, opts...)
	require.NoError(t, err)
	t.Cleanup(session.Stop)

	select {
	case <-session.Synced():
	case <-time.After(waitFor):
		t.Fatal("session did not sync")
	}

	return session
}

func waitForMoves(t *testing.T, session *Session, count int) {
	t.Helper()

	require.Eventually(t, func() bool {
		return len(session.CurrentState().AppliedMoves) == count
	}, waitFor, time.Millisecond)
}

func waitForFirstPlayer(t *testing.T, session *Session, player entity.PlayerID) {
	t.Helper()

	require.Eventually(t, func() bool {
		return session.CurrentState().FirstPlayer == player
	}, waitFor, time.Millisecond)
}

func TestSession_Start(t *testing.T) {
	ctx := context.Background()

	t.Run("Rejects a missing log or player", func(t *testing.T) {
		_, err := Start(ctx, discardLogger(), nil, playerX)
		require.ErrorIs(t, err, ErrNilLog)

		_, err = Start(ctx, discardLogger(), stream.NewMemoryLog(), "")
		require.ErrorIs(t, err, ErrEmptyPlayer)
	})

	t.Run("Empty log gives an empty game", func(t *testing.T) {
		session := startSession(t, stream.NewMemoryLog(), playerX)

		state := session.CurrentState()
		assert.Empty(t, state.AppliedMoves)
		assert.False(t, state.IsFirstPlayerKnown())
		assert.False(t, session.CanAct())
		assert.True(t, session.LocalRole().Spectator)
		assert.Equal(t, playerX, session.LocalPlayer())
	})
}

func TestSession_Play(t *testing.T) {
	ctx := context.Background()

	t.Run("Two sessions on one log converge", func(t *testing.T) {
		// Given: two players and a spectator on the same log
		memLog := stream.NewMemoryLog()
		x := startSession(t, memLog, playerX)
		o := startSession(t, memLog, playerO)
		w := startSession(t, memLog, watcher)

		// When: X claims the first move and both players alternate
		require.NoError(t, x.ClaimFirstPlayer(ctx))
		waitForFirstPlayer(t, x, playerX)
		waitForFirstPlayer(t, o, playerX)

		players := []*Session{x, o}
		for i, move := range opening {
			player := players[i%2]
			require.NoError(t, player.SubmitLocalMove(ctx, move[0], move[1]))

			for _, session := range []*Session{x, o, w} {
				waitForMoves(t, session, i+1)
			}
		}

		// Then: every session holds the same state
		assert.Equal(t, x.CurrentState(), o.CurrentState())
		assert.Equal(t, x.CurrentState(), w.CurrentState())
		assert.Equal(t, [2]entity.PlayerID{playerX, playerO}, x.CurrentState().Players)
		assert.True(t, w.LocalRole().Spectator)
		assert.False(t, w.CanAct())
		assert.True(t, x.CanAct())
	})

	t.Run("Rejected moves never reach the log", func(t *testing.T) {
		memLog := stream.NewMemoryLog()
		x := startSession(t, memLog, playerX)
		o := startSession(t, memLog, playerO)

		// Before the first player is known
		err := x.SubmitLocalMove(ctx, 4, 4)
		require.ErrorIs(t, err, apperror.ErrIllegalMove)
		require.ErrorIs(t, err, apperror.ErrFirstPlayerUnknown)

		require.NoError(t, x.ClaimFirstPlayer(ctx))
		waitForFirstPlayer(t, o, playerX)
		entries := memLog.Len()

		// Out of turn
		err = o.SubmitLocalMove(ctx, 4, 4)
		require.ErrorIs(t, err, apperror.ErrNotYourTurn)

		// Out of range
		err = x.SubmitLocalMove(ctx, 9, 0)
		require.ErrorIs(t, err, apperror.ErrMalformedMove)

		assert.Equal(t, entries, memLog.Len())
	})

	t.Run("Claiming the first move", func(t *testing.T) {
		memLog := stream.NewMemoryLog()
		x := startSession(t, memLog, playerX)
		o := startSession(t, memLog, playerO)

		require.NoError(t, x.ClaimFirstPlayer(ctx))
		waitForFirstPlayer(t, x, playerX)
		waitForFirstPlayer(t, o, playerX)

		// Claiming again is a no-op
		require.NoError(t, x.ClaimFirstPlayer(ctx))
		assert.Equal(t, 1, memLog.Len())

		// Someone else cannot take it
		require.ErrorIs(t, o.ClaimFirstPlayer(ctx), apperror.ErrFirstPlayerTaken)
		assert.Equal(t, 1, memLog.Len())
	})
}

func TestSession_Observers(t *testing.T) {
	ctx := context.Background()

	t.Run("Change observers see every accepted mutation", func(t *testing.T) {
		memLog := stream.NewMemoryLog()
		x := startSession(t, memLog, playerX)

		var (
			mu     sync.Mutex
			states []entity.GameState
		)
		x.OnChange(func(state entity.GameState) {
			mu.Lock()
			defer mu.Unlock()

			states = append(states, state)
		})

		require.NoError(t, x.ClaimFirstPlayer(ctx))
		waitForFirstPlayer(t, x, playerX)
		require.NoError(t, x.SubmitLocalMove(ctx, 4, 4))

		require.Eventually(t, func() bool {
			mu.Lock()
			defer mu.Unlock()

			return len(states) == 2
		}, waitFor, time.Millisecond)

		mu.Lock()
		defer mu.Unlock()

		assert.Equal(t, playerX, states[0].FirstPlayer)
		assert.Len(t, states[1].AppliedMoves, 1)
	})

	t.Run("Report observers see rejected entries", func(t *testing.T) {
		memLog := stream.NewMemoryLog()
		x := startSession(t, memLog, playerX)

		reports := make(chan error, 1)
		unsubscribe := x.OnReport(func(_ stream.Entry, err error) {
			reports <- err
		})

		_, err := memLog.Append(ctx, map[string]string{stream.FieldKind: "resign"})
		require.NoError(t, err)

		select {
		case err := <-reports:
			require.ErrorIs(t, err, apperror.ErrMalformedEvent)
		case <-time.After(waitFor):
			t.Fatal("no report")
		}

		unsubscribe()
		_, err = memLog.Append(ctx, map[string]string{stream.FieldKind: "resign"})
		require.NoError(t, err)

		// The session keeps running after a malformed entry
		require.NoError(t, x.ClaimFirstPlayer(ctx))
		waitForFirstPlayer(t, x, playerX)
		assert.Empty(t, reports)
	})
}

func TestSession_Lifecycle(t *testing.T) {
	ctx := context.Background()

	t.Run("Conflicting first player ends the session", func(t *testing.T) {
		// Given: a running session
		memLog := stream.NewMemoryLog()
		x := startSession(t, memLog, playerX)

		// When: two different first players are appended
		_, err := memLog.Append(ctx, stream.EncodeAssignment(playerX))
		require.NoError(t, err)
		_, err = memLog.Append(ctx, stream.EncodeAssignment(playerO))
		require.NoError(t, err)

		// Then: the session ends with a protocol violation
		select {
		case <-x.Done():
		case <-time.After(waitFor):
			t.Fatal("session did not end")
		}

		require.ErrorIs(t, x.Err(), apperror.ErrProtocolViolation)
		require.ErrorIs(t, x.SubmitLocalMove(ctx, 4, 4), apperror.ErrSessionClosed)
	})

	t.Run("No change notifications after stop", func(t *testing.T) {
		memLog := stream.NewMemoryLog()
		x := startSession(t, memLog, playerX)

		var calls int
		x.OnChange(func(entity.GameState) { calls++ })

		x.Stop()

		_, err := memLog.Append(ctx, stream.EncodeAssignment(playerX))
		require.NoError(t, err)

		<-x.Done()
		assert.Zero(t, calls)
		assert.NoError(t, x.Err())
		require.ErrorIs(t, x.ClaimFirstPlayer(ctx), apperror.ErrSessionClosed)
	})

	t.Run("Observer may stop the session", func(t *testing.T) {
		// Given: an observer that stops the session on the first change
		memLog := stream.NewMemoryLog()
		x := startSession(t, memLog, playerX)

		stopped := make(chan struct{})
		var calls atomic.Int32
		x.OnChange(func(entity.GameState) {
			if calls.Add(1) == 1 {
				x.Stop()
				close(stopped)
			}
		})

		// When: a change arrives
		require.NoError(t, x.ClaimFirstPlayer(ctx))

		// Then: Stop returns inside the observer and the session ends
		select {
		case <-stopped:
		case <-time.After(waitFor):
			t.Fatal("Stop called from an observer did not return")
		}

		select {
		case <-x.Done():
		case <-time.After(waitFor):
			t.Fatal("session did not end")
		}

		_, err := memLog.Append(ctx, stream.EncodeMove(entity.Move{SubBoard: 4, Cell: 4, Player: playerX}))
		require.NoError(t, err)

		assert.Equal(t, int32(1), calls.Load())
		assert.NoError(t, x.Err())
		require.ErrorIs(t, x.SubmitLocalMove(ctx, 4, 4), apperror.ErrSessionClosed)
	})

	t.Run("Reconnect keeps local state and adds only new moves", func(t *testing.T) {
		// Given: a session that has seen five moves
		clock := quartz.NewMock(t)
		memLog := stream.NewMemoryLog()

		_, err := memLog.Append(ctx, stream.EncodeAssignment(playerX))
		require.NoError(t, err)

		players := []entity.PlayerID{playerX, playerO}
		for i, move := range opening[:5] {
			_, err = memLog.Append(ctx, stream.EncodeMove(entity.Move{SubBoard: move[0], Cell: move[1], Player: players[i%2]}))
			require.NoError(t, err)
		}

		w := startSession(t, memLog, watcher, WithStreamOptions(stream.WithClock(clock)))
		require.Len(t, w.CurrentState().AppliedMoves, 5)

		// When: the connection drops
		memLog.SetOffline(true)

		require.Eventually(t, func() bool {
			_, ok := clock.Peek()
			return ok
		}, waitFor, time.Millisecond)

		// Then: the local state is kept
		assert.Len(t, w.CurrentState().AppliedMoves, 5)

		// When: the log comes back with one more move and the retry fires
		memLog.SetOffline(false)

		last := opening[5]
		_, err = memLog.Append(ctx, stream.EncodeMove(entity.Move{SubBoard: last[0], Cell: last[1], Player: playerO}))
		require.NoError(t, err)

		_, waiter := clock.AdvanceNext()
		waiter.MustWait(ctx)

		// Then: exactly one move is added
		waitForMoves(t, w, 6)

		state := w.CurrentState()
		assert.Equal(t, entity.Move{SubBoard: last[0], Cell: last[1], Player: playerO, Token: "7"}, state.AppliedMoves[5])
	})
}
