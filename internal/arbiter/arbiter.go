package arbiter

import (
	"github.com/rocketscienceinc/ultimatettt/internal/entity"
	"github.com/rocketscienceinc/ultimatettt/internal/tictactoe"
)

type stateReader interface {
	Snapshot() entity.GameState
}

// Arbiter - decides whether the local identity may act on the current state.
type Arbiter struct {
	local  entity.PlayerID
	states stateReader
}

func New(local entity.PlayerID, states stateReader) *Arbiter {
	return &Arbiter{
		local:  local,
		states: states,
	}
}

func (that *Arbiter) LocalPlayer() entity.PlayerID {
	return that.local
}

// CanAct - true when local input should be accepted right now.
func (that *Arbiter) CanAct() bool {
	return CanAct(that.states.Snapshot(), that.local)
}

func (that *Arbiter) LocalRole() entity.Role {
	return LocalRole(that.states.Snapshot(), that.local)
}

// CanAct - local is on turn, or may claim the open second seat, and the game is not over.
func CanAct(state entity.GameState, local entity.PlayerID) bool {
	return tictactoe.CanPlay(state, local)
}

// LocalRole - the local identity when it holds a seat or can still claim the second one,
// otherwise a spectator.
func LocalRole(state entity.GameState, local entity.PlayerID) entity.Role {
	if local.IsEmpty() || !state.IsFirstPlayerKnown() {
		return entity.SpectatorRole()
	}

	if state.SeatOf(local) >= 0 || state.Players[1].IsEmpty() {
		return entity.PlayerRole(local)
	}

	return entity.SpectatorRole()
}
