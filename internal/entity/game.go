package entity

import (
	"fmt"
	"slices"
)

const (
	BoardSize = 9

	// AnyOpen - the next move may target any sub-board whose status is open.
	AnyOpen = -1
)

type Outcome int

const (
	Open Outcome = iota
	Won
	Drawn
)

func (that Outcome) String() string {
	switch that {
	case Open:
		return "open"
	case Won:
		return "won"
	case Drawn:
		return "drawn"
	default:
		return fmt.Sprintf("outcome(%d)", int(that))
	}
}

// Status - outcome of a board. Winner is set only when Outcome is Won.
type Status struct {
	Outcome Outcome  `json:"outcome"`
	Winner  PlayerID `json:"winner,omitempty"`
}

func OpenStatus() Status {
	return Status{Outcome: Open}
}

func WonBy(player PlayerID) Status {
	return Status{Outcome: Won, Winner: player}
}

func DrawnStatus() Status {
	return Status{Outcome: Drawn}
}

func (that Status) IsOpen() bool {
	return that.Outcome == Open
}

func (that Status) String() string {
	if that.Outcome == Won {
		return fmt.Sprintf("won(%s)", that.Winner)
	}

	return that.Outcome.String()
}

// SubBoard - one of the nine 3x3 boards. Status is derived from Cells and is refreshed by the
// rules engine whenever a cell changes.
type SubBoard struct {
	Cells  [BoardSize]PlayerID `json:"cells"`
	Status Status              `json:"status"`
}

// SuperBoard - the 3x3 grid of sub-boards.
type SuperBoard struct {
	SubBoards      [BoardSize]SubBoard `json:"sub_boards"`
	ActiveSubBoard int                 `json:"active_sub_board"`
	Status         Status              `json:"status"`
}

func NewSuperBoard() SuperBoard {
	return SuperBoard{ActiveSubBoard: AnyOpen}
}

// Statuses - outcomes of all sub-boards in index order.
func (that SuperBoard) Statuses() [BoardSize]Status {
	var statuses [BoardSize]Status
	for i, sub := range that.SubBoards {
		statuses[i] = sub.Status
	}

	return statuses
}

// Move - one placement. Token is assigned by the log and orders moves.
type Move struct {
	SubBoard int      `json:"sub_board_index"`
	Cell     int      `json:"cell_index"`
	Player   PlayerID `json:"player"`
	Token    string   `json:"token"`
}

func (that Move) String() string {
	return fmt.Sprintf("%s@(%d,%d)#%s", that.Player, that.SubBoard, that.Cell, that.Token)
}

// GameState - authoritative state rebuilt from the log.
type GameState struct {
	Board        SuperBoard  `json:"board"`
	AppliedMoves []Move      `json:"applied_moves"`
	FirstPlayer  PlayerID    `json:"first_player,omitempty"`
	Players      [2]PlayerID `json:"players"`
	CurrentTurn  PlayerID    `json:"current_turn,omitempty"`
}

func NewGameState() GameState {
	return GameState{Board: NewSuperBoard()}
}

// Clone - deep copy, safe to hand to consumers.
func (that GameState) Clone() GameState {
	that.AppliedMoves = slices.Clone(that.AppliedMoves)

	return that
}

func (that GameState) HasMove(token string) bool {
	return slices.ContainsFunc(that.AppliedMoves, func(move Move) bool {
		return move.Token == token
	})
}

func (that GameState) IsFirstPlayerKnown() bool {
	return !that.FirstPlayer.IsEmpty()
}

// SeatToMove - seat index (0 or 1) that plays next.
func (that GameState) SeatToMove() int {
	return len(that.AppliedMoves) % 2
}

// SeatOf - seat held by player, or -1.
func (that GameState) SeatOf(player PlayerID) int {
	if player.IsEmpty() {
		return -1
	}

	for seat, holder := range that.Players {
		if holder == player {
			return seat
		}
	}

	return -1
}

func (that GameState) IsFinished() bool {
	return !that.Board.Status.IsOpen()
}
