// Package tictactoe implements the nested board rules. Every function is pure: inputs are never
// mutated and results are returned as new values.
package tictactoe

import (
	"fmt"

	"github.com/rocketscienceinc/ultimatettt/internal/apperror"
	"github.com/rocketscienceinc/ultimatettt/internal/entity"
)

var WinCombos = [][3]int{
	{0, 1, 2},
	{3, 4, 5},
	{6, 7, 8},
	{0, 3, 6},
	{1, 4, 7},
	{2, 5, 8},
	{0, 4, 8},
	{2, 4, 6},
}

// EvaluateSubBoard - outcome of a single 3x3 board.
func EvaluateSubBoard(cells [entity.BoardSize]entity.PlayerID) entity.Status {
	var filled [entity.BoardSize]bool
	for i, cell := range cells {
		filled[i] = !cell.IsEmpty()
	}

	return evaluate(cells, filled)
}

// EvaluateSuperBoard - outcome of the whole game from the sub-board outcomes. A decided sub-board
// counts as filled, only a won one counts as owned.
func EvaluateSuperBoard(statuses [entity.BoardSize]entity.Status) entity.Status {
	var (
		owners [entity.BoardSize]entity.PlayerID
		filled [entity.BoardSize]bool
	)

	for i, status := range statuses {
		if status.Outcome == entity.Won {
			owners[i] = status.Winner
		}
		filled[i] = !status.IsOpen()
	}

	return evaluate(owners, filled)
}

func evaluate(owners [entity.BoardSize]entity.PlayerID, filled [entity.BoardSize]bool) entity.Status {
	for _, combo := range WinCombos {
		a, b, c := owners[combo[0]], owners[combo[1]], owners[combo[2]]
		if !a.IsEmpty() && a == b && b == c {
			return entity.WonBy(a)
		}
	}

	for _, isFilled := range filled {
		if !isFilled {
			return entity.OpenStatus()
		}
	}

	return entity.DrawnStatus()
}

// ValidateMove - checks coordinates and identity before any rule is consulted.
func ValidateMove(move entity.Move) error {
	if !inRange(move.SubBoard) {
		return fmt.Errorf("%w: sub-board index %d", apperror.ErrMalformedMove, move.SubBoard)
	}

	if !inRange(move.Cell) {
		return fmt.Errorf("%w: cell index %d", apperror.ErrMalformedMove, move.Cell)
	}

	if move.Player.IsEmpty() {
		return fmt.Errorf("%w: empty player", apperror.ErrMalformedMove)
	}

	return nil
}

// IsLegalMove - whether the move targets the active sub-board, an empty cell and an open sub-board.
func IsLegalMove(state entity.GameState, move entity.Move) bool {
	if !inRange(move.SubBoard) || !inRange(move.Cell) {
		return false
	}

	return checkPlacement(&state, move) == nil
}

// ApplyMove - returns the state after move, or the unchanged state and an error.
func ApplyMove(state entity.GameState, move entity.Move) (entity.GameState, error) {
	if err := ValidateMove(move); err != nil {
		return state, err
	}

	if err := checkTurn(&state, move.Player); err != nil {
		return state, err
	}

	if err := checkPlacement(&state, move); err != nil {
		return state, err
	}

	next := state.Clone()
	board := &next.Board

	sub := &board.SubBoards[move.SubBoard]
	sub.Cells[move.Cell] = move.Player
	sub.Status = EvaluateSubBoard(sub.Cells)
	board.Status = EvaluateSuperBoard(board.Statuses())

	// the cell index points at the next sub-board, checked after this move landed
	if board.SubBoards[move.Cell].Status.IsOpen() {
		board.ActiveSubBoard = move.Cell
	} else {
		board.ActiveSubBoard = entity.AnyOpen
	}

	seat := next.SeatToMove()
	if next.Players[seat].IsEmpty() {
		next.Players[seat] = move.Player
	}

	next.AppliedMoves = append(next.AppliedMoves, move)
	next.CurrentTurn = next.Players[next.SeatToMove()]

	return next, nil
}

// AssignFirstPlayer - seats the first player. Repeating the same player is a no-op, a different one
// is a protocol violation.
func AssignFirstPlayer(state entity.GameState, player entity.PlayerID) (entity.GameState, error) {
	if player.IsEmpty() {
		return state, fmt.Errorf("%w: empty first player", apperror.ErrMalformedEvent)
	}

	if state.IsFirstPlayerKnown() {
		if state.FirstPlayer == player {
			return state, nil
		}

		return state, fmt.Errorf("%w: %w: %s, got %s",
			apperror.ErrProtocolViolation, apperror.ErrFirstPlayerTaken, state.FirstPlayer, player)
	}

	next := state.Clone()
	next.FirstPlayer = player
	next.Players[0] = player
	next.CurrentTurn = next.Players[next.SeatToMove()]

	return next, nil
}

// CanPlay - whether player may make the next move, ignoring the board.
func CanPlay(state entity.GameState, player entity.PlayerID) bool {
	return checkTurn(&state, player) == nil
}

func checkTurn(state *entity.GameState, player entity.PlayerID) error {
	if !state.IsFirstPlayerKnown() {
		return fmt.Errorf("%w: %w", apperror.ErrIllegalMove, apperror.ErrFirstPlayerUnknown)
	}

	if state.IsFinished() {
		return fmt.Errorf("%w: %w", apperror.ErrIllegalMove, apperror.ErrGameFinished)
	}

	holder := state.Players[state.SeatToMove()]

	switch {
	case player.IsEmpty():
		return fmt.Errorf("%w: %w", apperror.ErrIllegalMove, apperror.ErrNotYourTurn)
	case holder.IsEmpty() && player == state.FirstPlayer:
		return fmt.Errorf("%w: %w: %s", apperror.ErrIllegalMove, apperror.ErrNotYourTurn, player)
	case !holder.IsEmpty() && player != holder:
		return fmt.Errorf("%w: %w: %s", apperror.ErrIllegalMove, apperror.ErrNotYourTurn, player)
	}

	return nil
}

func checkPlacement(state *entity.GameState, move entity.Move) error {
	board := &state.Board

	if board.ActiveSubBoard != entity.AnyOpen && board.ActiveSubBoard != move.SubBoard {
		return fmt.Errorf("%w: %w: got %d, want %d",
			apperror.ErrIllegalMove, apperror.ErrWrongSubBoard, move.SubBoard, board.ActiveSubBoard)
	}

	sub := &board.SubBoards[move.SubBoard]
	if !sub.Status.IsOpen() {
		return fmt.Errorf("%w: %w: sub-board %d is %s",
			apperror.ErrIllegalMove, apperror.ErrSubBoardClosed, move.SubBoard, sub.Status)
	}

	if !sub.Cells[move.Cell].IsEmpty() {
		return fmt.Errorf("%w: %w: sub-board %d cell %d",
			apperror.ErrIllegalMove, apperror.ErrCellOccupied, move.SubBoard, move.Cell)
	}

	return nil
}

func inRange(index int) bool {
	return index >= 0 && index < entity.BoardSize
}
