package apperror

import "errors"

// Error categories. Detail errors below are wrapped together with one of these.
var (
	ErrMalformedEvent    = errors.New("malformed event")
	ErrMalformedMove     = errors.New("malformed move")
	ErrIllegalMove       = errors.New("illegal move")
	ErrProtocolViolation = errors.New("protocol violation")
	ErrConnectionLost    = errors.New("connection lost")
)

var (
	ErrGameFinished       = errors.New("game is already finished")
	ErrNotYourTurn        = errors.New("it's not your turn")
	ErrCellOccupied       = errors.New("cell is already occupied")
	ErrWrongSubBoard      = errors.New("move must target the active sub-board")
	ErrSubBoardClosed     = errors.New("sub-board is already decided")
	ErrFirstPlayerUnknown = errors.New("first player is not assigned yet")
	ErrFirstPlayerTaken   = errors.New("first player is already assigned")
	ErrSessionClosed      = errors.New("session is closed")
)
