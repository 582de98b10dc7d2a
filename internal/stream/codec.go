package stream

import (
	"fmt"
	"strconv"

	"github.com/rocketscienceinc/ultimatettt/internal/apperror"
	"github.com/rocketscienceinc/ultimatettt/internal/entity"
)

const (
	FieldKind     = "kind"
	FieldPlayer   = "player"
	FieldSubBoard = "subBoardIndex"
	FieldCell     = "cellIndex"

	KindAssign = "assign"
	KindMove   = "move"
)

// Record - decoded entry: either a first player assignment or a move.
type Record struct {
	Kind   string
	Player entity.PlayerID
	Move   entity.Move
}

func (that Record) IsAssignment() bool {
	return that.Kind == KindAssign
}

func EncodeAssignment(player entity.PlayerID) map[string]string {
	return map[string]string{
		FieldKind:   KindAssign,
		FieldPlayer: string(player),
	}
}

func EncodeMove(move entity.Move) map[string]string {
	return map[string]string{
		FieldKind:     KindMove,
		FieldPlayer:   string(move.Player),
		FieldSubBoard: strconv.Itoa(move.SubBoard),
		FieldCell:     strconv.Itoa(move.Cell),
	}
}

// Decode - classifies entry. Anything that is not a complete assignment or an in-range move is
// an ErrMalformedEvent.
func Decode(entry Entry) (Record, error) {
	if entry.Token == "" {
		return Record{}, fmt.Errorf("%w: entry without token", apperror.ErrMalformedEvent)
	}

	player := entity.PlayerID(entry.Values[FieldPlayer])
	if player.IsEmpty() {
		return Record{}, fmt.Errorf("%w: entry %s has no player", apperror.ErrMalformedEvent, entry.Token)
	}

	switch kind := entry.Values[FieldKind]; kind {
	case KindAssign:
		return Record{Kind: KindAssign, Player: player}, nil
	case KindMove:
		subBoard, err := decodeIndex(entry, FieldSubBoard)
		if err != nil {
			return Record{}, err
		}

		cell, err := decodeIndex(entry, FieldCell)
		if err != nil {
			return Record{}, err
		}

		return Record{
			Kind:   KindMove,
			Player: player,
			Move: entity.Move{
				SubBoard: subBoard,
				Cell:     cell,
				Player:   player,
				Token:    entry.Token,
			},
		}, nil
	default:
		return Record{}, fmt.Errorf("%w: entry %s has unknown kind %q", apperror.ErrMalformedEvent, entry.Token, kind)
	}
}

func decodeIndex(entry Entry, field string) (int, error) {
	raw, ok := entry.Values[field]
	if !ok {
		return 0, fmt.Errorf("%w: entry %s has no %s", apperror.ErrMalformedEvent, entry.Token, field)
	}

	index, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: entry %s: %s: %w", apperror.ErrMalformedEvent, entry.Token, field, err)
	}

	if index < 0 || index >= entity.BoardSize {
		return 0, fmt.Errorf("%w: entry %s: %s %d out of range", apperror.ErrMalformedEvent, entry.Token, field, index)
	}

	return index, nil
}
