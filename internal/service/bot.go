package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"

	"github.com/rocketscienceinc/ultimatettt/internal/entity"
	"github.com/rocketscienceinc/ultimatettt/internal/gamestate"
	"github.com/rocketscienceinc/ultimatettt/internal/tictactoe"
)

var ErrNoAvailableMoves = errors.New("no available moves")

// BotSession - the part of a session a bot needs to play.
type BotSession interface {
	LocalPlayer() entity.PlayerID
	CurrentState() entity.GameState
	CanAct() bool
	OnChange(observer gamestate.Observer) func()
	SubmitLocalMove(ctx context.Context, subBoard, cell int) error
	Done() <-chan struct{}
}

type BotService interface {
	ChooseMove(state entity.GameState, player entity.PlayerID) (entity.Move, error)
	Play(ctx context.Context, session BotSession) error
}

type botService struct {
	logger *slog.Logger
	rand   *rand.Rand
}

func NewBotService(logger *slog.Logger, source rand.Source) BotService {
	return &botService{
		logger: logger.With("component", "bot"),
		rand:   rand.New(source), //nolint: gosec // it's ok
	}
}

// ChooseMove - a random legal move for player.
func (that *botService) ChooseMove(state entity.GameState, player entity.PlayerID) (entity.Move, error) {
	available := make([]entity.Move, 0, entity.BoardSize*entity.BoardSize)

	for subBoard := range entity.BoardSize {
		for cell := range entity.BoardSize {
			move := entity.Move{SubBoard: subBoard, Cell: cell, Player: player}
			if tictactoe.IsLegalMove(state, move) {
				available = append(available, move)
			}
		}
	}

	if len(available) == 0 {
		return entity.Move{}, ErrNoAvailableMoves
	}

	return available[that.rand.Intn(len(available))], nil
}

// Play - makes a move every time the session may act, until ctx is done or the session ends.
func (that *botService) Play(ctx context.Context, session BotSession) error {
	log := that.logger.With("method", "Play", "player", session.LocalPlayer())

	changed := make(chan struct{}, 1)
	unsubscribe := session.OnChange(func(entity.GameState) {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	// moves applied when the bot last submitted; it waits for the log to move past them
	submittedAt := -1

	for {
		state := session.CurrentState()

		if len(state.AppliedMoves) > submittedAt && session.CanAct() {
			submitted, err := that.makeTurn(ctx, session, state)
			if err != nil {
				log.Warn("bot failed to make turn", "error", err)
			}

			if submitted {
				submittedAt = len(state.AppliedMoves)
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-session.Done():
			return nil
		case <-changed:
		}
	}
}

func (that *botService) makeTurn(ctx context.Context, session BotSession, state entity.GameState) (bool, error) {
	if state.IsFinished() {
		return false, nil
	}

	move, err := that.ChooseMove(state, session.LocalPlayer())
	if err != nil {
		return false, err
	}

	if err = session.SubmitLocalMove(ctx, move.SubBoard, move.Cell); err != nil {
		return false, fmt.Errorf("failed to submit %s: %w", move, err)
	}

	return true, nil
}
