package application

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/rocketscienceinc/ultimatettt/internal/entity"
	"github.com/rocketscienceinc/ultimatettt/internal/session"
	"github.com/rocketscienceinc/ultimatettt/internal/stream"
)

const help = `commands:
  claim              take the first move
  move <sub> <cell>  play cell (0-8) of sub-board (0-8)
  board              print the board
  quit               leave the game`

type palette struct {
	first, second, status func(...string) string
}

var (
	plain = palette{first: unstyled, second: unstyled, status: unstyled}

	colored = palette{
		first:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")).Render,
		second: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9")).Render,
		status: lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("8")).Render,
	}
)

func unstyled(strs ...string) string {
	return strings.Join(strs, " ")
}

// console - line based front end over one or more sessions of the same game.
type console struct {
	logger   *slog.Logger
	sessions []*session.Session
	in       io.Reader

	mu  sync.Mutex
	out io.Writer
}

func newConsole(logger *slog.Logger, sessions []*session.Session, in io.Reader, out io.Writer) *console {
	return &console{
		logger:   logger.With("component", "console"),
		sessions: sessions,
		in:       in,
		out:      out,
	}
}

// Run - reads commands until quit, end of input or ctx is done.
func (that *console) Run(ctx context.Context) error {
	primary := that.sessions[0]

	unsubscribe := primary.OnChange(func(state entity.GameState) {
		that.print(render(state, colored))
	})
	defer unsubscribe()

	unreport := primary.OnReport(func(entry stream.Entry, err error) {
		that.print(fmt.Sprintf("ignored log entry %s: %v", entry.Token, err))
	})
	defer unreport()

	lines := make(chan string)

	go func() {
		defer close(lines)

		scanner := bufio.NewScanner(that.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	that.print(help)
	that.print(render(primary.CurrentState(), colored))

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}

			if quit := that.execute(ctx, line); quit {
				return nil
			}
		}
	}
}

func (that *console) execute(ctx context.Context, line string) bool {
	log := that.logger.With("method", "execute")

	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}

	var err error

	switch fields[0] {
	case "quit", "exit":
		return true
	case "board":
		that.print(render(that.sessions[0].CurrentState(), colored))
	case "claim":
		err = that.sessions[0].ClaimFirstPlayer(ctx)
	case "move":
		err = that.move(ctx, fields[1:])
	case "help":
		that.print(help)
	default:
		that.print(fmt.Sprintf("unknown command %q\n%s", fields[0], help))
	}

	if err != nil {
		log.Debug("command failed", "command", fields[0], "error", err)
		that.print("error: " + err.Error())
	}

	return false
}

func (that *console) move(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: move <sub> <cell>")
	}

	subBoard, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid sub-board %q: %w", args[0], err)
	}

	cell, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("invalid cell %q: %w", args[1], err)
	}

	return that.actor().SubmitLocalMove(ctx, subBoard, cell)
}

// actor - the session whose player may act now, the first one otherwise.
func (that *console) actor() *session.Session {
	for _, s := range that.sessions {
		if s.CanAct() {
			return s
		}
	}

	return that.sessions[0]
}

func (that *console) print(text string) {
	that.mu.Lock()
	defer that.mu.Unlock()

	fmt.Fprintln(that.out, text)
}

// Render - text dump of the board. The first player is X, the second O.
func Render(state entity.GameState) string {
	return render(state, plain)
}

func render(state entity.GameState, colors palette) string {
	var builder strings.Builder

	for row := range 9 {
		if row > 0 && row%3 == 0 {
			builder.WriteString("------+-------+------\n")
		}

		for col := range 9 {
			if col > 0 && col%3 == 0 {
				builder.WriteString("| ")
			}

			subBoard := (row/3)*3 + col/3
			cell := (row%3)*3 + col%3

			builder.WriteString(mark(state, state.Board.SubBoards[subBoard].Cells[cell], colors))

			if col < 8 {
				builder.WriteByte(' ')
			}
		}

		builder.WriteByte('\n')
	}

	builder.WriteString(colors.status(status(state)))

	return builder.String()
}

func mark(state entity.GameState, player entity.PlayerID, colors palette) string {
	switch state.SeatOf(player) {
	case 0:
		return colors.first("X")
	case 1:
		return colors.second("O")
	default:
		return "."
	}
}

func status(state entity.GameState) string {
	switch {
	case !state.IsFirstPlayerKnown():
		return "waiting for a first player (claim)"
	case state.Board.Status.Outcome == entity.Won:
		return fmt.Sprintf("%s won", state.Board.Status.Winner)
	case state.Board.Status.Outcome == entity.Drawn:
		return "draw"
	}

	active := "any"
	if state.Board.ActiveSubBoard != entity.AnyOpen {
		active = strconv.Itoa(state.Board.ActiveSubBoard)
	}

	turn := string(state.CurrentTurn)
	if turn == "" {
		turn = "second player"
	}

	return fmt.Sprintf("move %d, %s to play in sub-board %s", len(state.AppliedMoves)+1, turn, active)
}
