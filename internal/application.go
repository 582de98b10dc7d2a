package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"slices"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/rocketscienceinc/ultimatettt/internal/config"
	"github.com/rocketscienceinc/ultimatettt/internal/entity"
	"github.com/rocketscienceinc/ultimatettt/internal/repository"
	"github.com/rocketscienceinc/ultimatettt/internal/repository/storage"
	"github.com/rocketscienceinc/ultimatettt/internal/service"
	"github.com/rocketscienceinc/ultimatettt/internal/session"
	"github.com/rocketscienceinc/ultimatettt/internal/stream"
)

const (
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

var (
	ErrAddrNotFound   = errors.New("redis address string is empty")
	ErrUnknownBackend = errors.New("unknown backend")
	ErrNoPlayer       = errors.New("player id is empty")
)

// Options - process level settings that do not live in the config file.
type Options struct {
	Backend string
	Reset   bool
	In      io.Reader
	Out     io.Writer

	// Bot - the opponent seat (memory) or the local seat (redis) is played by the bot.
	Bot bool
}

// RunApp - runs the application.
func RunApp(logger *slog.Logger, conf *config.Config, opts Options) error {
	log := logger.With("component", "app")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)

	go func() {
		select {
		case sig := <-sigs:
			log.Info("Received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	local := entity.PlayerID(conf.Player.ID)
	if local.IsEmpty() {
		return ErrNoPlayer
	}

	sessionOpts := []session.Option{
		session.WithStreamOptions(stream.WithRetryInterval(conf.Game.ReconnectInterval)),
	}

	var (
		sessions []*session.Session
		bots     []*session.Session
	)

	switch opts.Backend {
	case BackendRedis, "":
		redisAddrString := conf.Redis.GetRedisAddr()
		if redisAddrString == "" {
			return ErrAddrNotFound
		}

		redisStorage, err := storage.NewRedisStorage(ctx, storage.RedisOptions{
			Addr:     redisAddrString,
			Password: conf.Redis.Password,
			DB:       conf.Redis.DB,
		})
		if err != nil {
			return fmt.Errorf("could not connect to redis storage: %w", err)
		}

		defer func() {
			if err = redisStorage.Close(); err != nil {
				log.Error("could not close redis storage", "error", err)
			}
		}()

		moveLog := repository.NewMoveLog(
			redisStorage.Connection,
			repository.GameLogKey(conf.Game.KeyPrefix, conf.Game.ID),
			conf.Game.BlockTimeout,
		)

		if opts.Reset {
			if err = moveLog.Reset(ctx); err != nil {
				return fmt.Errorf("could not reset game log: %w", err)
			}

			log.Info("Game log reset", "key", moveLog.Key())
		}

		localSession, err := session.Start(ctx, logger, moveLog, local, sessionOpts...)
		if err != nil {
			return fmt.Errorf("could not start session: %w", err)
		}

		sessions = append(sessions, localSession)
		if opts.Bot {
			bots = append(bots, localSession)
		}

		log.Info("Joined game", "game", conf.Game.ID, "player", local, "key", moveLog.Key())
	case BackendMemory:
		// hot seat: both players share one in-process log
		memLog := stream.NewMemoryLog()

		for i, player := range []entity.PlayerID{local, local + "-opponent"} {
			seatSession, err := session.Start(ctx, logger, memLog, player, sessionOpts...)
			if err != nil {
				return fmt.Errorf("could not start session: %w", err)
			}

			if i > 0 && opts.Bot {
				bots = append(bots, seatSession)
				continue
			}

			sessions = append(sessions, seatSession)
		}

		log.Info("Started hot seat game", "players", len(sessions), "bots", len(bots))
	default:
		return fmt.Errorf("%w: %q", ErrUnknownBackend, opts.Backend)
	}

	all := slices.Clone(sessions)
	for _, s := range bots {
		if !slices.Contains(all, s) {
			all = append(all, s)
		}
	}

	defer func() {
		for _, s := range all {
			s.Stop()
		}
	}()

	in, out := opts.In, opts.Out
	if in == nil {
		in = os.Stdin
	}

	if out == nil {
		out = os.Stdout
	}

	group, groupCtx := errgroup.WithContext(ctx)

	for _, s := range all {
		group.Go(func() error {
			select {
			case <-s.Done():
				if err := s.Err(); err != nil {
					return fmt.Errorf("session of %s ended: %w", s.LocalPlayer(), err)
				}

				return nil
			case <-groupCtx.Done():
				return nil
			}
		})
	}

	for _, s := range bots {
		group.Go(func() error {
			return service.NewBotService(logger, rand.NewSource(rand.Int63())).Play(groupCtx, s) //nolint: gosec // it's ok
		})
	}

	group.Go(func() error {
		defer cancel()

		return newConsole(logger, sessions, in, out).Run(groupCtx)
	})

	if err := group.Wait(); err != nil {
		return err
	}

	log.Info("Application context canceled, shutting down")

	return nil
}
