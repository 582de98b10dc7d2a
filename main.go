package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/alecthomas/kong"
	"github.com/google/uuid"

	app "github.com/rocketscienceinc/ultimatettt/internal"
	"github.com/rocketscienceinc/ultimatettt/internal/config"
)

type CLI struct {
	Config   string `short:"c" help:"Path to the yaml config file; environment only when missing" default:"config.yml" type:"path"`
	Game     string `short:"g" help:"Game id, overrides game.id"`
	Player   string `short:"p" help:"Local player id, overrides player.id; random when both are empty"`
	LogLevel string `help:"Log level (debug, info, warn, error), overrides log-level"`
	Backend  string `help:"Where the game log lives" enum:"redis,memory" default:"redis"`
	Reset    bool   `help:"Delete the game log before joining (redis backend)"`
	Bot      bool   `help:"Let the bot play the opponent (memory backend) or the local seat (redis backend)"`
}

// main - is the entry point of the application. It initializes the configuration, logger, and runs the application.
func main() {
	defer func() {
		if err := recover(); err != nil {
			fmt.Fprintf(os.Stderr, "recovered from panic: %v\n", err)
			os.Exit(1)
		}
	}()

	var cli CLI
	kong.Parse(&cli,
		kong.Name("ultimatettt"),
		kong.Description("Ultimate tic-tac-toe over a shared move log."),
	)

	conf := initConfig(cli)
	logger := initLogger(conf)

	if err := app.RunApp(logger, conf, app.Options{
		Backend: cli.Backend,
		Reset:   cli.Reset,
		Bot:     cli.Bot,
	}); err != nil {
		panic(fmt.Errorf("app run failed: %w", err))
	}
}

// initialize config, flags win over file and environment.
func initConfig(cli CLI) *config.Config {
	conf := config.MustLoad(cli.Config)

	if cli.Game != "" {
		conf.Game.ID = cli.Game
	}

	if cli.Player != "" {
		conf.Player.ID = cli.Player
	}

	if conf.Player.ID == "" {
		conf.Player.ID = uuid.NewString()
	}

	if cli.LogLevel != "" {
		conf.LogLevel = cli.LogLevel
	}

	return conf
}

// initialize logger.
func initLogger(conf *config.Config) *slog.Logger {
	var level slog.Level

	switch conf.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
