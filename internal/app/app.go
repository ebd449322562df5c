// Package app wires storage, the registry, the messenger and the bot from a
// loaded config.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"

	"shiftbot/internal/bot"
	"shiftbot/internal/config"
	"shiftbot/internal/db"
	"shiftbot/internal/messenger"
	"shiftbot/internal/migrate"
	"shiftbot/internal/registry"
	"shiftbot/internal/server"
	"shiftbot/internal/ticker"
)

type App struct {
	Config   *config.Config
	DB       *sql.DB
	Registry *registry.Registry
	Bot      *bot.Bot
	Logger   zerolog.Logger
}

// Open opens and migrates the database, then seeds the roster and admin set
// from config. Existing teams are left alone so rotations survive restarts.
func Open(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*App, error) {
	conn, err := db.Open(db.Config{Path: cfg.Storage.Path})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	version, err := migrate.Migrate(ctx, conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	logger.Debug().Int("schema_version", version).Msg("database ready")
	reg := registry.New(conn, cfg.Schedule)
	if err := reg.Seed(ctx, cfg.Roster, cfg.Admins); err != nil {
		conn.Close()
		return nil, fmt.Errorf("seed roster: %w", err)
	}
	a := &App{Config: cfg, DB: conn, Registry: reg, Logger: logger}
	a.Bot = &bot.Bot{
		Registry:  reg,
		Messenger: a.lark(),
		Logger:    logger.With().Str("component", "bot").Logger(),
		Approvers: cfg.Approvers,
	}
	return a, nil
}

func (a *App) lark() *messenger.Lark {
	return messenger.NewLark(messenger.LarkConfig{
		BaseURL:       a.Config.App.BaseURL,
		AppID:         a.Config.App.ID,
		AppSecret:     a.Config.App.Secret,
		ReceiveIDType: a.Config.App.ReceiveIDType,
		Logger:        a.Logger.With().Str("component", "lark").Logger(),
	})
}

// Handler builds the HTTP surface around the bot.
func (a *App) Handler() (http.Handler, error) {
	return server.New(server.Config{
		Registry: a.Registry,
		Events:   a.Bot,
		App:      a.Config,
		BasePath: a.Config.Server.BasePath,
		Auth:     server.AuthConfig{JWTSecret: a.Config.Server.JWTSecret},
		Logger:   a.Logger.With().Str("component", "webhook").Logger(),
	})
}

// Ticker returns the background rotation and reminder loop.
func (a *App) Ticker() *ticker.Ticker {
	return &ticker.Ticker{
		Jobs:     a.Bot,
		Interval: a.Config.Schedule.Interval(),
		Logger:   a.Logger.With().Str("component", "ticker").Logger(),
	}
}

func (a *App) Close() error {
	return a.DB.Close()
}
