package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"shiftbot/internal/app"
	"shiftbot/internal/config"
	"shiftbot/internal/db"
	"shiftbot/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "shiftbot",
	Short: "Shift roster and request bot for Lark",
	Long: `shiftbot answers chat commands from a Lark app: it keeps the day and night
duty rosters, routes requests to whoever is on duty, tracks tasks and
approvals and fires personal reminders.

Run "shiftbot config init" for a starter shiftbot.yml, then "shiftbot serve".
Credentials can come from the environment: SHIFTBOT_APP_ID (or APPID),
SHIFTBOT_APP_SECRET (or SECRET), SHIFTBOT_PORT (or PORT).`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("SHIFTBOT")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()
	_ = viper.BindEnv("app-id", "SHIFTBOT_APP_ID", "APPID")
	_ = viper.BindEnv("app-secret", "SHIFTBOT_APP_SECRET", "SECRET")
	_ = viper.BindEnv("port", "SHIFTBOT_PORT", "PORT")
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("config", "c", config.DefaultFileName, "config file")
	rootCmd.PersistentFlags().String("db", "", "database file (overrides storage.path)")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "console", "log format (console, json)")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("db", rootCmd.PersistentFlags().Lookup("db"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log-format", rootCmd.PersistentFlags().Lookup("log-format"))
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(doctorCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(workloadCmd())
	rootCmd.AddCommand(rosterCmd())
	rootCmd.AddCommand(requestsCmd())
	rootCmd.AddCommand(tasksCmd())
	rootCmd.AddCommand(remindersCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(remoteCmd())
}

// loadConfig reads the config file, if any, and overlays the environment.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadOptional(viper.GetString("config"))
	if err != nil {
		return nil, err
	}
	if v := viper.GetString("app-id"); v != "" {
		cfg.App.ID = v
	}
	if v := viper.GetString("app-secret"); v != "" {
		cfg.App.Secret = v
	}
	if v := viper.GetString("verification-token"); v != "" {
		cfg.App.VerificationToken = v
	}
	if v := viper.GetString("jwt-secret"); v != "" {
		cfg.Server.JWTSecret = v
	}
	if v := viper.GetString("db"); v != "" {
		cfg.Storage.Path = v
	}
	if v := viper.GetString("port"); v != "" {
		if !strings.Contains(v, ":") {
			v = ":" + v
		}
		cfg.Server.Addr = v
	}
	return cfg, nil
}

func newLogger() zerolog.Logger {
	level, err := zerolog.ParseLevel(viper.GetString("log-level"))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	var logger zerolog.Logger
	if viper.GetString("log-format") == "json" {
		logger = zerolog.New(os.Stderr)
	} else {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	return logger.Level(level).With().Timestamp().Logger()
}

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := openLocal(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

var errNoStorage = errors.New(`no storage.path configured: local reports read the bot's database file; set storage.path or --db, or use "shiftbot remote"`)

// openLocal opens the bot's database for the report commands. An in-memory
// store would only ever hold the seeded roster, so it is refused.
func openLocal(ctx context.Context, cfg *config.Config) (*app.App, error) {
	if (db.Config{Path: cfg.Storage.Path}).InMemory() {
		return nil, errNoStorage
	}
	return app.Open(ctx, cfg, zerolog.Nop())
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the webhook, admin API and background ticker",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := newLogger()
			if res := cfg.Doctor(); !res.OK() {
				logger.Warn().Msg(res.Message)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := app.Open(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()
			handler, err := a.Handler()
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: cfg.Server.Addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				logger.Info().Str("addr", cfg.Server.Addr).Str("base_path", cfg.Server.BasePath).Msg("serving")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				return a.Ticker().Run(gctx)
			})
			g.Go(func() error {
				<-gctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})
			err = g.Wait()
			logger.Info().Msg("stopped")
			return err
		},
	}
	cmd.Flags().String("addr", "", "listen address (overrides server.addr)")
	cmd.PreRun = func(cmd *cobra.Command, args []string) {
		if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
			viper.Set("port", addr)
		}
	}
	return cmd
}

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check the app credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			res := cfg.Doctor()
			if viper.GetBool("json") {
				if err := printJSON(res); err != nil {
					return err
				}
			} else {
				fmt.Println(res.Message)
			}
			if !res.OK() {
				return errors.New("configuration check failed")
			}
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	cfgCmd := &cobra.Command{Use: "config", Short: "Manage shiftbot.yml"}
	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter config",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := viper.GetString("config")
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o600); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := config.Load(viper.GetString("config")); err != nil {
				return err
			}
			fmt.Println("ok")
			return nil
		},
	}
	cfgCmd.AddCommand(initCmd, validateCmd)
	return cfgCmd
}

func tokenCmd() *cobra.Command {
	var subject string
	var roles []string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an admin API bearer token",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			tok, err := server.SignToken(cfg.Server.JWTSecret, subject, roles, ttl)
			if err != nil {
				return err
			}
			fmt.Println(tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "token subject (an admin open_id or a service name)")
	cmd.Flags().StringSliceVar(&roles, "role", []string{"admin"}, "roles to embed")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime (0 for no expiry)")
	return cmd
}
