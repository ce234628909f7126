// Package cmdutils carries the pieces shared by every sessionctl subcommand:
// configuration loading, logger setup and SDK construction.
package cmdutils

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/sessiond/sessiond-go/internal/config"
	"github.com/sessiond/sessiond-go/pkg/session"
	"github.com/sessiond/sessiond-go/pkg/sessiond"

	slogctx "github.com/veqryn/slog-context"
)

// ConfigDirs are searched in order for a config.yaml. Tests point this at a
// temporary directory.
var ConfigDirs = []string{"/etc/sessionctl", "$HOME/.sessionctl", "."}

// CobraCommand builds a subcommand that loads the configuration, initialises
// logging and hands off to fn with the remaining arguments.
func CobraCommand(use, short, long string, fn func(context.Context, *config.Config, []string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Long:  long,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(ConfigDirs...)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			if err := InitLogger(cfg.Logger, cfg.Application); err != nil {
				return fmt.Errorf("initialising the logger: %w", err)
			}

			if err := fn(cmd.Context(), cfg, args); err != nil {
				return oops.In(cmd.Name()).Wrapf(err, "Command failed")
			}

			return nil
		},
	}
}

// InitLogger installs the process-wide slog handler described by cfg,
// chained through slogctx so context attributes reach every log line.
func InitLogger(cfg config.Logger, app config.Application) error {
	var level slog.Level

	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "", "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("unknown log level %q", cfg.Level)
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler

	switch strings.ToLower(cfg.Format) {
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	case "", "text":
		handler = slog.NewTextHandler(os.Stderr, opts)
	default:
		return fmt.Errorf("unknown log format %q", cfg.Format)
	}

	logger := slog.New(slogctx.NewHandler(handler, nil))
	if app.Name != "" {
		logger = logger.With("application", app.Name)
	}

	slog.SetDefault(logger)

	return nil
}

// NewApp initialises the SDK from the file configuration and returns the
// session recipe alongside the app.
func NewApp(cfg *config.Config) (*sessiond.App, *session.Recipe, error) {
	apiKey, err := cfg.Core.APIKey.Resolve()
	if err != nil {
		return nil, nil, fmt.Errorf("resolving core api key: %w", err)
	}

	app, err := sessiond.Init(sessiond.Config{
		AppInfo: sessiond.AppInfo{
			AppName:     cfg.Application.Name,
			APIDomain:   cfg.API.Domain,
			APIBasePath: cfg.API.BasePath,
		},
		Core: sessiond.CoreConfig{
			ConnectionURI: cfg.Core.ConnectionURI,
			APIKey:        apiKey,
		},
		Recipes: []sessiond.RecipeInit{
			session.Init(sessionConfig(cfg.Session)),
		},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("initialising the SDK: %w", err)
	}

	recipe, err := session.FromApp(app)
	if err != nil {
		return nil, nil, err
	}

	return app, recipe, nil
}

func sessionConfig(cfg config.Session) session.Config {
	return session.Config{
		CookieDomain:             cfg.CookieDomain,
		CookieSecure:             cfg.CookieSecure,
		CookieSameSite:           session.CookieSameSite(cfg.CookieSameSite),
		AntiCsrf:                 session.AntiCsrfMode(cfg.AntiCsrf),
		SessionExpiredStatusCode: cfg.SessionExpiredStatusCode,
	}
}

// PrintJSON writes v to stdout as indented JSON, the output format of every
// sessionctl subcommand.
func PrintJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	return enc.Encode(v)
}
