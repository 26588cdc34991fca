// Package appctx provides a shared bootstrap helper for CLI commands.
// It centralizes config loading, logger setup and opening the local library
// to reduce boilerplate across commands.
package appctx

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/PeacheyByte/sellventory-companion/internal/config"
	"github.com/PeacheyByte/sellventory-companion/internal/logging"
	"github.com/PeacheyByte/sellventory-companion/internal/store"
)

// App holds the shared application context for commands.
type App struct {
	// Config is the loaded configuration with flag overrides applied
	Config *config.Config

	Logger *zap.Logger

	// Store is the local library (nil if NeedsStore is false)
	Store *store.Store
}

// Close releases resources held by the App.
// Safe to call multiple times.
func (a *App) Close() {
	if a.Store != nil {
		a.Store.Close()
		a.Store = nil
	}
	if a.Logger != nil {
		_ = a.Logger.Sync()
	}
}

// Options configures the bootstrap behavior.
type Options struct {
	// NeedsStore opens the local library
	NeedsStore bool

	// Create initializes the library when it does not exist yet.
	// Only meaningful with NeedsStore.
	Create bool
}

// DefaultOptions returns default options (existing library required).
func DefaultOptions() Options {
	return Options{NeedsStore: true}
}

// RunFunc is the signature for command run functions.
type RunFunc func(ctx context.Context, app *App, cmd *cobra.Command, args []string) error

// WithApp wraps a command's run function with shared bootstrap logic.
// The store is closed automatically when the wrapped function returns.
func WithApp(opts Options, fn RunFunc) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		app, err := Bootstrap(ctx, cmd, opts)
		if err != nil {
			return err
		}
		defer app.Close()

		return fn(ctx, app, cmd, args)
	}
}

// Bootstrap initializes the App according to the given options.
// Callers are responsible for calling App.Close() when done.
func Bootstrap(ctx context.Context, cmd *cobra.Command, opts Options) (*App, error) {
	app := &App{}

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	applyFlags(cmd, cfg)
	app.Config = cfg

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, err
	}
	app.Logger = logger

	if opts.NeedsStore {
		open := store.Open
		if opts.Create {
			open = store.Init
		} else if err := requireFile(cfg.DBPath); err != nil {
			app.Close()
			return nil, err
		}

		st, err := open(ctx, cfg.DBPath, cfg.ImagesDir)
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("failed to open library: %w", err)
		}
		app.Store = st
	}

	return app, nil
}

// applyFlags lets --library, --db, --images and --log-level override config.
// --library is applied first so --db and --images can refine it.
func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	if v := flagString(cmd, "library"); v != "" {
		cfg.UseLibrary(v)
	}
	if v := flagString(cmd, "db"); v != "" {
		cfg.DBPath = v
	}
	if v := flagString(cmd, "images"); v != "" {
		cfg.ImagesDir = v
	}
	if v := flagString(cmd, "log-level"); v != "" {
		cfg.LogLevel = v
	}
}

func flagString(cmd *cobra.Command, name string) string {
	f := cmd.Flag(name)
	if f == nil {
		return ""
	}
	return f.Value.String()
}

func requireFile(path string) error {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return fmt.Errorf("no library at %s (run 'sellv init' first)", path)
	}
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("library path %s is a directory", path)
	}
	return nil
}
