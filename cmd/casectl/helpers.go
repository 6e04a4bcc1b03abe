package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/kirillkom/caseindex/internal/bootstrap"
	"github.com/kirillkom/caseindex/internal/config"
	"github.com/kirillkom/caseindex/internal/observability/logging"
)

// Swapped in tests.
var (
	loadConfig = config.Load
	newApp     = bootstrap.New
)

// withApp loads the configuration, wires the application and hands it to fn.
// Logs go to stderr so stdout stays machine readable.
func withApp(ctx context.Context, fn func(cfg config.Config, app *bootstrap.App) error) error {
	cfg := loadConfig()
	slog.SetDefault(logging.NewJSONLoggerTo(os.Stderr, "caseindex-cli", cfg.LogLevel))

	app, err := newApp(ctx, cfg)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	defer app.Close()
	return fn(cfg, app)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
