package main

import (
	"log/slog"
	"os"
	"time"

	"boxsync-backend/cmd/boxsync-cli/commands"
	"boxsync-backend/lib/serviceutil"
	"boxsync-backend/lib/telemetry"

	"github.com/lmittmann/tint"
)

func main() {
	slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      slog.LevelDebug,
		TimeFormat: time.Kitchen,
	})))

	ctx := serviceutil.SignalContext()
	t, err := telemetry.SetupFromEnv(ctx, "boxsync-cli")
	if err != nil {
		serviceutil.Fatal("failed to setup telemetry", err)
	}
	defer t.Shutdown(ctx)

	commands.ExecuteContext(ctx)
}
