package main

import (
	"context"
	"flag"
	"log/slog"
	"time"

	"cargotrack-backend/internal/app"
	"cargotrack-backend/internal/components/telemetry"
	"cargotrack-backend/internal/service"
	"cargotrack-backend/lib/serviceutil"
)

func main() {
	verbose := flag.Bool("v", false, "Enable verbose logging/instrumentation.")
	port := flag.Int("port", 0, "Port to listen on, overrides config.json5.")
	output := flag.String("output", "", "Write every outgoing http exchange to this directory.")
	flag.Parse()

	telemetry.InitSlog(*verbose)
	ctx := serviceutil.SignalContext()

	providers, err := telemetry.SetupFromEnv(ctx, "tracker-server")
	if err != nil {
		serviceutil.Fatal("setup telemetry", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		providers.Shutdown(shutdownCtx)
	}()

	tel := telemetry.SlogAPI{}
	telemetry.InstrumentPerfStats(ctx, tel)

	cfg, err := app.LoadConfig()
	if err != nil {
		serviceutil.Fatal("read config", err)
	}
	if *port != 0 {
		cfg.Port = *port
	}

	a, err := app.New(ctx, cfg, app.Options{Tel: tel, OutputDir: *output})
	if err != nil {
		serviceutil.Fatal("init app", err)
	}
	defer func() {
		err := a.Close()
		if err != nil {
			slog.Warn("shutdown", "err", err)
		}
	}()

	// a driver that fails to warm up retries on its first lookup
	err = a.Registry.WarmUpAll(ctx)
	if err != nil {
		slog.Warn("warm up drivers", "err", err)
	}
	err = a.Schedule(ctx)
	if err != nil {
		// Fatal exits without running deferred calls
		a.Close()
		serviceutil.Fatal("schedule jobs", err)
	}

	svc := service.NewService(a.Tracker, a.Registry, tel)
	err = serviceutil.StartHttpServer(ctx, cfg.Port, svc.Router())
	if err != nil {
		slog.Error("http server", "err", err)
	}
}
