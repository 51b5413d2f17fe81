// Package app wires the tracker's components from config.json5, it is shared
// by the server and the cli.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"cargotrack-backend/internal/cargoesflow"
	"cargotrack-backend/internal/carriers"
	"cargotrack-backend/internal/components/chrono"
	"cargotrack-backend/internal/components/telemetry"
	"cargotrack-backend/internal/normalize"
	"cargotrack-backend/internal/tracking"
	"cargotrack-backend/lib/configutil"
	"cargotrack-backend/lib/configutil/dbconfig"
	"cargotrack-backend/lib/lookupstore"
	"cargotrack-backend/lib/restyutil"
)

const (
	report_app_prune     = "app.prune"
	report_app_keepalive = "app.keepalive"
)

const (
	DefaultPort          = 8000
	DefaultKeepAlive     = "@every 20m"
	DefaultPruneSchedule = "@daily"
	DefaultRetention     = 30 * 24 * time.Hour
)

type HistoryConfig struct {
	dbconfig.Config
	// Retention is how long lookups are kept, pruned on PruneSchedule.
	Retention     configutil.Duration `json:"retention"`
	PruneSchedule string              `json:"prune_schedule"`
}

type Config struct {
	Port int `json:"port"`
	// KeepAlive is the cron spec on which every driver session is
	// refreshed, "off" disables it.
	KeepAlive   string             `json:"keep_alive"`
	Timezone    string             `json:"timezone"`
	Carriers    carriers.Config    `json:"carriers"`
	CargoesFlow cargoesflow.Config `json:"cargoes_flow"`
	OpenAI      normalize.Config   `json:"openai"`
	History     HistoryConfig      `json:"history"`
	Cache       struct {
		Size int                 `json:"size"`
		TTL  configutil.Duration `json:"ttl"`
	} `json:"cache"`
}

// LoadConfig reads .env and config.json5 (both optional) and applies the
// environment overrides.
func LoadConfig() (Config, error) {
	err := configutil.LoadDotEnv()
	if err != nil {
		return Config{}, err
	}
	cfg, err := configutil.ReadConfig[Config]("config.json5")
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, err
	}
	cfg.FromEnv()
	return cfg, nil
}

func (c *Config) FromEnv() {
	c.CargoesFlow.FromEnv()
	c.OpenAI.FromEnv()
	configutil.EnvOverride(&c.History.File, "HISTORY_DB_FILE")
	configutil.EnvOverride(&c.History.Url, "HISTORY_DB_URL")
	configutil.EnvOverride(&c.KeepAlive, "KEEP_ALIVE")
	configutil.EnvOverride(&c.Timezone, "TZ")
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.KeepAlive == "" {
		c.KeepAlive = DefaultKeepAlive
	}
	if c.History.PruneSchedule == "" {
		c.History.PruneSchedule = DefaultPruneSchedule
	}
}

func (c Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}

type Options struct {
	Tel telemetry.API
	// OutputDir receives every http exchange when set.
	OutputDir string
}

// App holds the wired components, Close releases them.
type App struct {
	Registry *carriers.Registry
	Tracker  *tracking.Tracker
	Store    *lookupstore.Store
	Time     chrono.TimeAPI

	cfg      Config
	tel      telemetry.API
	database *sql.DB
	cron     *chrono.StandardCron
}

func New(ctx context.Context, cfg Config, opts Options) (*App, error) {
	tel := opts.Tel
	if tel == nil {
		tel = telemetry.SlogAPI{}
	}
	location, err := cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("timezone: %w", err)
	}

	var output telemetry.MessageOutput
	if opts.OutputDir != "" {
		fsOutput, err := restyutil.NewFilesystemOutput(opts.OutputDir, "")
		if err != nil {
			return nil, err
		}
		output = fsOutput
	}

	registry, err := carriers.NewRegistryFromConfig(cfg.Carriers, tel, output)
	if err != nil {
		return nil, fmt.Errorf("carriers: %w", err)
	}

	a := &App{
		Registry: registry,
		Time:     chrono.NewStandardTime(location),
		cfg:      cfg,
		tel:      telemetry.NewScopedAPI("app", tel),
	}

	var history tracking.History
	if cfg.History.Enabled() {
		a.database, err = cfg.History.OpenDB()
		if err != nil {
			return nil, fmt.Errorf("history: %w", err)
		}
		store := lookupstore.NewStore(a.database)
		err = store.Migrate(ctx)
		if err != nil {
			a.database.Close()
			return nil, fmt.Errorf("history: %w", err)
		}
		a.Store = &store
		history = store
	}

	a.Tracker = tracking.NewTracker(tracking.Options{
		API:        cargoesflow.NewClient(cfg.CargoesFlow, tel, output),
		Drivers:    registry,
		Normalizer: normalize.NewClient(cfg.OpenAI, a.Time, tel),
		History:    history,
		Tel:        tel,
		Time:       a.Time,
		CacheSize:  cfg.Cache.Size,
		CacheTTL:   cfg.Cache.TTL.Std(),
	})
	return a, nil
}

// Schedule starts the keep-alive and pruning jobs.
func (a *App) Schedule(ctx context.Context) error {
	location, err := a.cfg.Location()
	if err != nil {
		return err
	}
	cron := chrono.NewStandardCron(a.tel, location)
	a.cron = &cron

	if a.cfg.KeepAlive != "off" {
		err = cron.Cron(a.cfg.KeepAlive, func() {
			err := a.Registry.RefreshAll(ctx)
			if err != nil {
				a.tel.ReportWarning(report_app_keepalive, err)
			}
		})
		if err != nil {
			return fmt.Errorf("keep_alive: %w", err)
		}
	}

	if a.Store != nil {
		err = cron.Cron(a.cfg.History.PruneSchedule, func() {
			a.Prune(ctx)
		})
		if err != nil {
			return fmt.Errorf("history.prune_schedule: %w", err)
		}
	}
	return nil
}

// Prune drops lookups older than the configured retention.
func (a *App) Prune(ctx context.Context) {
	if a.Store == nil {
		return
	}
	before := a.Time.Now().Add(-a.cfg.History.Retention.Or(DefaultRetention))
	count, err := a.Store.Prune(ctx, before)
	if err != nil {
		a.tel.ReportWarning(report_app_prune, err)
		return
	}
	a.tel.ReportCount(report_app_prune, count)
}

func (a *App) Close() error {
	if a.cron != nil {
		a.cron.Stop()
	}
	errs := []error{a.Registry.ShutdownAll()}
	if a.database != nil {
		errs = append(errs, a.database.Close())
	}
	return errors.Join(errs...)
}
