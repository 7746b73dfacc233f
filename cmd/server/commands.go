package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/warp/achievement-engine/api"
	"github.com/warp/achievement-engine/config"
	"github.com/warp/achievement-engine/factory"
	"github.com/warp/achievement-engine/generic"
	"github.com/warp/achievement-engine/generic/store"
	"github.com/warp/achievement-engine/logger"
	"github.com/warp/achievement-engine/notify"
	"github.com/warp/achievement-engine/rewards"
	"github.com/warp/achievement-engine/store/postgres"
	"github.com/warp/achievement-engine/store/sqlite"
)

// =============================================================================
// APPLICATION CONTEXT
// =============================================================================

// App is what every command runs against.
type App struct {
	Cfg      config.Config
	Log      *logger.Logger
	Store    api.Backend
	Handler  *api.Handler
	Notifier *notify.Notifier // nil without an outbox dir
	Catalog  []rewards.Reward

	closeStore func() error
}

func newApp(configPath string) (*App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	log, err := logger.New(logger.Options{
		Mode:       cfg.Log.Mode,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	ctx := context.Background()
	backend, closeStore, err := openStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	log.Info("store opened", "driver", cfg.Store.Driver)

	catalog := rewards.DefaultCatalog()
	if cfg.Catalog.File != "" {
		if catalog, err = factory.LoadCatalogFile(cfg.Catalog.File); err != nil {
			closeStore()
			return nil, err
		}
		log.Info("catalog loaded", "file", cfg.Catalog.File, "rewards", len(catalog))
	}

	app := &App{Cfg: cfg, Log: log, Store: backend, Catalog: catalog, closeStore: closeStore}

	if cfg.Catalog.Seed {
		if _, err := factory.Seed(ctx, backend, catalog); err != nil {
			app.Close()
			return nil, fmt.Errorf("seeding catalog: %w", err)
		}
	}

	app.Handler = api.NewHandler(backend, log)
	app.Handler.LeaderboardLimit = cfg.Stats.LeaderboardLimit
	app.Handler.RecentLimit = cfg.Stats.RecentLimit
	if cfg.Notify.OutboxDir != "" {
		app.Notifier = notify.NewNotifier(backend, app.Handler.Catalog, notify.DirOutbox{Dir: cfg.Notify.OutboxDir}, cfg.Notify.From, log)
		app.Notifier.Hierarchy = backend
		app.Handler.Notifier = app.Notifier
	}
	return app, nil
}

func openStore(ctx context.Context, cfg config.StoreConfig) (api.Backend, func() error, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		return store.NewMemory(), func() error { return nil }, nil
	case config.DriverPostgres:
		s, err := postgres.New(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("opening postgres: %w", err)
		}
		return s, s.Close, nil
	default:
		s, err := sqlite.New(cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("opening sqlite: %w", err)
		}
		return s, s.Close, nil
	}
}

func (a *App) Close() {
	if err := a.closeStore(); err != nil {
		a.Log.Warn("closing store", "error", err)
	}
	a.Log.Sync()
}

// =============================================================================
// SERVE
// =============================================================================

type ServeCmd struct {
	Addr     string        `help:"Listen address, overrides http.addr."`
	Interval time.Duration `help:"Notification flush interval." default:"5m"`
}

func (c *ServeCmd) Run(app *App) error {
	addr := app.Cfg.HTTP.Addr
	if c.Addr != "" {
		addr = c.Addr
	}

	router := api.NewRouter(app.Handler, app.Cfg.HTTP.CORSOrigins)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	scheduler := api.NewNotificationScheduler(app.Notifier, app.Log)
	scheduler.Interval = c.Interval
	scheduler.Start()

	errc := make(chan error, 1)
	go func() {
		app.Log.Info("server starting", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errc:
		scheduler.Stop()
		return fmt.Errorf("server failed: %w", err)
	}

	app.Log.Info("shutting down server")
	scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	app.Log.Info("server stopped")
	return nil
}

// =============================================================================
// OPERATOR COMMANDS
// =============================================================================

type SeedCmd struct{}

func (c *SeedCmd) Run(app *App) error {
	saved, err := factory.Seed(context.Background(), app.Store, app.Catalog)
	if err != nil {
		return err
	}
	fmt.Printf("Seeded %d rewards\n", len(saved))
	return nil
}

type CatalogCmd struct {
	JSON bool `help:"Print JSON instead of a table."`
}

func (c *CatalogCmd) Run(app *App) error {
	catalog, err := app.Handler.Catalog.Rewards(context.Background())
	if err != nil {
		return err
	}
	out := make([]rewards.RewardSummary, len(catalog))
	for i, r := range catalog {
		out[i] = rewards.Summarize(r)
	}
	if c.JSON {
		return printJSON(out)
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tCATEGORY\tRARITY\tPOINTS\tEARNED")
	for _, r := range out {
		fmt.Fprintf(tw, "%s %s\t%s\t%s\t%d\t%d\n", r.Icon, r.Name, r.Category, r.Rarity, r.Points, r.TimesEarned)
	}
	return tw.Flush()
}

type LeaderboardCmd struct {
	Limit int  `help:"Number of users to show." default:"10"`
	JSON  bool `help:"Print JSON instead of a table."`
}

func (c *LeaderboardCmd) Run(app *App) error {
	entries, err := app.Handler.Stats.Leaderboard(context.Background(), c.Limit)
	if err != nil {
		return err
	}
	if c.JSON {
		return printJSON(entries)
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RANK\tUSER\tPOINTS\tACHIEVEMENTS\tLATEST")
	for _, e := range entries {
		fmt.Fprintf(tw, "%d\t%s\t%d\t%d\t%s\n", e.Rank, e.UserID, e.TotalPoints, e.Grants, e.LatestReward)
	}
	return tw.Flush()
}

type StatsCmd struct {
	User string `arg:"" help:"User ID."`
}

func (c *StatsCmd) Run(app *App) error {
	stats, err := app.Handler.Stats.UserStats(context.Background(), generic.UserID(c.User))
	if err != nil {
		return err
	}
	return printJSON(stats)
}

type NotifyCmd struct {
	User string `help:"Only flush this user."`
}

func (c *NotifyCmd) Run(app *App) error {
	if app.Notifier == nil {
		return errors.New("notify.outbox_dir is not configured")
	}
	ctx := context.Background()

	var (
		n   int
		err error
	)
	if c.User != "" {
		n, err = app.Notifier.Flush(ctx, generic.UserID(c.User))
	} else {
		n, err = app.Notifier.FlushAll(ctx)
	}
	if err != nil {
		return err
	}
	fmt.Printf("Notified %d achievements into %s\n", n, app.Cfg.Notify.OutboxDir)
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
