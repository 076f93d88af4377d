// Package app wires the monitoring engine together and owns its lifecycle.
package app

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/vietrtk/corsmon/internal/aggregator"
	"github.com/vietrtk/corsmon/internal/controllers/restserver"
	"github.com/vietrtk/corsmon/internal/database"
	"github.com/vietrtk/corsmon/internal/log"
	"github.com/vietrtk/corsmon/internal/metrics"
	"github.com/vietrtk/corsmon/internal/notify"
	"github.com/vietrtk/corsmon/internal/retention"
	"github.com/vietrtk/corsmon/internal/sampler"
	"github.com/vietrtk/corsmon/internal/scheduler"
	"github.com/vietrtk/corsmon/internal/storage"
	"github.com/vietrtk/corsmon/internal/tracker"
	"github.com/vietrtk/corsmon/internal/types"
	"github.com/vietrtk/corsmon/pkg/config"
	"github.com/vietrtk/corsmon/pkg/rtkapi"
)

// App represents the main application
type App struct {
	cfg    *config.Config
	logger *zap.SugaredLogger
}

// New creates a new application instance
func New(cfg *config.Config, logger *zap.SugaredLogger) *App {
	return &App{
		cfg:    cfg,
		logger: logger,
	}
}

// Run starts the application and blocks until shutdown
func (a *App) Run(ctx context.Context) error {
	var wg sync.WaitGroup

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	metrics.Init()

	store, err := database.Open(a.cfg.Database.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := a.seedWhitelist(store); err != nil {
		return err
	}

	mirror, err := storage.NewManager(ctx, &wg, a.cfg)
	if err != nil {
		return err
	}

	client := rtkapi.NewClient(a.cfg.API)
	smp := sampler.New(client, store, mirror)
	trk := tracker.New(store, a.cfg.Tracker.DebounceCycles, a.cfg.Tracker.StartupGrace.D())
	agg := aggregator.New(store)
	ret := retention.New(store, a.cfg.Retention.Horizon.D())
	notifier := notify.New(a.cfg.Notify)

	if err := trk.Rehydrate(); err != nil {
		return err
	}

	sched := scheduler.New(
		scheduler.Task{
			Name:     "sampler",
			Interval: a.cfg.Schedule.PollInterval.D(),
			Run: func(ctx context.Context) error {
				_, err := smp.PollAndStore(ctx)
				return err
			},
		},
		scheduler.Task{
			Name:     "status-report",
			Interval: a.cfg.Schedule.StatusReportInterval.D(),
			Run: func(ctx context.Context) error {
				return a.runStatusReport(ctx, store, trk, notifier, false)
			},
		},
		scheduler.Task{
			Name:     "status-summary",
			Interval: a.cfg.Schedule.StatusSummaryInterval.D(),
			Run: func(ctx context.Context) error {
				return a.runStatusReport(ctx, store, trk, notifier, true)
			},
		},
		scheduler.Task{
			Name:     "quality-report",
			Interval: a.cfg.Schedule.QualityReportInterval.D(),
			Run: func(ctx context.Context) error {
				return a.runQualityReport(ctx, agg, notifier)
			},
		},
		scheduler.Task{
			Name:     "retention",
			Interval: a.cfg.Schedule.RetentionInterval.D(),
			Run: func(ctx context.Context) error {
				_, err := ret.Purge()
				return err
			},
		},
	)
	sched.Start(ctx, &wg)

	rest := restserver.New(a.cfg, store, agg)
	rest.Start(ctx, &wg)

	log.Info("corsmon started successfully")

	// Set up signal handling
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	// Wait for shutdown signal
	select {
	case <-sigs:
		log.Info("shutdown signal received, initiating graceful shutdown...")
	case <-ctx.Done():
		log.Info("context cancelled, shutting down...")
	}

	// Cancel context to signal all workers to stop; in-flight batches finish
	// before their loops observe cancellation.
	cancel()

	log.Info("waiting for all workers to terminate...")
	wg.Wait()
	log.Info("shutdown complete")

	return nil
}

// seedWhitelist makes sure every configured whitelist station exists and is
// flagged, without disturbing flags set through the management API.
func (a *App) seedWhitelist(store *database.Client) error {
	if len(a.cfg.Whitelist) == 0 {
		return nil
	}
	stations := make([]types.Station, 0, len(a.cfg.Whitelist))
	for _, code := range a.cfg.Whitelist {
		stations = append(stations, types.Station{
			ID:             code,
			ProvincePrefix: types.ProvincePrefix(code),
			Whitelisted:    true,
		})
	}
	if err := store.UpsertStations(stations); err != nil {
		return err
	}
	for _, code := range a.cfg.Whitelist {
		if err := store.SetWhitelisted(code, true); err != nil {
			return err
		}
	}
	log.Infof("whitelist seeded with %d stations", len(a.cfg.Whitelist))
	return nil
}

// runStatusReport detects transitions and pushes an alert when something in
// the whitelisted fleet actually changed. A forced run is a scheduled
// overview, not an alert: it goes out even with no transitions and bypasses
// the startup grace. Notification failures never fail the task.
func (a *App) runStatusReport(ctx context.Context, store *database.Client, trk *tracker.Tracker, notifier *notify.Notifier, forced bool) error {
	events, err := trk.Run(ctx)
	if err != nil {
		return err
	}

	stations, err := store.Stations()
	if err != nil {
		return err
	}
	whitelisted := make(map[string]bool, len(stations))
	names := make(map[string]string, len(stations))
	for _, st := range stations {
		whitelisted[st.ID] = st.Whitelisted
		names[st.ID] = st.Name
	}

	alertable := events[:0:0]
	transitioned := make(map[string]bool, len(events))
	for _, ev := range events {
		if whitelisted[ev.StationID] {
			alertable = append(alertable, ev)
			transitioned[ev.StationID] = true
		}
	}

	if !forced {
		if len(alertable) == 0 {
			log.Debug("no significant status changes, report not sent")
			return nil
		}
		if trk.AlertingSuppressed() {
			log.Infof("suppressing %d transition alerts during startup grace", len(alertable))
			return nil
		}
	}

	// Stations that were already down before this cycle and still are.
	stillDown := make([]types.DownStation, 0)
	for _, d := range trk.Down() {
		if whitelisted[d.StationID] && !transitioned[d.StationID] {
			stillDown = append(stillDown, d)
		}
	}

	latest, err := store.LatestSamples()
	if err != nil {
		return err
	}
	var total, online, unknown, offline int
	for id, s := range latest {
		if !whitelisted[id] {
			continue
		}
		total++
		switch s.Status {
		case types.StatusOnline:
			online++
		case types.StatusOffline:
			offline++
		default:
			unknown++
		}
	}

	now := time.Now()
	message := notify.FormatTransitions(now, alertable, names) +
		notify.FormatStillDown(now, stillDown, names) +
		notify.FormatFleetSummary(total, online, unknown, offline)
	notifier.Send(ctx, message)
	return nil
}

// runQualityReport computes the fleet fixed-rate rollup for the last report
// interval and pushes it. An empty fleet is not an error, just nothing to
// report yet.
func (a *App) runQualityReport(ctx context.Context, agg *aggregator.Aggregator, notifier *notify.Notifier) error {
	end := time.Now().UTC()
	start := end.Add(-a.cfg.Schedule.QualityReportInterval.D())

	report, err := agg.ComputeReport(types.ScopeFleet, "", start, end)
	if errors.Is(err, types.ErrNoData) {
		log.Info("no whitelisted stations yet, skipping quality report")
		return nil
	}
	if err != nil {
		return err
	}

	notifier.Send(ctx, notify.FormatQualityReport(report))
	return nil
}
