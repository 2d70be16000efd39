package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"

	"github.com/signalsfoundry/airline-simulator/core"
	"github.com/signalsfoundry/airline-simulator/internal/api"
	"github.com/signalsfoundry/airline-simulator/internal/config"
	"github.com/signalsfoundry/airline-simulator/internal/logging"
	"github.com/signalsfoundry/airline-simulator/internal/nbi"
	"github.com/signalsfoundry/airline-simulator/internal/observability"
	"github.com/signalsfoundry/airline-simulator/internal/publish"
	"github.com/signalsfoundry/airline-simulator/internal/sim/scheduler"
	"github.com/signalsfoundry/airline-simulator/internal/sim/state"
	"github.com/signalsfoundry/airline-simulator/internal/store"
	"github.com/signalsfoundry/airline-simulator/kb"
	"github.com/signalsfoundry/airline-simulator/model"
	"github.com/signalsfoundry/airline-simulator/timectrl"
)

// app is the fully wired simulator process.
type app struct {
	cfg config.Config
	log logging.Logger

	kb       *kb.KnowledgeBase
	store    store.Store
	writer   *store.AsyncWriter
	registry *state.Registry
	sched    *scheduler.Scheduler
	commands *scheduler.Commands
	hub      *publish.Hub
	apiStats *observability.APICollector
	simStats *observability.SimCollector
	http     http.Handler
	grpc     *grpc.Server
}

func openStore(ctx context.Context, cfg config.Config) (store.Store, error) {
	switch cfg.Storage.Driver {
	case "postgres":
		pg, err := store.OpenPostgres(ctx, cfg.Storage.DSN)
		if err != nil {
			return nil, err
		}
		return pg, nil
	default:
		mem := store.NewMemoryStore()
		for _, r := range cfg.Routes {
			mem.PutRoute(r)
		}
		for _, a := range cfg.Fleet {
			mem.PutAircraft(a)
		}
		mem.SetFinances(model.Finances{CashBalance: cfg.Economics.CashBalance})
		return mem, nil
	}
}

// loadReference fills the knowledge base from config and then from the store,
// so stored records win over config seeds.
func loadReference(ctx context.Context, cfg config.Config, k *kb.KnowledgeBase, st store.Store, log logging.Logger) error {
	if cfg.AirportsCSV != "" {
		f, err := os.Open(cfg.AirportsCSV)
		if err != nil {
			return fmt.Errorf("open airports csv: %w", err)
		}
		n, err := k.LoadAirportsCSV(f)
		f.Close()
		if err != nil {
			return fmt.Errorf("load airports csv: %w", err)
		}
		log.Info(ctx, "loaded airports", logging.String("path", cfg.AirportsCSV), logging.Int("count", n))
	}
	for _, ap := range cfg.Airports {
		if err := k.AddAirport(ap); err != nil && !errors.Is(err, kb.ErrAirportExists) {
			return fmt.Errorf("airport %q: %w", ap.Code, err)
		}
	}
	for _, t := range cfg.AircraftTypes {
		k.PutAircraftType(t)
	}
	for _, r := range cfg.Routes {
		k.PutRoute(r)
	}
	for _, a := range cfg.Fleet {
		k.PutAircraft(a)
	}

	routes, err := st.LoadRoutes(ctx)
	if err != nil {
		return fmt.Errorf("load routes: %w", err)
	}
	for _, r := range routes {
		k.PutRoute(r)
	}
	fleet, err := st.LoadAircraft(ctx)
	if err != nil {
		return fmt.Errorf("load aircraft: %w", err)
	}
	for _, a := range fleet {
		k.PutAircraft(a)
	}
	log.Info(ctx, "reference data ready",
		logging.Int("airports", len(k.ListAirports())),
		logging.Int("aircraft", len(k.ListAircraft())),
		logging.Int("routes", len(routes)+len(cfg.Routes)),
	)
	return nil
}

// newApp wires every component. reg receives all Prometheus metrics.
func newApp(ctx context.Context, cfg config.Config, log logging.Logger, reg *prometheus.Registry) (*app, error) {
	apiStats, err := observability.NewAPICollector(reg)
	if err != nil {
		return nil, fmt.Errorf("api metrics: %w", err)
	}
	simStats, err := observability.NewSimCollector(reg)
	if err != nil {
		return nil, fmt.Errorf("sim metrics: %w", err)
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	k := kb.NewKnowledgeBase()
	if err := loadReference(ctx, cfg, k, st, log); err != nil {
		_ = st.Close()
		return nil, err
	}

	tables := cfg.CostTables()
	for id, t := range k.AircraftTypes() {
		if _, ok := tables.AircraftTypes[id]; !ok {
			tables.AircraftTypes[id] = t
		}
	}

	finances, err := st.LoadFinances(ctx)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("load finances: %w", err)
	}
	if finances.CashBalance == 0 {
		finances.CashBalance = cfg.Economics.CashBalance
	}

	registry := state.NewRegistry(log, state.WithMetricsRecorder(apiStats))
	records, err := st.LoadAssignments(ctx)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("load assignments: %w", err)
	}
	if err := registry.Load(records); err != nil {
		log.Warn(ctx, "some stored assignments were skipped", logging.Err(err))
	}

	start := cfg.Simulation.StartTime
	if start.IsZero() {
		start = time.Now().UTC()
	}
	clock := timectrl.NewTimeController(start, cfg.Simulation.TickInterval)
	if err := clock.SetMultiplier(cfg.Simulation.TimeMultiplier); err != nil {
		_ = st.Close()
		return nil, err
	}
	simStats.SetTimeMultiplier(cfg.Simulation.TimeMultiplier)
	simStats.SetSimTime(start)
	clock.AddListener(simStats.SetSimTime)

	hub := publish.NewHub(log, publish.WithHubMetrics(simStats))
	writer := store.NewAsyncWriter(st, cfg.Storage.QueueSize, log, simStats)
	resolver := core.NewResolver(k, cfg.Simulation.PathCacheSize)

	sched := scheduler.New(clock, registry, resolver, k, tables,
		scheduler.WithPublisher(hub),
		scheduler.WithWriteBack(writer),
		scheduler.WithMetricsRecorder(simStats),
		scheduler.WithRestInterval(cfg.Simulation.RestInterval),
		scheduler.WithFinances(finances),
		scheduler.WithLogger(log.With(logging.String("component", "scheduler"))),
	)
	cmds := scheduler.NewCommands(sched, registry, k, st, log.With(logging.String("component", "commands")))

	for _, seed := range cfg.Assignments {
		if _, ok := registry.Get(seed.AircraftID); ok {
			continue
		}
		_, err := cmds.AssignRoute(ctx, scheduler.AssignRequest{
			AircraftID:       seed.AircraftID,
			RouteID:          seed.RouteID,
			FrequencyPerWeek: seed.FrequencyPerWeek,
			FareEconomy:      seed.FareEconomy,
			FareBusiness:     seed.FareBusiness,
		})
		if err != nil {
			log.Warn(ctx, "seed assignment rejected",
				logging.String("aircraft_id", seed.AircraftID),
				logging.String("reason", state.Reason(err)),
				logging.Err(err),
			)
		}
	}

	return &app{
		cfg:      cfg,
		log:      log,
		kb:       k,
		store:    st,
		writer:   writer,
		registry: registry,
		sched:    sched,
		commands: cmds,
		hub:      hub,
		apiStats: apiStats,
		simStats: simStats,
		http: api.New(cmds, log.With(logging.String("component", "http")),
			api.WithWebsocket(hub.ServeWS),
			api.WithMiddleware(apiStats.HTTPMiddleware),
		),
		grpc: nbi.NewServer(cmds, log.With(logging.String("component", "grpc")), apiStats),
	}, nil
}

// close flushes pending write-backs and releases the store.
func (a *app) close() error {
	a.writer.Close()
	return a.store.Close()
}
