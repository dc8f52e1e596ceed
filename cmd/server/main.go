package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/frostdev-ops/pma-rules/internal/adapters/mqtt"
	"github.com/frostdev-ops/pma-rules/internal/api"
	"github.com/frostdev-ops/pma-rules/internal/api/handlers"
	"github.com/frostdev-ops/pma-rules/internal/config"
	"github.com/frostdev-ops/pma-rules/internal/core/automation"
	"github.com/frostdev-ops/pma-rules/internal/core/entities"
	"github.com/frostdev-ops/pma-rules/internal/core/metrics"
	"github.com/frostdev-ops/pma-rules/internal/core/rules"
	"github.com/frostdev-ops/pma-rules/internal/database"
	"github.com/frostdev-ops/pma-rules/internal/database/repositories"
	"github.com/frostdev-ops/pma-rules/internal/websocket"
	"github.com/frostdev-ops/pma-rules/pkg/logger"
	"github.com/frostdev-ops/pma-rules/pkg/version"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml (default: ./configs/config.yaml)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Get().String())
		return
	}

	// Load configuration
	var (
		cfg *config.Config
		err error
	)
	if *configPath != "" {
		cfg, err = config.LoadFile(*configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(logger.Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	log.WithFields(logrus.Fields{
		"version": version.Get().Version,
		"commit":  version.Get().GitCommit,
	}).Info("Starting PMA rules service")

	if err := run(cfg, log); err != nil {
		log.WithError(err).Fatal("Service stopped with error")
	}
	log.Info("Server exited")
}

func run(cfg *config.Config, log *logger.BatchLogger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var collector *metrics.Collector
	if cfg.Monitoring.Enabled {
		collector = metrics.NewCollector(cfg.Monitoring.Prefix)
	}

	// Database is optional only for the in-memory rule backend
	var (
		repos       *database.Repositories
		entityRepo  repositories.EntityStateRepository
		closeDB     = func() error { return nil }
		usesSQLite  = !strings.EqualFold(cfg.Persistence.Backend, "memory")
		hasDatabase = cfg.Database.Path != ""
	)
	if usesSQLite || hasDatabase {
		db, err := database.Initialize(cfg.Database)
		if err != nil {
			return fmt.Errorf("initialize database: %w", err)
		}
		closeDB = db.Close
		if err := database.Migrate(db, cfg.Database.MigrationsPath); err != nil {
			db.Close()
			return fmt.Errorf("run migrations: %w", err)
		}
		repos = database.NewRepositories(db)
		entityRepo = repos.EntityStates
	}
	defer closeDB()

	backend, closeBackend, err := database.OpenRulesBackend(cfg.Persistence, repos)
	if err != nil {
		return fmt.Errorf("open rules backend: %w", err)
	}
	defer closeBackend()

	// Rule store
	storeOpts := []rules.StoreOption{
		rules.WithWriteObserver(collector.StoreWrite),
	}
	if cfg.Rules.SeedFile != "" {
		seed, err := rules.LoadSeedFile(cfg.Rules.SeedFile, rules.UUIDGenerator{}, time.Now())
		if err != nil {
			return fmt.Errorf("load seed rules: %w", err)
		}
		storeOpts = append(storeOpts, rules.WithDefaults(func(rules.IDGenerator, time.Time) *rules.Snapshot {
			clone := seed.Clone()
			return &clone
		}))
		log.WithField("file", cfg.Rules.SeedFile).Info("Using seed rules")
	}
	store := rules.NewStore(backend, log.Logger, storeOpts...)
	if err := store.Load(ctx); err != nil {
		// defaults are in place; keep serving
		log.WithError(err).Warn("Rules could not be read from persistence")
	}

	// Entity states and presence
	presence := entities.PresenceConfig{
		Entities:   cfg.Presence.Entities,
		HomeStates: cfg.Presence.HomeStates,
	}
	switch cfg.Presence.Override {
	case "home":
		v := true
		presence.Override = &v
	case "away":
		v := false
		presence.Override = &v
	}
	entityService := entities.NewService(entityRepo, presence, log.Logger, collector)
	if err := entityService.Restore(ctx); err != nil {
		log.WithError(err).Warn("Failed to restore entity states")
	}

	// Create WebSocket hub
	wsHub := websocket.NewHub(log.Logger, collector)
	if cfg.WebSocket.PingInterval > 0 {
		wsHub.SetHeartbeatInterval(time.Duration(cfg.WebSocket.PingInterval) * time.Second)
	}

	// Device transport
	var (
		controller automation.DeviceController = &automation.LoggingController{Logger: log.Logger}
		transport  handlers.StatusReporter
		mqttClient *mqtt.Adapter
	)
	if cfg.MQTT.Enabled {
		mqttClient = mqtt.NewAdapter(mqtt.Config{
			Broker:          cfg.MQTT.Broker,
			ClientID:        cfg.MQTT.ClientID,
			Username:        cfg.MQTT.Username,
			Password:        cfg.MQTT.Password,
			TopicPrefix:     cfg.MQTT.TopicPrefix,
			QoS:             byte(cfg.MQTT.QoS),
			PublishTimeout:  config.Duration(cfg.MQTT.PublishTimeout, 5*time.Second),
			SubscribeState:  cfg.MQTT.SubscribeState,
			BreakerFailures: cfg.MQTT.BreakerFailures,
			BreakerReset:    config.Duration(cfg.MQTT.BreakerReset, 30*time.Second),
		}, entityService, log.Logger)
		if err := mqttClient.Connect(ctx); err != nil {
			// paho keeps retrying in the background
			log.WithError(err).Warn("MQTT broker not reachable yet")
		}
		defer mqttClient.Close()
		controller = mqttClient
		transport = mqttClient
	} else {
		log.Warn("MQTT disabled, device commands are only logged")
	}

	// Automation engine
	engineCfg := automation.EngineConfig{
		QueueSize:          cfg.Engine.QueueSize,
		MaxConcurrentRuns:  cfg.Engine.MaxConcurrentRuns,
		DispatchTimeout:    config.Duration(cfg.Engine.DispatchTimeout, 10*time.Second),
		SingleFlightScenes: cfg.Scenes.SingleFlight,
		Location:           cfg.Location(),
	}
	engine := automation.NewEngine(engineCfg, store, controller, entityService, entityService, log.Logger,
		automation.WithNotifier(wsHub),
		automation.WithMetrics(collector),
	)

	entityService.OnChange(func(ch entities.Change) {
		wsHub.BroadcastToAll(websocket.EntityStateChangedMessage(ch.EntityID, ch.OldValue, ch.NewValue, ch.Source))
		err := engine.Submit(ctx, automation.StateChange{
			EntityID: ch.EntityID,
			OldValue: ch.OldValue,
			NewValue: ch.NewValue,
			Time:     ch.Time,
		})
		if err != nil && !errors.Is(err, automation.ErrEngineStopped) {
			log.WithError(err).WithField("entity_id", ch.EntityID).Warn("Failed to submit state change")
		}
	})
	store.OnChange(func(ch rules.Change) {
		wsHub.BroadcastToAll(websocket.RulesUpdatedMessage(string(ch.Kind), ch.ID, ch.Version))
	})

	if err := engine.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}

	var scheduler *automation.Scheduler
	if cfg.Engine.SchedulerEnabled {
		var solar *automation.SolarCalculator
		if cfg.Solar.Enabled {
			solar = automation.NewSolarCalculator(cfg.Solar.Latitude, cfg.Solar.Longitude, cfg.Location())
		}
		scheduler = automation.NewScheduler(engine, store, solar, cfg.Location(), log.Logger)
		if err := scheduler.Start(ctx); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
	}

	// Initialize router
	router := api.NewRouter(cfg, handlers.Dependencies{
		Store:     store,
		Engine:    engine,
		Entities:  entityService,
		Hub:       wsHub,
		Metrics:   collector,
		Transport: transport,
	}, log)

	// Create HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		wsHub.Run(gctx)
		return nil
	})

	g.Go(func() error {
		log.Infof("Starting PMA rules service on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down server...")

		// Graceful shutdown
		timeout := config.Duration(cfg.Server.ShutdownTimeout, 15*time.Second)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("HTTP server forced to shutdown")
		}
		if scheduler != nil {
			scheduler.Stop()
		}
		if err := engine.Stop(shutdownCtx); err != nil {
			log.WithError(err).Warn("Automation engine did not stop cleanly")
		}
		log.FlushPending()
		return nil
	})

	return g.Wait()
}
