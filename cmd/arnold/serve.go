package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/wilsonaustin10/arnoldaibackend/config"
	"github.com/wilsonaustin10/arnoldaibackend/events"
	"github.com/wilsonaustin10/arnoldaibackend/logger"
	metrics "github.com/wilsonaustin10/arnoldaibackend/metrics/prometheus"
	"github.com/wilsonaustin10/arnoldaibackend/providers/openai"
	"github.com/wilsonaustin10/arnoldaibackend/server"
	"github.com/wilsonaustin10/arnoldaibackend/session"
	"github.com/wilsonaustin10/arnoldaibackend/statestore"
	"github.com/wilsonaustin10/arnoldaibackend/tools"
	"github.com/wilsonaustin10/arnoldaibackend/version"
	"github.com/wilsonaustin10/arnoldaibackend/workout"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and realtime audio server",
	Long: `Serves the client audio websocket at /realtime/stream, the workouts REST
API and health endpoints. Each websocket client gets its own OpenAI Realtime
session.`,
	Args:   cobra.NoArgs,
	PreRun: func(cmd *cobra.Command, _ []string) { bindStorageFlags(cmd) },
	RunE:   runServe,
}

func init() {
	serveCmd.Flags().String("addr", "", "Listen address (default :8000)")
	serveCmd.Flags().String("storage-driver", "", "Workout storage: sqlite, postgres or memory")
	serveCmd.Flags().String("storage-dsn", "", "Workout storage DSN or SQLite path")
	serveCmd.Flags().String("redis-addr", "", "Redis address for session snapshots")
	serveCmd.Flags().String("metrics-addr", "", "Dedicated metrics listen address")

	_ = viper.BindPFlag("server.addr", serveCmd.Flags().Lookup("addr"))
	_ = viper.BindPFlag("redis.addr", serveCmd.Flags().Lookup("redis-addr"))
	_ = viper.BindPFlag("metrics.addr", serveCmd.Flags().Lookup("metrics-addr"))

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.RequireAPIKey(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Starting Arnold", version.Get().LogAttrs()...)

	shutdownTracing, err := setupTracing(ctx, cfg.Telemetry)
	if err != nil {
		return err
	}
	defer shutdownTracing(context.WithoutCancel(ctx))

	repo, err := openRepository(ctx, cfg.Storage, true)
	if err != nil {
		return err
	}
	defer func() { _ = repo.Close() }()

	snapshots, closeSnapshots, err := openSnapshotStore(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer closeSnapshots()

	bus := events.NewEventBus()
	defer bus.Close()
	var exporter *metrics.Exporter
	if cfg.Metrics.Enabled {
		bus.SubscribeAll(metrics.NewMetricsListener().Listener())
		exporter = metrics.NewExporter(cfg.Metrics.Addr)
	}

	svc := workout.NewService(repo)
	dispatcher := newDispatcher(cfg, svc, bus)
	srv := server.New(newSessionFactory(cfg, dispatcher, bus, snapshots), svc, serverOptions(cfg, snapshots, exporter)...)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.ListenAndServe(cfg.Server.Addr)
	})
	if exporter != nil && cfg.Metrics.Addr != "" {
		g.Go(exporter.Start)
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down")

		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
		defer cancel()

		err := srv.Shutdown(sctx)
		if exporter != nil {
			if merr := exporter.Shutdown(sctx); err == nil {
				err = merr
			}
		}
		return err
	})
	return g.Wait()
}

// newDispatcher bounds every tool call by session.tool_timeout, including
// stores that ignore their context.
func newDispatcher(cfg *config.Config, store tools.WorkoutStore, bus *events.EventBus) *tools.Dispatcher {
	return tools.NewDispatcher(store,
		tools.WithEventBus(bus),
		tools.WithTimeout(cfg.Session.ToolTimeout),
	)
}

// newSessionFactory builds one session manager per websocket client.
func newSessionFactory(cfg *config.Config, dispatcher session.Dispatcher, bus *events.EventBus,
	snapshots statestore.Store) server.SessionFactory {
	dialer := openai.NewDialer(openai.Config{
		APIKey:   cfg.OpenAI.APIKey,
		Model:    cfg.OpenAI.Model,
		Endpoint: cfg.OpenAI.Endpoint,
	})

	sessCfg := session.DefaultConfig()
	sessCfg.Voice = cfg.Session.Voice

	return func(cb session.Callbacks) server.Session {
		return session.NewManager(dialer, dispatcher,
			session.WithCallbacks(cb),
			session.WithConfig(sessCfg),
			session.WithPolicy(cfg.Policy()),
			session.WithHeartbeatInterval(cfg.Session.HeartbeatInterval),
			session.WithToolTimeout(cfg.Session.ToolTimeout),
			session.WithFlushThreshold(cfg.Session.FlushThreshold),
			session.WithEventBus(bus),
			session.WithSnapshotStore(snapshots),
		)
	}
}

func serverOptions(cfg *config.Config, snapshots statestore.Store, exporter *metrics.Exporter) []server.Option {
	opts := []server.Option{
		server.WithSnapshotStore(snapshots),
		server.WithAllowedOrigins(cfg.Server.AllowedOrigins...),
		server.WithInboundRate(cfg.Server.InboundFramesPerSecond, cfg.Server.InboundFrameBurst),
		server.WithReadHeaderTimeout(cfg.Server.ReadHeaderTimeout),
	}
	// Without a dedicated listener the metrics share the main server.
	if exporter != nil && cfg.Metrics.Addr == "" {
		opts = append(opts, server.WithMetricsHandler(exporter.Handler()))
	}
	return opts
}
