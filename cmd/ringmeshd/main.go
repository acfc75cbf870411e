// Command ringmeshd is the server-mode discovery daemon: it joins (or
// starts) a ring, serves the coordinator and failure-detector
// protocols, and blocks until told to shut down.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"ringmesh/internal/buildinfo"
	"ringmesh/internal/logging"
	"ringmesh/internal/ring/addressbook"
	"ringmesh/internal/ring/addressbook/sqlitebook"
	"ringmesh/internal/ring/auth"
	ringconfig "ringmesh/internal/ring/config"
	"ringmesh/internal/ring/discovery"
	"ringmesh/internal/ring/events"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		logLevel   string
		configPath string
		asClient   bool
	)

	cmd := &cobra.Command{
		Use:     "ringmeshd",
		Short:   "TCP ring membership and discovery daemon",
		Version: buildinfo.Version,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return logging.Configure(logLevel)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configPath, asClient)
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&logLevel, "log-level", logging.LevelInfo, "log level: debug|info|warn|error")
	flags.StringVar(&configPath, "config", "", "path to ringmesh config.yaml (default: $XDG_CONFIG_HOME/ringmesh/config.yaml)")
	flags.BoolVar(&asClient, "client", false, "attach as a non-ring client instead of a server node")

	return cmd
}

func run(ctx context.Context, configPath string, asClient bool) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	tp := sdktrace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(context.Background()) }()
	otel.SetTracerProvider(tp)
	tracer := tp.Tracer("ringmesh/ringmeshd")

	if configPath == "" {
		p, err := ringconfig.Path()
		if err != nil {
			return fmt.Errorf("ringmeshd: %w", err)
		}
		configPath = p
	}
	settings, err := ringconfig.Load(configPath)
	if err != nil {
		return fmt.Errorf("ringmeshd: %w", err)
	}
	cfg := settings.Discovery

	selfID := uuid.New()
	log := slog.With("component", "ringmeshd", "node", selfID.String())

	opts := []discovery.Option{
		discovery.WithConfig(cfg),
		discovery.WithTracer(tracer),
		discovery.WithListener(events.ListenerFunc(func(e events.Event) {
			log.Info("discovery event", "kind", e.Kind, "node", e.Node, "version", e.Snapshot.Version)
		})),
	}

	switch {
	case len(settings.Peers) > 0:
		opts = append(opts, discovery.WithProvider(addressbook.NewStatic(settings.Peers...)))
	case settings.SharedFile != "":
		opts = append(opts, discovery.WithProvider(addressbook.NewSharedFile(settings.SharedFile)))
	case settings.SQLiteBook != "":
		store, err := sqlitebook.Open(settings.SQLiteBook)
		if err != nil {
			return fmt.Errorf("ringmeshd: %w", err)
		}
		defer store.Close()
		opts = append(opts, discovery.WithProvider(store))
	}

	if settings.AuthSecret != "" {
		opts = append(opts, discovery.WithAuthenticator(auth.NewSharedSecret([]byte(settings.AuthSecret))))
	}
	if asClient {
		opts = append(opts, discovery.AsClient())
	}

	node, err := discovery.New(selfID, opts...)
	if err != nil {
		return fmt.Errorf("ringmeshd: construct node: %w", err)
	}

	if cfg.ThreadPriority != 0 {
		log.Debug("threadPriority is advisory on this runtime", "threadPriority", cfg.ThreadPriority)
	}
	log.Info("starting")
	if err := node.Start(ctx); err != nil {
		return fmt.Errorf("ringmeshd: start: %w", err)
	}
	log.Info("joined", "topology", node.GetRemoteNodes().Version)

	<-ctx.Done()
	log.Info("shutting down")
	return node.Disconnect(context.Background())
}
