package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/codewandler/eventum-go/adapters/nats"
	"github.com/codewandler/eventum-go/adapters/otel"
	"github.com/codewandler/eventum-go/adapters/prometheus"
	"github.com/codewandler/eventum-go/core/config"
	"github.com/codewandler/eventum-go/core/es"
	"github.com/codewandler/eventum-go/provider"
)

type serveOptions struct {
	MetricsAddr string
	QueueGroup  string
	TraceStdout bool
}

func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the journal functions on NATS",
		Long: `Serve getJournal, saveEvents and saveSnapshot on NATS for the configured
provider, so that processes using the FUNCTIONS provider can reach it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rootOpts.loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg, opts)
		},
	}
	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")
	cmd.Flags().StringVar(&opts.QueueGroup, "queue-group", "eventum", "NATS queue group shared by all servers")
	cmd.Flags().BoolVar(&opts.TraceStdout, "trace-stdout", false, "write trace spans to stdout")
	return cmd
}

func runServe(ctx context.Context, cfg config.Config, opts *serveOptions) error {
	if cfg.Provider == config.ProviderFunctions {
		return &es.ConfigurationError{Reason: "serve needs a storage provider, not " + string(cfg.Provider)}
	}
	log := slog.Default().With(slog.String("cmd", "serve"))

	var providerOpts []provider.Option
	if opts.TraceStdout {
		shutdown, err := otel.Init(ctx, otel.Config{ServiceName: cfg.ServiceName, UseStdout: true})
		if err != nil {
			return err
		}
		defer func() { _ = shutdown(context.Background()) }()
		providerOpts = append(providerOpts, provider.WithTracing())
	}

	connect := nats.ConnectDefault()
	if cfg.NATS.URL != "" {
		connect = nats.ConnectURL(cfg.NATS.URL)
	}
	connect = nats.ReuseConnection(connect)
	providerOpts = append(providerOpts, provider.WithLog(log), provider.WithNATSConnector(connect))

	backend, err := provider.NewJournalConnector(ctx, cfg, providerOpts...)
	if err != nil {
		return err
	}
	defer backend.Close()

	var conn es.JournalConnector = backend
	if opts.MetricsAddr != "" {
		reg := prom.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		conn = es.NewMeteredConnector(backend, prometheus.NewESMetrics(reg), "functions")

		srv := &http.Server{
			Addr:              opts.MetricsAddr,
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			log.Info("serving metrics", slog.String("addr", opts.MetricsAddr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server failed", slog.Any("error", err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	server, err := nats.NewFunctionServer(nats.FunctionServerConfig{
		Connect:    connect,
		Log:        log,
		Functions:  nats.FunctionsFromConfig(cfg),
		Backend:    conn,
		QueueGroup: opts.QueueGroup,
	})
	if err != nil {
		return fmt.Errorf("create function server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return err
	}
	defer server.Close()

	<-ctx.Done()
	log.Info("shutting down")
	return nil
}
