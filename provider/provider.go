// Package provider resolves the journal connector configured for the
// process.
package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/codewandler/eventum-go/adapters/nats"
	"github.com/codewandler/eventum-go/adapters/otel"
	"github.com/codewandler/eventum-go/adapters/sqlite"
	"github.com/codewandler/eventum-go/core/config"
	"github.com/codewandler/eventum-go/core/es"
)

type options struct {
	log     *slog.Logger
	tracing bool
	connect nats.Connector
}

type Option func(*options)

func WithLog(log *slog.Logger) Option { return func(o *options) { o.log = log } }

// WithTracing wraps the connector in an OpenTelemetry tracing decorator.
func WithTracing() Option { return func(o *options) { o.tracing = true } }

// WithNATSConnector overrides how NATS connections are made. By default
// the configured NATS URL is used.
func WithNATSConnector(c nats.Connector) Option { return func(o *options) { o.connect = c } }

// Connector is a resolved journal connector. Close releases everything the
// provider opened for it.
type Connector struct {
	es.JournalConnector
	Provider config.Provider
	closers  []es.Closer
}

func (c *Connector) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		errs = append(errs, c.closers[i].Close())
	}
	return errors.Join(errs...)
}

// NewJournalConnector builds the connector for cfg.Provider. An unknown
// provider or an invalid configuration fails with [es.ErrConfiguration]
// before anything is opened.
func NewJournalConnector(ctx context.Context, cfg config.Config, opts ...Option) (*Connector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := options{log: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.connect == nil {
		if cfg.NATS.URL != "" {
			o.connect = nats.ConnectURL(cfg.NATS.URL)
		} else {
			o.connect = nats.ConnectDefault()
		}
	}
	o.connect = nats.ReuseConnection(o.connect)

	log := o.log.With(slog.String("provider", string(cfg.Provider)))

	var (
		conn es.JournalConnector
		err  error
	)
	switch cfg.Provider {
	case config.ProviderFunctions:
		conn, err = nats.NewFunctionConnector(nats.FunctionConnectorConfig{
			Connect:   o.connect,
			Log:       log,
			Functions: nats.FunctionsFromConfig(cfg),
			Timeout:   cfg.Functions.Timeout,
		})
	case config.ProviderInMemory:
		conn = es.NewInMemoryConnector(es.WithLog(log))
	case config.ProviderNATS:
		conn, err = nats.NewJetStreamConnector(ctx, nats.JetStreamConnectorConfig{
			Connect:        o.connect,
			Log:            log,
			StreamName:     cfg.NATS.Stream,
			SubjectPrefix:  cfg.NATS.SubjectPrefix,
			SnapshotBucket: cfg.NATS.SnapshotBucket,
		})
	case config.ProviderSQLite:
		conn, err = sqlite.Open(ctx, sqlite.Config{Path: cfg.SQLite.Path, Log: log})
	default:
		// unreachable after Validate, kept so new providers fail loudly
		return nil, &es.ConfigurationError{Reason: fmt.Sprintf("journal connector not available for provider %q", cfg.Provider)}
	}
	if err != nil {
		return nil, fmt.Errorf("open %s connector: %w", cfg.Provider, err)
	}

	c := &Connector{Provider: cfg.Provider}
	if closer, ok := conn.(es.Closer); ok {
		c.closers = append(c.closers, closer)
	}

	if cfg.NATS.PublishPrefix != "" {
		pub, err := nats.NewEventPublisher(conn, nats.EventPublisherConfig{
			Connect: o.connect,
			Log:     log,
			Prefix:  cfg.NATS.PublishPrefix,
		})
		if err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("open event publisher: %w", err)
		}
		// the publisher closes the connector it decorates
		c.closers = []es.Closer{pub}
		conn = pub
	}

	if o.tracing {
		conn = otel.NewTracingConnector(conn, otel.WithConnectorName(string(cfg.Provider)))
	}

	c.JournalConnector = conn
	log.Debug("journal connector ready")
	return c, nil
}
