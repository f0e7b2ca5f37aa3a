package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	natsgo "github.com/nats-io/nats.go"

	"github.com/codewandler/eventum-go/core/es"
	"github.com/codewandler/eventum-go/core/materializer"
)

type EventPublisherConfig struct {
	Connect Connector    // Connect is used to create the underlying NATS connection. If nil, ConnectDefault() is used.
	Log     *slog.Logger // Log for diagnostics (optional)
	// Prefix of the subjects events are published to, "<Prefix>.<aggregateId>".
	Prefix string
}

// EventPublisher decorates a journal connector and publishes every event it
// persisted. Publishing happens after the save succeeded and is best effort:
// a failed publish is logged and does not fail the save.
type EventPublisher struct {
	es.JournalConnector
	nc      *natsgo.Conn
	closeNc closeFunc
	log     *slog.Logger
	prefix  string
}

func NewEventPublisher(next es.JournalConnector, cfg EventPublisherConfig) (*EventPublisher, error) {
	if next == nil {
		return nil, errors.New("connector is required")
	}
	if cfg.Prefix == "" {
		return nil, errors.New("prefix is required")
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	nc, closeNc, err := connectOrDefault(cfg.Connect)()
	if err != nil {
		return nil, err
	}
	return &EventPublisher{
		JournalConnector: next,
		nc:               nc,
		closeNc:          closeNc,
		log:              log.With(slog.String("publisher", cfg.Prefix)),
		prefix:           cfg.Prefix,
	}, nil
}

func (p *EventPublisher) SaveEvents(ctx context.Context, inputs []es.EventInput) ([]es.Event, error) {
	events, err := p.JournalConnector.SaveEvents(ctx, inputs)
	if err != nil {
		return nil, err
	}
	for _, e := range events {
		if err := p.publish(e); err != nil {
			p.log.Warn("failed to publish event", e.SlogAttr(), slog.Any("error", err))
		}
	}
	return events, nil
}

func (p *EventPublisher) publish(e es.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	msg := natsgo.NewMsg(aggregateSubject(p.prefix, e.AggregateID))
	msg.Header.Set(headerAggregateID, e.AggregateID)
	msg.Header.Set("Eventum-Event-Type", e.EventType)
	msg.Data = data
	return p.nc.PublishMsg(msg)
}

// Close closes the publisher connection and the decorated connector if it
// holds resources.
func (p *EventPublisher) Close() error {
	if err := p.nc.Flush(); err != nil {
		p.log.Warn("failed to flush", slog.Any("error", err))
	}
	p.closeNc()
	if c, ok := p.JournalConnector.(es.Closer); ok {
		return c.Close()
	}
	return nil
}

// Subscription is a running materializer subscription.
type Subscription struct {
	sub     *natsgo.Subscription
	closeNc closeFunc
	once    sync.Once
	err     error
}

func (s *Subscription) Unsubscribe() error {
	s.once.Do(func() {
		s.err = s.sub.Drain()
		s.closeNc()
	})
	return s.err
}

// Subscribe hands events published under prefix to m, in order per
// subscription. Failures are logged; core NATS does not redeliver, use
// [JetStreamConnector.Consume] for at least once delivery. The subscription
// ends with ctx.
func Subscribe(ctx context.Context, connect Connector, prefix string, m materializer.Materializer, log *slog.Logger) (*Subscription, error) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("subscription", prefix))

	nc, closeNc, err := connectOrDefault(connect)()
	if err != nil {
		return nil, err
	}

	sub, err := nc.Subscribe(prefix+".>", func(msg *natsgo.Msg) {
		var e es.Event
		if err := json.Unmarshal(msg.Data, &e); err != nil {
			log.Error("failed to decode event", slog.String("subject", msg.Subject), slog.Any("error", err))
			return
		}
		if err := m.Handle(ctx, e); err != nil {
			log.Error("materializer failed", e.SlogAttr(), slog.Any("error", err))
		}
	})
	if err != nil {
		closeNc()
		return nil, fmt.Errorf("subscribe %s: %w", prefix, err)
	}
	if err := nc.Flush(); err != nil {
		_ = sub.Unsubscribe()
		closeNc()
		return nil, err
	}

	s := &Subscription{sub: sub, closeNc: closeNc}
	context.AfterFunc(ctx, func() { _ = s.Unsubscribe() })
	return s, nil
}

var (
	_ es.JournalConnector = (*EventPublisher)(nil)
	_ es.Closer           = (*EventPublisher)(nil)
)
