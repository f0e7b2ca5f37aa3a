package es

import (
	"context"
	"errors"
)

// MeteredConnector records connector latency and outcomes in [Metrics]
// under a fixed kind label. Servers that front a connector directly use it
// where no aggregate does the bookkeeping.
type MeteredConnector struct {
	JournalConnector
	metrics Metrics
	kind    string
}

func NewMeteredConnector(next JournalConnector, m Metrics, kind string) *MeteredConnector {
	return &MeteredConnector{JournalConnector: next, metrics: m, kind: kind}
}

func (c *MeteredConnector) GetJournal(ctx context.Context, aggregateID string) (*Journal, error) {
	defer c.metrics.JournalLoadDuration(c.kind).ObserveDuration()
	return c.JournalConnector.GetJournal(ctx, aggregateID)
}

func (c *MeteredConnector) SaveEvents(ctx context.Context, events []EventInput) ([]Event, error) {
	timer := c.metrics.EventsSaveDuration(c.kind)
	saved, err := c.JournalConnector.SaveEvents(ctx, events)
	timer.ObserveDuration()
	switch {
	case errors.Is(err, ErrConcurrencyConflict):
		c.metrics.ConcurrencyConflict(c.kind)
	case err == nil:
		c.metrics.EventsAppended(c.kind, len(saved))
	}
	return saved, err
}

func (c *MeteredConnector) SaveSnapshot(ctx context.Context, snapshot SnapshotInput) error {
	timer := c.metrics.SnapshotSaveDuration(c.kind)
	err := c.JournalConnector.SaveSnapshot(ctx, snapshot)
	timer.ObserveDuration()
	if err != nil {
		c.metrics.SnapshotFailed(c.kind)
		return err
	}
	c.metrics.SnapshotSaved(c.kind)
	return nil
}

func (c *MeteredConnector) Close() error {
	if closer, ok := c.JournalConnector.(Closer); ok {
		return closer.Close()
	}
	return nil
}

var _ JournalConnector = (*MeteredConnector)(nil)
