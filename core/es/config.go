package es

import "fmt"

const DefaultSnapshotDelta = 10

type (
	SnapshotConfig struct {
		// Delta is the number of events after the last snapshot that
		// triggers a new one.
		Delta int `json:"delta" yaml:"delta"`
	}

	AggregateConfig struct {
		Snapshot SnapshotConfig `json:"snapshot" yaml:"snapshot"`
	}
)

func DefaultAggregateConfig() AggregateConfig {
	return AggregateConfig{Snapshot: SnapshotConfig{Delta: DefaultSnapshotDelta}}
}

func (c AggregateConfig) Validate() error {
	if c.Snapshot.Delta < 1 {
		return &ConfigurationError{Reason: fmt.Sprintf("snapshot delta must be at least 1, got %d", c.Snapshot.Delta)}
	}
	return nil
}
