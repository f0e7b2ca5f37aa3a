// Package config is the process configuration of eventum: which journal
// backend to use and how to reach it. A Config is an explicit value handed to
// the provider; there is no global instance.
package config

import (
	"fmt"
	"time"

	"github.com/codewandler/eventum-go/core/es"
)

type Provider string

const (
	// ProviderFunctions calls remote journal functions over NATS
	// request/reply. It is the default.
	ProviderFunctions Provider = "FUNCTIONS"
	ProviderInMemory  Provider = "INMEMORY"
	ProviderNATS      Provider = "NATS"
	ProviderSQLite    Provider = "SQLITE"
)

var Providers = []Provider{ProviderFunctions, ProviderInMemory, ProviderNATS, ProviderSQLite}

type (
	Config struct {
		Provider    Provider          `json:"provider" yaml:"provider"`
		ServiceName string            `json:"serviceName" yaml:"serviceName"`
		Stage       string            `json:"stage" yaml:"stage"`
		Snapshot    es.SnapshotConfig `json:"snapshot" yaml:"snapshot"`
		Functions   FunctionsConfig   `json:"functions" yaml:"functions"`
		NATS        NATSConfig        `json:"nats" yaml:"nats"`
		SQLite      SQLiteConfig      `json:"sqlite" yaml:"sqlite"`
	}

	FunctionConfig struct {
		FunctionName string `json:"functionName" yaml:"functionName"`
	}

	FunctionsConfig struct {
		GetJournal   FunctionConfig `json:"getJournal" yaml:"getJournal"`
		SaveEvents   FunctionConfig `json:"saveEvents" yaml:"saveEvents"`
		SaveSnapshot FunctionConfig `json:"saveSnapshot" yaml:"saveSnapshot"`
		// Timeout bounds a single function call.
		Timeout time.Duration `json:"timeout" yaml:"timeout"`
	}

	NATSConfig struct {
		URL            string `json:"url" yaml:"url"`
		Stream         string `json:"stream" yaml:"stream"`
		SubjectPrefix  string `json:"subjectPrefix" yaml:"subjectPrefix"`
		SnapshotBucket string `json:"snapshotBucket" yaml:"snapshotBucket"`
		// PublishPrefix enables publishing of persisted events to
		// "<PublishPrefix>.<aggregateId>" for materializers. Empty disables it.
		PublishPrefix string `json:"publishPrefix" yaml:"publishPrefix"`
	}

	SQLiteConfig struct {
		Path string `json:"path" yaml:"path"`
	}
)

func Default() Config {
	return Config{
		Provider:    ProviderFunctions,
		ServiceName: "eventum",
		Stage:       "dev",
		Snapshot:    es.DefaultAggregateConfig().Snapshot,
		Functions: FunctionsConfig{
			GetJournal:   FunctionConfig{FunctionName: "api-getJournal"},
			SaveEvents:   FunctionConfig{FunctionName: "api-saveEvents"},
			SaveSnapshot: FunctionConfig{FunctionName: "api-saveSnapshot"},
			Timeout:      10 * time.Second,
		},
		NATS: NATSConfig{
			Stream:         "EVENTUM_EVENTS",
			SubjectPrefix:  "eventum.journal",
			SnapshotBucket: "eventum_snapshots",
		},
		SQLite: SQLiteConfig{Path: "eventum.db"},
	}
}

// FunctionName returns the deployed name of a journal function:
// "<serviceName>-<stage>-<functionName>".
func (c Config) FunctionName(fn FunctionConfig) string {
	return fmt.Sprintf("%s-%s-%s", c.ServiceName, c.Stage, fn.FunctionName)
}

func (c Config) Aggregate() es.AggregateConfig {
	return es.AggregateConfig{Snapshot: c.Snapshot}
}

// Validate checks the semantic constraints the schema cannot express.
func (c Config) Validate() error {
	known := false
	for _, p := range Providers {
		if c.Provider == p {
			known = true
			break
		}
	}
	if !known {
		return &es.ConfigurationError{Reason: fmt.Sprintf("journal connector not available for provider %q", c.Provider)}
	}
	if err := c.Aggregate().Validate(); err != nil {
		return err
	}

	switch c.Provider {
	case ProviderFunctions:
		if c.ServiceName == "" || c.Stage == "" {
			return &es.ConfigurationError{Reason: "serviceName and stage are required for provider " + string(c.Provider)}
		}
		for name, fn := range map[string]FunctionConfig{
			"getJournal":   c.Functions.GetJournal,
			"saveEvents":   c.Functions.SaveEvents,
			"saveSnapshot": c.Functions.SaveSnapshot,
		} {
			if fn.FunctionName == "" {
				return &es.ConfigurationError{Reason: "functions." + name + ".functionName is empty"}
			}
		}
	case ProviderNATS:
		if c.NATS.Stream == "" || c.NATS.SubjectPrefix == "" || c.NATS.SnapshotBucket == "" {
			return &es.ConfigurationError{Reason: "nats.stream, nats.subjectPrefix and nats.snapshotBucket are required for provider NATS"}
		}
	case ProviderSQLite:
		if c.SQLite.Path == "" {
			return &es.ConfigurationError{Reason: "sqlite.path is required for provider SQLITE"}
		}
	}
	return nil
}
