package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/codewandler/eventum-go/core/es"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	require.Equal(t, ProviderFunctions, cfg.Provider)
	require.Equal(t, "eventum-dev-api-getJournal", cfg.FunctionName(cfg.Functions.GetJournal))
	require.Equal(t, "eventum-dev-api-saveEvents", cfg.FunctionName(cfg.Functions.SaveEvents))
	require.Equal(t, "eventum-dev-api-saveSnapshot", cfg.FunctionName(cfg.Functions.SaveSnapshot))
	require.Equal(t, es.DefaultSnapshotDelta, cfg.Snapshot.Delta)
}

func TestLoadFile(t *testing.T) {
	cfg, err := LoadFile("testdata/eventum.yml")
	require.NoError(t, err)

	require.Equal(t, ProviderFunctions, cfg.Provider)
	require.Equal(t, "orders-prod-api-saveEvents", cfg.FunctionName(cfg.Functions.SaveEvents))
	require.Equal(t, 5, cfg.Snapshot.Delta)
	require.Equal(t, 3*time.Second, cfg.Functions.Timeout)
	require.Equal(t, "nats://localhost:4222", cfg.NATS.URL)
	// untouched sections keep their defaults
	require.Equal(t, "EVENTUM_EVENTS", cfg.NATS.Stream)
	require.Equal(t, "eventum.db", cfg.SQLite.Path)
}

func TestLoadFile_SQLite(t *testing.T) {
	cfg, err := LoadFile("testdata/sqlite.yml")
	require.NoError(t, err)
	require.Equal(t, ProviderSQLite, cfg.Provider)
	require.Equal(t, "/var/lib/eventum/journal.db", cfg.SQLite.Path)
	require.Equal(t, "eventum", cfg.ServiceName)
}

func TestLoadFile_Missing(t *testing.T) {
	_, err := LoadFile("testdata/nope.yml")
	require.ErrorIs(t, err, es.ErrConfiguration)
}

func TestLoad_SchemaViolations(t *testing.T) {
	for name, doc := range map[string]string{
		"unknown provider":   "provider: AWS\n",
		"missing provider":   "stage: dev\n",
		"unknown field":      "provider: INMEMORY\nstorage: x\n",
		"zero delta":         "provider: INMEMORY\nsnapshot:\n  delta: 0\n",
		"function w/o name":  "provider: FUNCTIONS\nfunctions:\n  getJournal: {}\n",
		"bad timeout":        "provider: FUNCTIONS\nfunctions:\n  timeout: soon\n",
		"bad stream name":    "provider: NATS\nnats:\n  stream: a.b\n",
		"not a mapping":      "- provider\n",
		"empty service name": "provider: FUNCTIONS\nserviceName: ''\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Load([]byte(doc))
			require.Error(t, err)
			require.ErrorIs(t, err, es.ErrConfiguration)
		})
	}
}

func TestLoadFile_InvalidProvider(t *testing.T) {
	_, err := LoadFile("testdata/invalid_provider.yml")
	require.ErrorIs(t, err, es.ErrConfiguration)
	require.Contains(t, err.Error(), "not valid")
}

func TestLoad_Env(t *testing.T) {
	t.Setenv("EVENTUM_PROVIDER", "INMEMORY")
	t.Setenv("EVENTUM_STAGE", "test")
	t.Setenv("EVENTUM_SNAPSHOT_DELTA", "3")

	cfg, err := Load([]byte("provider: FUNCTIONS\nstage: prod\n"))
	require.NoError(t, err)
	require.Equal(t, ProviderInMemory, cfg.Provider)
	require.Equal(t, "test", cfg.Stage)
	require.Equal(t, 3, cfg.Snapshot.Delta)
}

func TestApplyEnv_BadDelta(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(func(key string) (string, bool) {
		if key == "EVENTUM_SNAPSHOT_DELTA" {
			return "ten", true
		}
		return "", false
	})
	require.ErrorIs(t, err, es.ErrConfiguration)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		ok     bool
	}{
		{"default", func(*Config) {}, true},
		{"unknown provider", func(c *Config) { c.Provider = "AWS" }, false},
		{"zero delta", func(c *Config) { c.Snapshot.Delta = 0 }, false},
		{"functions without stage", func(c *Config) { c.Stage = "" }, false},
		{"inmemory without stage", func(c *Config) {
			c.Provider = ProviderInMemory
			c.Stage = ""
		}, true},
		{"functions without name", func(c *Config) { c.Functions.SaveSnapshot.FunctionName = "" }, false},
		{"nats without bucket", func(c *Config) {
			c.Provider = ProviderNATS
			c.NATS.SnapshotBucket = ""
		}, false},
		{"sqlite without path", func(c *Config) {
			c.Provider = ProviderSQLite
			c.SQLite.Path = ""
		}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(&cfg)
			err := cfg.Validate()
			if tt.ok {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, es.ErrConfiguration)
		})
	}
}
