package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"

	"github.com/codewandler/eventum-go/core/es"
)

const EnvPrefix = "EVENTUM_"

//go:embed schema.json
var schemaJSON []byte

var compileSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	var doc any
	if err := json.Unmarshal(schemaJSON, &doc); err != nil {
		return nil, err
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("mem://eventum/config.json", doc); err != nil {
		return nil, err
	}
	return c.Compile("mem://eventum/config.json")
})

// LoadFile reads a YAML (or JSON) configuration file. See [Load].
func LoadFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, &es.ConfigurationError{Reason: "read " + path, Err: err}
	}
	return Load(data)
}

// Load validates data against the configuration schema, lays it over
// [Default] and applies EVENTUM_* environment overrides.
func Load(data []byte) (Config, error) {
	if err := ValidateDocument(data); err != nil {
		return Config{}, err
	}

	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, &es.ConfigurationError{Reason: "parse configuration", Err: err}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// ValidateDocument checks a raw YAML or JSON document against the
// configuration schema.
func ValidateDocument(data []byte) error {
	sch, err := compileSchema()
	if err != nil {
		return fmt.Errorf("compile configuration schema: %w", err)
	}

	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return &es.ConfigurationError{Reason: "parse configuration", Err: err}
	}
	if raw == nil {
		raw = map[string]any{}
	}
	// the validator expects JSON values
	b, err := json.Marshal(raw)
	if err != nil {
		return &es.ConfigurationError{Reason: "parse configuration", Err: err}
	}
	var doc any
	if err := json.Unmarshal(b, &doc); err != nil {
		return &es.ConfigurationError{Reason: "parse configuration", Err: err}
	}

	if err := sch.Validate(doc); err != nil {
		return &es.ConfigurationError{Reason: "eventum configuration is not valid", Err: err}
	}
	return nil
}

// ApplyEnv overrides fields from EVENTUM_* variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok && v != "" {
			*dst = v
		}
	}

	if v, ok := lookup(EnvPrefix + "PROVIDER"); ok && v != "" {
		c.Provider = Provider(v)
	}
	str("SERVICE_NAME", &c.ServiceName)
	str("STAGE", &c.Stage)
	str("NATS_URL", &c.NATS.URL)
	str("NATS_PUBLISH_PREFIX", &c.NATS.PublishPrefix)
	str("SQLITE_PATH", &c.SQLite.Path)

	if v, ok := lookup(EnvPrefix + "SNAPSHOT_DELTA"); ok && v != "" {
		delta, err := strconv.Atoi(v)
		if err != nil {
			return &es.ConfigurationError{Reason: EnvPrefix + "SNAPSHOT_DELTA is not a number", Err: err}
		}
		c.Snapshot.Delta = delta
	}
	return nil
}
