// Package config loads simulator settings from YAML with environment
// overrides.
//
// Example:
//
//	field:
//	  update_limit: 500
//	  event_chance_range: 200
//	  agent_chance_range: 2
//	  request_interval: 25
//	  request_node_count: 4
//	topology:
//	  grid: {width: 10, height: 10, spacing: 1, signal_strength: 1, agent_lifespan: 12, request_lifespan: 12}
//	run:
//	  rate: 20
//	sinks:
//	  metrics_addr: ":9090"
//	  journal: ${HOME}/rumor.journal
//	tracing:
//	  exporter: otlp
//	  endpoint: ${OTEL_COLLECTOR}
//	  sample_ratio: 0.1
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/signalsfoundry/rumor-routing-sim/core"
	"github.com/signalsfoundry/rumor-routing-sim/internal/logging"
	"github.com/signalsfoundry/rumor-routing-sim/internal/observability"
	"github.com/signalsfoundry/rumor-routing-sim/topology"
	"gopkg.in/yaml.v3"
)

// Config is the full simulator configuration.
type Config struct {
	Field    FieldConfig    `yaml:"field"`
	Topology TopologyConfig `yaml:"topology"`
	Run      RunConfig      `yaml:"run"`
	Sinks    SinkConfig     `yaml:"sinks"`
	Log      LogConfig      `yaml:"log"`

	Tracing observability.TracingConfig `yaml:"tracing"`
}

// FieldConfig mirrors core.FieldConfig. Chance ranges of -1 disable
// generation.
type FieldConfig struct {
	UpdateLimit      int `yaml:"update_limit"`
	EventChanceRange int `yaml:"event_chance_range"`
	AgentChanceRange int `yaml:"agent_chance_range"`
	RequestInterval  int `yaml:"request_interval"`
	RequestNodeCount int `yaml:"request_node_count"`
}

// TopologyConfig picks the node network. File wins over Grid when set.
type TopologyConfig struct {
	File string     `yaml:"file"`
	Grid GridConfig `yaml:"grid"`
}

type GridConfig struct {
	Width           int `yaml:"width"`
	Height          int `yaml:"height"`
	Spacing         int `yaml:"spacing"`
	SignalStrength  int `yaml:"signal_strength"`
	AgentLifespan   int `yaml:"agent_lifespan"`
	RequestLifespan int `yaml:"request_lifespan"`
}

type RunConfig struct {
	// Rate is ticks per second; 0 runs unthrottled.
	Rate float64 `yaml:"rate"`
	// Seed fixes the random source; 0 picks a time-based seed.
	Seed int64 `yaml:"seed"`
	// ReaderMode is one of all, agents, requests.
	ReaderMode string `yaml:"reader_mode"`
}

// SinkConfig lists optional outputs. Empty values disable a sink.
type SinkConfig struct {
	MetricsAddr string `yaml:"metrics_addr"`
	GRPCAddr    string `yaml:"grpc_addr"`
	Journal     string `yaml:"journal"`
	Database    string `yaml:"database"`
	BatchSize   int    `yaml:"batch_size"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a small, quiet configuration that runs out of the box.
func Default() Config {
	return Config{
		Field: FieldConfig{
			UpdateLimit:      200,
			EventChanceRange: 100,
			AgentChanceRange: 2,
			RequestInterval:  20,
			RequestNodeCount: 2,
		},
		Topology: TopologyConfig{
			Grid: GridConfig{Width: 10, Height: 10, Spacing: 1, SignalStrength: 1, AgentLifespan: 10, RequestLifespan: 10},
		},
		Run:   RunConfig{ReaderMode: "all"},
		Sinks: SinkConfig{BatchSize: 64},
		Log:   LogConfig{Level: "info", Format: "text"},

		Tracing: observability.TracingConfig{Exporter: observability.ExporterNone, SampleRatio: 1},
	}
}

// Load reads path over the defaults, expands ${VAR} references in paths and
// addresses, then applies RUMOR_* environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}
	cfg.expand()
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) expand() {
	c.Topology.File = os.ExpandEnv(c.Topology.File)
	c.Sinks.MetricsAddr = os.ExpandEnv(c.Sinks.MetricsAddr)
	c.Sinks.GRPCAddr = os.ExpandEnv(c.Sinks.GRPCAddr)
	c.Sinks.Journal = os.ExpandEnv(c.Sinks.Journal)
	c.Sinks.Database = os.ExpandEnv(c.Sinks.Database)
	c.Tracing.Endpoint = os.ExpandEnv(c.Tracing.Endpoint)
}

// ApplyEnv overrides fields from RUMOR_* variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	ints := map[string]*int{
		"RUMOR_UPDATE_LIMIT":       &c.Field.UpdateLimit,
		"RUMOR_EVENT_CHANCE_RANGE": &c.Field.EventChanceRange,
		"RUMOR_AGENT_CHANCE_RANGE": &c.Field.AgentChanceRange,
		"RUMOR_REQUEST_INTERVAL":   &c.Field.RequestInterval,
		"RUMOR_REQUEST_NODES":      &c.Field.RequestNodeCount,
	}
	for key, dst := range ints {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%w: %s=%q: %w", core.ErrInvalidConfig, key, v, err)
			}
			*dst = n
		}
	}
	strs := map[string]*string{
		"RUMOR_TOPOLOGY_FILE": &c.Topology.File,
		"RUMOR_METRICS_ADDR":  &c.Sinks.MetricsAddr,
		"RUMOR_GRPC_ADDR":     &c.Sinks.GRPCAddr,
		"RUMOR_JOURNAL":       &c.Sinks.Journal,
		"RUMOR_DB":            &c.Sinks.Database,
		"RUMOR_LOG_LEVEL":     &c.Log.Level,
		"RUMOR_LOG_FORMAT":    &c.Log.Format,
		"RUMOR_READER_MODE":   &c.Run.ReaderMode,

		"RUMOR_TRACING_EXPORTER": &c.Tracing.Exporter,
		"RUMOR_OTLP_ENDPOINT":    &c.Tracing.Endpoint,
	}
	for key, dst := range strs {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	if v, ok := lookup("RUMOR_RATE"); ok && v != "" {
		rate, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%w: RUMOR_RATE=%q: %w", core.ErrInvalidConfig, v, err)
		}
		c.Run.Rate = rate
	}
	if v, ok := lookup("RUMOR_SEED"); ok && v != "" {
		seed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: RUMOR_SEED=%q: %w", core.ErrInvalidConfig, v, err)
		}
		c.Run.Seed = seed
	}
	if v, ok := lookup("RUMOR_TRACING_SAMPLE_RATIO"); ok && v != "" {
		ratio, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%w: RUMOR_TRACING_SAMPLE_RATIO=%q: %w", core.ErrInvalidConfig, v, err)
		}
		c.Tracing.SampleRatio = ratio
	}
	return nil
}

// Validate checks every section and joins the problems found.
func (c Config) Validate() error {
	var errs []error
	if err := c.CoreField().Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Topology.File == "" {
		g := c.Topology.Grid
		if g.Width <= 0 || g.Height <= 0 || g.Spacing <= 0 {
			errs = append(errs, fmt.Errorf("%w: grid needs positive width, height and spacing", core.ErrInvalidConfig))
		}
		if g.AgentLifespan <= 0 || g.RequestLifespan <= 0 || g.SignalStrength < 0 {
			errs = append(errs, fmt.Errorf("%w: grid node lifespans must be positive and signal non-negative", core.ErrInvalidConfig))
		}
		if c.Field.RequestNodeCount > g.Width*g.Height {
			errs = append(errs, fmt.Errorf("%w: %d request nodes on a %dx%d grid", core.ErrInvalidConfig, c.Field.RequestNodeCount, g.Width, g.Height))
		}
	}
	if c.Run.Rate < 0 {
		errs = append(errs, fmt.Errorf("%w: rate must be >= 0, got %v", core.ErrInvalidConfig, c.Run.Rate))
	}
	if _, err := c.ReaderMode(); err != nil {
		errs = append(errs, err)
	}
	if c.Sinks.BatchSize < 0 {
		errs = append(errs, fmt.Errorf("%w: batch size must be >= 0", core.ErrInvalidConfig))
	}
	if err := c.Tracing.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// CoreField converts the field section.
func (c Config) CoreField() core.FieldConfig {
	return core.FieldConfig{
		UpdateLimit:      c.Field.UpdateLimit,
		EventChanceRange: c.Field.EventChanceRange,
		AgentChanceRange: c.Field.AgentChanceRange,
		RequestInterval:  c.Field.RequestInterval,
		RequestNodeCount: c.Field.RequestNodeCount,
	}
}

// Generator returns the topology source described by the config.
func (c Config) Generator() topology.Generator {
	if c.Topology.File != "" {
		return topology.File{Path: c.Topology.File}
	}
	g := c.Topology.Grid
	return topology.Grid{
		Width:           g.Width,
		Height:          g.Height,
		Spacing:         g.Spacing,
		SignalStrength:  g.SignalStrength,
		AgentLifespan:   g.AgentLifespan,
		RequestLifespan: g.RequestLifespan,
	}
}

// ReaderMode parses Run.ReaderMode.
func (c Config) ReaderMode() (core.ReaderMode, error) {
	switch strings.ToLower(c.Run.ReaderMode) {
	case "", "all":
		return core.AllExpired, nil
	case "agents":
		return core.ExpiredAgents, nil
	case "requests":
		return core.ExpiredRequests, nil
	}
	return 0, fmt.Errorf("%w: unknown reader mode %q", core.ErrInvalidConfig, c.Run.ReaderMode)
}

// Logging returns the logger settings.
func (c Config) Logging() logging.Config {
	return logging.Config{Level: c.Log.Level, Format: c.Log.Format}
}
