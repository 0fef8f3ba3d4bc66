package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/signalsfoundry/rumor-routing-sim/core"
	"github.com/signalsfoundry/rumor-routing-sim/topology"
)

func env(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("RUMOR_TEST_DIR", dir)
	path := filepath.Join(dir, "sim.yaml")
	body := `
field:
  update_limit: 42
  event_chance_range: -1
topology:
  file: ${RUMOR_TEST_DIR}/net.txt
run:
  rate: 2.5
  seed: 7
  reader_mode: requests
sinks:
  journal: ${RUMOR_TEST_DIR}/out.journal
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Field.UpdateLimit != 42 || cfg.Field.EventChanceRange != core.Disabled {
		t.Fatalf("field = %+v", cfg.Field)
	}
	if cfg.Field.RequestInterval != Default().Field.RequestInterval {
		t.Fatalf("unset fields should keep defaults, got %+v", cfg.Field)
	}
	if cfg.Topology.File != filepath.Join(dir, "net.txt") || cfg.Sinks.Journal != filepath.Join(dir, "out.journal") {
		t.Fatalf("paths not expanded: %q %q", cfg.Topology.File, cfg.Sinks.Journal)
	}
	if mode, err := cfg.ReaderMode(); err != nil || mode != core.ExpiredRequests {
		t.Fatalf("ReaderMode = %v, %v", mode, err)
	}
	if _, ok := cfg.Generator().(topology.File); !ok {
		t.Fatalf("expected a file generator, got %T", cfg.Generator())
	}
	if cfg.Run.Rate != 2.5 || cfg.Run.Seed != 7 {
		t.Fatalf("run = %+v", cfg.Run)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected an error for a missing file")
	}
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(env(map[string]string{
		"RUMOR_UPDATE_LIMIT": "9",
		"RUMOR_SEED":         "123",
		"RUMOR_RATE":         "0",
		"RUMOR_GRPC_ADDR":    ":7000",
		"RUMOR_READER_MODE":  "agents",
	}))
	if err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}
	if cfg.Field.UpdateLimit != 9 || cfg.Run.Seed != 123 || cfg.Sinks.GRPCAddr != ":7000" || cfg.Run.ReaderMode != "agents" {
		t.Fatalf("overrides not applied: %+v", cfg)
	}

	bad := Default()
	if err := bad.ApplyEnv(env(map[string]string{"RUMOR_REQUEST_NODES": "many"})); !errors.Is(err, core.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.Field.UpdateLimit = 0
	cfg.Topology.Grid.Spacing = 0
	cfg.Run.ReaderMode = "sometimes"

	err := cfg.Validate()
	if !errors.Is(err, core.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
	var joined interface{ Unwrap() []error }
	if !errors.As(err, &joined) || len(joined.Unwrap()) != 3 {
		t.Fatalf("expected three joined errors, got %v", err)
	}
}

func TestTracingSection(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("RUMOR_TEST_COLLECTOR", "collector:4317")
	path := filepath.Join(dir, "sim.yaml")
	body := `
tracing:
  exporter: otlp
  endpoint: ${RUMOR_TEST_COLLECTOR}
  sample_ratio: 0.25
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Tracing.Exporter != "otlp" || cfg.Tracing.Endpoint != "collector:4317" || cfg.Tracing.SampleRatio != 0.25 {
		t.Fatalf("tracing section not loaded: %+v", cfg.Tracing)
	}

	if err := cfg.ApplyEnv(env(map[string]string{"RUMOR_TRACING_SAMPLE_RATIO": "1.5"})); err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}
	if err := cfg.Validate(); !errors.Is(err, core.ErrInvalidConfig) {
		t.Fatalf("out of range sample ratio accepted: %v", err)
	}

	bad := Default()
	if err := bad.ApplyEnv(env(map[string]string{"RUMOR_TRACING_SAMPLE_RATIO": "half"})); !errors.Is(err, core.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestGridGeneratorFromDefaults(t *testing.T) {
	nodes, err := Default().Generator().Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(nodes) != 100 {
		t.Fatalf("nodes = %d, want 100", len(nodes))
	}
}
