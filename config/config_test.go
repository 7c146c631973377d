package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/wippyai/lightbridge/errors"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v", err)
	}
}

func TestParse(t *testing.T) {
	data := []byte(`
log:
  level: debug
  format: json
memory:
  backend: wazero
  initial_pages: 2
  max_pages: 64
engine:
  chain_name: westend
  peers: ["127.0.0.1:9944"]
  request_timeout: 3s
  finality_lag: 5
  genesis:
    parent_hash: "0x00"
    number: "0x0"
host:
  storage:
    "0x0102": "0xff"
`)
	cfg, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("log = %+v", cfg.Log)
	}
	if len(cfg.Log.Outputs) != 1 || cfg.Log.Outputs[0] != "stderr" {
		t.Errorf("outputs default lost: %v", cfg.Log.Outputs)
	}
	if cfg.Memory.Backend != BackendWazero || cfg.Memory.Alloc().MaxPages != 64 {
		t.Errorf("memory = %+v", cfg.Memory)
	}

	eng := cfg.Engine.Client()
	if eng.ChainName != "westend" || eng.RequestTimeout != 3*time.Second || eng.FinalityLag != 5 {
		t.Errorf("engine = %+v", eng)
	}
	if eng.PollInterval != Default().Engine.PollInterval {
		t.Errorf("poll interval default lost: %v", eng.PollInterval)
	}
	if eng.Genesis == nil || eng.Genesis.Number != "0x0" {
		t.Errorf("genesis = %+v", eng.Genesis)
	}

	storage, err := cfg.Host.StorageBytes()
	if err != nil {
		t.Fatal(err)
	}
	if v := storage["\x01\x02"]; len(v) != 1 || v[0] != 0xff {
		t.Errorf("storage = %v", storage)
	}
}

func TestParseEmpty(t *testing.T) {
	cfg, err := Parse(nil)
	if err != nil {
		t.Fatalf("Parse(nil): %v", err)
	}
	if cfg.Engine.ChainName != Default().Engine.ChainName {
		t.Fatalf("defaults not applied: %+v", cfg.Engine)
	}
}

func TestParseInvalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown field", "nope: 1"},
		{"bad level", "log: {level: loud}"},
		{"bad format", "log: {format: xml}"},
		{"bad backend", "memory: {backend: mmap}"},
		{"pages inverted", "memory: {initial_pages: 10, max_pages: 2}"},
		{"too many pages", "memory: {max_pages: 70000}"},
		{"4 GiB of pages", "memory: {max_pages: 65536}"},
		{"zero timeout", "engine: {request_timeout: 0s}"},
		{"bad peer", "engine: {peers: [localhost]}"},
		{"bad storage", `host: {storage: {"zz": "00"}}`},
		{"not yaml", "log: ["},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.Is(err, errors.New(errors.PhaseConfig, errors.KindInvalidInput).Build()) {
				t.Fatalf("error = %v", err)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lightbridge.yaml")
	if err := os.WriteFile(path, []byte("engine: {chain_name: local}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil || cfg.Engine.ChainName != "local" {
		t.Fatalf("Load = %+v, %v", cfg.Engine, err)
	}

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if errors.KindOf(err) != errors.KindNotFound {
		t.Fatalf("missing file error = %v", err)
	}
}
