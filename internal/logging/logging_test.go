package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/wippyai/lightbridge/config"
)

func TestSetupFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "bridge.log")
	l, err := Setup(config.LogConfig{Level: "warning", Format: "json", Outputs: []string{path}})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	l.Info("hidden")
	l.Warn("shown")
	_ = l.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "hidden") || !strings.Contains(string(data), `"msg":"shown"`) {
		t.Fatalf("log file = %s", data)
	}
}

func TestSetupRotation(t *testing.T) {
	dir := t.TempDir()
	c := config.LogConfig{
		Level:   "debug",
		Outputs: []string{filepath.Join(dir, "unused.log")},
		Rotation: config.RotationConfig{
			Enable:   true,
			Filename: filepath.Join(dir, "rotated.log"),
		},
	}
	l, err := Setup(c)
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	l.Debug("rotating")
	_ = l.Sync()

	if _, err := os.Stat(filepath.Join(dir, "rotated.log")); err != nil {
		t.Fatalf("rotated file missing: %v", err)
	}
}

func TestInstall(t *testing.T) {
	l, err := Setup(config.LogConfig{Level: "error", Outputs: []string{"stderr"}})
	if err != nil {
		t.Fatal(err)
	}
	Install(l)
}
