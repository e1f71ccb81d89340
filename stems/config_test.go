package stems

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfigIsValid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config rejected: %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty output dir", func(c *Config) { c.OutputDir = "" }},
		{"zero rank", func(c *Config) { c.MaxRank = 0 }},
		{"non-positive top db", func(c *Config) { c.TopDB = 0 }},
		{"inverted cutoffs", func(c *Config) { c.LowCutoffHz, c.HighCutoffHz = 6000, 160 }},
		{"negative sample rate", func(c *Config) { c.SampleRate = -1 }},
		{"encode without bitrate", func(c *Config) { c.Bitrate = 0 }},
		{"overlap of one", func(c *Config) { c.Overlap = 1 }},
		{"negative shifts", func(c *Config) { c.Shifts = -2 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestConfigValidateBitrateIgnoredWithoutEncoding(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Encode = false
	cfg.Bitrate = 0
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoadConfigKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "autostems.json")
	if err := os.WriteFile(path, []byte(`{"max_rank": 4, "drum_split": true}`), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.MaxRank != 4 || !cfg.DrumSplit {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if cfg.TargetLUFS != DefaultConfig().TargetLUFS || cfg.Format != "mp3" {
		t.Errorf("defaults lost: %+v", cfg)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	dir := t.TempDir()

	if _, err := LoadConfig(filepath.Join(dir, "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}

	bad := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(bad, []byte("{"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(bad); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig for bad JSON, got %v", err)
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("AUTOSTEMS_MAX_RANK", "8")
	t.Setenv("AUTOSTEMS_TARGET_LUFS", "-16.5")
	t.Setenv("AUTOSTEMS_ENCODE", "false")
	t.Setenv("AUTOSTEMS_MODEL", "htdemucs_6s")
	t.Setenv("AUTOSTEMS_BITRATE", "not-a-number")

	cfg := DefaultConfig()
	cfg.ApplyEnv()

	if cfg.MaxRank != 8 {
		t.Errorf("MaxRank = %d, want 8", cfg.MaxRank)
	}
	if cfg.TargetLUFS != -16.5 {
		t.Errorf("TargetLUFS = %v, want -16.5", cfg.TargetLUFS)
	}
	if cfg.Encode {
		t.Error("Encode should be false")
	}
	if cfg.Model != "htdemucs_6s" {
		t.Errorf("Model = %q", cfg.Model)
	}
	if cfg.Bitrate != 320 {
		t.Errorf("unparsable bitrate should keep default, got %d", cfg.Bitrate)
	}
}
