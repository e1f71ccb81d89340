package stems

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/RyanBlaney/sonido-stems/algorithms/loudness"
	"github.com/RyanBlaney/sonido-stems/algorithms/spectral"
	"github.com/RyanBlaney/sonido-stems/algorithms/temporal"
)

// Config holds process-wide settings. It is read-only once a run starts.
type Config struct {
	OutputDir string `json:"output_dir"`

	// Finishing
	Trim       bool    `json:"trim"`
	TopDB      float64 `json:"top_db"`
	Normalize  bool    `json:"normalize"`
	TargetLUFS float64 `json:"target_lufs"`

	// Decomposition
	MaxRank      int     `json:"max_rank"`
	DrumSplit    bool    `json:"drum_split"`
	LowCutoffHz  float64 `json:"low_cutoff_hz"`
	HighCutoffHz float64 `json:"high_cutoff_hz"`
	SampleRate   int     `json:"sample_rate"` // factorization input rate, 0 = native

	// Lossy export
	Encode  bool   `json:"encode"`
	Format  string `json:"format"`
	Bitrate int    `json:"bitrate"` // kbps

	// Coarse separation
	Model   string  `json:"model"`
	Device  string  `json:"device"`
	Shifts  int     `json:"shifts"`
	Overlap float64 `json:"overlap"`
}

// DefaultConfig returns the standard settings.
func DefaultConfig() *Config {
	return &Config{
		OutputDir:    "outputs",
		Trim:         true,
		TopDB:        temporal.DefaultTopDB,
		Normalize:    true,
		TargetLUFS:   loudness.DefaultTarget,
		MaxRank:      6,
		DrumSplit:    false,
		LowCutoffHz:  spectral.DefaultLowCutoffHz,
		HighCutoffHz: spectral.DefaultHighCutoffHz,
		SampleRate:   0,
		Encode:       true,
		Format:       "mp3",
		Bitrate:      320,
		Model:        "htdemucs",
		Device:       "cpu",
		Shifts:       0,
		Overlap:      0.25,
	}
}

// Validate checks the settings. Every error wraps ErrInvalidConfig.
func (c *Config) Validate() error {
	var errs []error

	if c.OutputDir == "" {
		errs = append(errs, errors.New("output directory must be set"))
	}
	if c.MaxRank < 1 {
		errs = append(errs, fmt.Errorf("max rank must be at least 1: %d", c.MaxRank))
	}
	if c.TopDB <= 0 {
		errs = append(errs, fmt.Errorf("top_db must be positive: %v", c.TopDB))
	}
	if c.LowCutoffHz <= 0 || c.HighCutoffHz <= c.LowCutoffHz {
		errs = append(errs, fmt.Errorf("band cutoffs must satisfy 0 < low < high: %v, %v", c.LowCutoffHz, c.HighCutoffHz))
	}
	if c.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("sample rate must not be negative: %d", c.SampleRate))
	}
	if c.Encode && (c.Format == "" || c.Bitrate <= 0) {
		errs = append(errs, fmt.Errorf("encoding needs a format and a positive bitrate: %q, %d", c.Format, c.Bitrate))
	}
	if c.Overlap < 0 || c.Overlap >= 1 {
		errs = append(errs, fmt.Errorf("overlap must be in [0, 1): %v", c.Overlap))
	}
	if c.Shifts < 0 {
		errs = append(errs, fmt.Errorf("shifts must not be negative: %d", c.Shifts))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// LoadConfig reads a JSON file over DefaultConfig. Fields absent from the
// file keep their defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidConfig, path, err)
	}
	return cfg, nil
}

// ApplyEnv overlays AUTOSTEMS_* environment variables. Unset or
// unparsable variables leave the current value.
func (c *Config) ApplyEnv() {
	c.OutputDir = envStr("AUTOSTEMS_OUTPUT_DIR", c.OutputDir)
	c.Trim = envBool("AUTOSTEMS_TRIM", c.Trim)
	c.TopDB = envFloat("AUTOSTEMS_TOP_DB", c.TopDB)
	c.Normalize = envBool("AUTOSTEMS_NORMALIZE", c.Normalize)
	c.TargetLUFS = envFloat("AUTOSTEMS_TARGET_LUFS", c.TargetLUFS)
	c.MaxRank = envInt("AUTOSTEMS_MAX_RANK", c.MaxRank)
	c.DrumSplit = envBool("AUTOSTEMS_DRUM_SPLIT", c.DrumSplit)
	c.SampleRate = envInt("AUTOSTEMS_SAMPLE_RATE", c.SampleRate)
	c.Encode = envBool("AUTOSTEMS_ENCODE", c.Encode)
	c.Format = envStr("AUTOSTEMS_FORMAT", c.Format)
	c.Bitrate = envInt("AUTOSTEMS_BITRATE", c.Bitrate)
	c.Model = envStr("AUTOSTEMS_MODEL", c.Model)
	c.Device = envStr("AUTOSTEMS_DEVICE", c.Device)
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
