package stems

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/RyanBlaney/sonido-stems/logging"
)

// StemSource is a coarse stem file produced by a separator.
type StemSource struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// Separation is the output of one coarse separation.
type Separation struct {
	Dir   string       `json:"dir"`
	Stems []StemSource `json:"stems"`
}

// Separator splits an input file into coarse stems under outDir.
type Separator interface {
	Separate(ctx context.Context, input, outDir string) (*Separation, error)
}

// DemucsSeparator runs Demucs as a Python module.
type DemucsSeparator struct {
	Python  string
	Model   string
	Device  string
	Shifts  int
	Overlap float64

	logger logging.Logger
}

// NewDemucsSeparator creates a separator from the pipeline settings.
func NewDemucsSeparator(cfg *Config, logger logging.Logger) *DemucsSeparator {
	return &DemucsSeparator{
		Python:  "python3",
		Model:   cfg.Model,
		Device:  cfg.Device,
		Shifts:  cfg.Shifts,
		Overlap: cfg.Overlap,
		logger: logging.OrGlobal(logger).WithFields(logging.Fields{
			"component": "demucs_separator",
		}),
	}
}

// Args returns the command line arguments for separating input.
func (d *DemucsSeparator) Args(input, outDir string) []string {
	args := []string{
		"-m", "demucs.separate",
		"-n", d.Model,
		"--out", outDir,
		"-d", d.Device,
		"--overlap", strconv.FormatFloat(d.Overlap, 'f', -1, 64),
	}
	if d.Shifts > 0 {
		args = append(args, "--shifts", strconv.Itoa(d.Shifts))
	}
	return append(args, input)
}

// Separate runs Demucs and lists the stems it wrote.
func (d *DemucsSeparator) Separate(ctx context.Context, input, outDir string) (*Separation, error) {
	args := d.Args(input, outDir)

	d.logger.Info("Running coarse separation", logging.Fields{
		"input":  input,
		"model":  d.Model,
		"device": d.Device,
	})

	cmd := exec.CommandContext(ctx, d.Python, args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		var exitError *exec.ExitError
		if errors.As(err, &exitError) {
			return nil, fmt.Errorf("%w: demucs: %w, output: %s", ErrSeparation, err, strings.TrimSpace(string(out)))
		}
		return nil, fmt.Errorf("%w: demucs: %w", ErrSeparation, err)
	}

	song := SongName(input)
	dir := FindOutputFolder(outDir, d.Model, song)

	stems, err := ListStems(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSeparation, err)
	}
	if len(stems) == 0 {
		return nil, fmt.Errorf("%w: no stems in %s", ErrSeparation, dir)
	}

	return &Separation{Dir: dir, Stems: stems}, nil
}

// FindOutputFolder returns <outDir>/<model>/<song>, or the first folder
// under <outDir>/<model> whose name starts with song when the exact one is
// missing.
func FindOutputFolder(outDir, model, song string) string {
	root := filepath.Join(outDir, model)
	candidate := filepath.Join(root, song)
	if info, err := os.Stat(candidate); err == nil && info.IsDir() {
		return candidate
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return candidate
	}
	for _, entry := range entries {
		if entry.IsDir() && strings.HasPrefix(entry.Name(), song) {
			return filepath.Join(root, entry.Name())
		}
	}
	return candidate
}

// ListStems returns the category files present in dir, in category order.
// <category>.wav is preferred: finished stems are written into the same
// folder under the same names, so another extension next to a WAV is a
// previous run's output. Without a WAV the lexically first match is used.
func ListStems(dir string) ([]StemSource, error) {
	var stems []StemSource
	for _, category := range Categories {
		wav := filepath.Join(dir, string(category)+".wav")
		if info, err := os.Stat(wav); err == nil && info.Mode().IsRegular() {
			stems = append(stems, StemSource{Name: string(category), Path: wav})
			continue
		}

		matches, err := filepath.Glob(filepath.Join(dir, string(category)+".*"))
		if err != nil {
			return nil, err
		}
		if len(matches) == 0 {
			continue
		}
		slices.Sort(matches)
		stems = append(stems, StemSource{Name: string(category), Path: matches[0]})
	}
	return stems, nil
}
