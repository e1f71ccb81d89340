package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"github.com/RyanBlaney/sonido-stems/logging"
	"github.com/RyanBlaney/sonido-stems/stems"
	"github.com/RyanBlaney/sonido-stems/transcode"
)

var (
	version = "0.0.1"
)

// CLI defines the command-line interface
type CLI struct {
	Input string `arg:"" name:"input" help:"Audio file or directory of audio files" type:"path"`

	Out        string  `short:"o" help:"Output directory" default:"outputs"`
	Model      string  `help:"Demucs model name" default:"htdemucs"`
	MP3        bool    `name:"mp3" help:"Encode finished stems" default:"true" negatable:""`
	Bitrate    int     `help:"Encoder bitrate in kbps" default:"320"`
	Device     string  `help:"Demucs device (cpu, cuda, mps)" default:"cpu"`
	Shifts     int     `help:"Demucs random shifts" default:"0"`
	Overlap    float64 `help:"Demucs segment overlap" default:"0.25"`
	Normalize  bool    `help:"Normalize stem loudness" default:"true" negatable:""`
	Target     float64 `help:"Loudness target in LUFS" default:"-14"`
	Trim       bool    `help:"Trim leading and trailing silence" default:"true" negatable:""`
	SR         int     `name:"sr" help:"Resample factorized stems to this rate (0 keeps native)" default:"0"`
	MaxRank    int     `help:"Maximum components per factorized stem" default:"6"`
	DrumSplit  bool    `help:"Split drums into low, mid and high bands"`
	Classifier string  `help:"Classifier command; receives the stem path and prints JSON scores"`
	Python     string  `help:"Python interpreter used to run demucs" default:"python3"`
	Config     string  `short:"c" type:"path" help:"Path to JSON config file (optional)"`
	NoPackage  bool    `help:"Skip writing the zip archive"`
	LogLevel   string  `help:"Log level (debug, info, warn, error)" default:"info"`
	Verbose    bool    `short:"v" help:"Enable debug logging (same as --log-level=debug)"`
	NoColor    bool    `help:"Disable coloured log output"`
	Version    bool    `help:"Show version information"`
}

// overrides maps flag names to the config field they set. Only flags typed
// on the command line are applied, so file and environment values survive
// the flag defaults.
var overrides = map[string]func(cli *CLI, cfg *stems.Config){
	"out":        func(cli *CLI, cfg *stems.Config) { cfg.OutputDir = cli.Out },
	"model":      func(cli *CLI, cfg *stems.Config) { cfg.Model = cli.Model },
	"mp3":        func(cli *CLI, cfg *stems.Config) { cfg.Encode = cli.MP3 },
	"bitrate":    func(cli *CLI, cfg *stems.Config) { cfg.Bitrate = cli.Bitrate },
	"device":     func(cli *CLI, cfg *stems.Config) { cfg.Device = cli.Device },
	"shifts":     func(cli *CLI, cfg *stems.Config) { cfg.Shifts = cli.Shifts },
	"overlap":    func(cli *CLI, cfg *stems.Config) { cfg.Overlap = cli.Overlap },
	"normalize":  func(cli *CLI, cfg *stems.Config) { cfg.Normalize = cli.Normalize },
	"target":     func(cli *CLI, cfg *stems.Config) { cfg.TargetLUFS = cli.Target },
	"trim":       func(cli *CLI, cfg *stems.Config) { cfg.Trim = cli.Trim },
	"sr":         func(cli *CLI, cfg *stems.Config) { cfg.SampleRate = cli.SR },
	"max-rank":   func(cli *CLI, cfg *stems.Config) { cfg.MaxRank = cli.MaxRank },
	"drum-split": func(cli *CLI, cfg *stems.Config) { cfg.DrumSplit = cli.DrumSplit },
}

// options configures the kong parser.
func options() []kong.Option {
	return []kong.Option{
		kong.Name("autostems"),
		kong.Description("Separate songs into finished, labelled stems"),
		kong.UsageOnError(),
		kong.Vars{
			"version": version,
		},
	}
}

func main() {
	cli := &CLI{}
	kctx := kong.Parse(cli, options()...)

	if cli.Version {
		fmt.Println("autostems", version)
		os.Exit(0)
	}

	logger, err := newLogger(cli)
	kctx.FatalIfErrorf(err)
	logging.SetGlobalLogger(logger)

	cfg, err := loadConfig(cli, kctx)
	if err != nil {
		logger.Error(err, "Invalid configuration")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cli, cfg, logger); err != nil {
		logger.Error(err, "autostems failed")
		os.Exit(1)
	}
}

// newLogger builds the process logger from --log-level, --verbose and
// --no-color.
func newLogger(cli *CLI) (*logging.DefaultLogger, error) {
	level, err := logging.ParseLevel(cli.LogLevel)
	if err != nil {
		return nil, err
	}
	if cli.Verbose {
		level = logging.DebugLevel
	}

	logger := logging.NewDefaultLogger()
	if cli.NoColor {
		logger = logging.NewDefaultLoggerNoColor()
	}
	logger.SetLevel(level)
	return logger, nil
}

// givenFlags returns the names of the flags typed on the command line.
// Flag defaults are applied through the same setter as typed values, so
// only the parse path tells them apart.
func givenFlags(kctx *kong.Context) map[string]bool {
	given := make(map[string]bool)
	for _, path := range kctx.Path {
		if path.Flag != nil {
			given[path.Flag.Name] = true
		}
	}
	return given
}

// loadConfig layers defaults, the config file, AUTOSTEMS_* variables and
// explicitly given flags, in that order.
func loadConfig(cli *CLI, kctx *kong.Context) (*stems.Config, error) {
	cfg := stems.DefaultConfig()
	if cli.Config != "" {
		loaded, err := stems.LoadConfig(cli.Config)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	cfg.ApplyEnv()

	for name := range givenFlags(kctx) {
		if apply, ok := overrides[name]; ok {
			apply(cli, cfg)
		}
	}

	return cfg, cfg.Validate()
}

func run(ctx context.Context, cli *CLI, cfg *stems.Config, logger logging.Logger) error {
	inputs, err := stems.ScanInputs(cli.Input)
	if err != nil {
		return err
	}
	if len(inputs) == 0 {
		return fmt.Errorf("no audio files in %s", cli.Input)
	}

	decoder := transcode.NewDecoder(transcode.DefaultDecoderConfig(), logger)
	if err := decoder.ValidateConfig(ctx); err != nil {
		logger.Warn("ffmpeg unavailable, only wav stems can be decoded and nothing will be encoded", logging.Fields{
			"error": err.Error(),
		})
	}

	var classifier stems.Classifier
	if cli.Classifier != "" {
		c, err := stems.NewCommandClassifier(cli.Classifier, 2*time.Minute, logger)
		if err != nil {
			return err
		}
		classifier = c
	}

	separator := stems.NewDemucsSeparator(cfg, logger)
	separator.Python = cli.Python

	pipeline, err := stems.NewPipeline(cfg, stems.Dependencies{
		Loader:     transcode.NewLoader(decoder, logger),
		Separator:  separator,
		Classifier: classifier,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	var failed []error
	for _, input := range inputs {
		if err := processOne(ctx, pipeline, cfg, input, !cli.NoPackage, logger); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Error(err, "Failed to process song", logging.Fields{"input": input})
			failed = append(failed, fmt.Errorf("%s: %w", input, err))
		}
	}

	return errors.Join(failed...)
}

func processOne(ctx context.Context, pipeline *stems.Pipeline, cfg *stems.Config, input string, pack bool, logger logging.Logger) error {
	start := time.Now()

	manifest, err := pipeline.Process(ctx, input)
	if err != nil {
		return err
	}

	manifestPath := filepath.Join(manifest.Dir, "manifest.json")
	if err := manifest.WriteJSON(manifestPath); err != nil {
		return err
	}

	fields := logging.Fields{
		"song":     manifest.Song,
		"stems":    len(manifest.Stems),
		"manifest": manifestPath,
		"elapsed":  time.Since(start).Round(time.Millisecond).String(),
	}

	if pack {
		zipPath := filepath.Join(cfg.OutputDir, stems.ArchiveName(manifest.Song))
		if err := stems.Package(manifest.Dir, zipPath); err != nil {
			return err
		}
		fields["archive"] = zipPath
	}

	logger.Info("Song complete", fields)
	return nil
}
