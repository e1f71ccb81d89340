package transcode

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/RyanBlaney/sonido-stems/logging"
)

// EncoderConfig holds lossy export settings
type EncoderConfig struct {
	Format     string        `json:"format"`      // container/extension, e.g. "mp3"
	Bitrate    int           `json:"bitrate"`     // kbps
	FFmpegPath string        `json:"ffmpeg_path"` // Path to ffmpeg binary
	Timeout    time.Duration `json:"timeout"`
}

// DefaultEncoderConfig returns 320 kbps MP3 export settings
func DefaultEncoderConfig() *EncoderConfig {
	return &EncoderConfig{
		Format:     "mp3",
		Bitrate:    320,
		FFmpegPath: "ffmpeg",
		Timeout:    2 * time.Minute,
	}
}

// codecs maps output formats to the ffmpeg encoder used for them.
var codecs = map[string]string{
	"mp3":  "libmp3lame",
	"ogg":  "libvorbis",
	"opus": "libopus",
	"m4a":  "aac",
	"aac":  "aac",
	"flac": "flac",
}

// Encoder converts lossless intermediates to a compressed format with ffmpeg
type Encoder struct {
	config *EncoderConfig
	logger logging.Logger
}

// NewEncoder creates an encoder. A nil config uses DefaultEncoderConfig.
func NewEncoder(config *EncoderConfig, logger logging.Logger) (*Encoder, error) {
	if config == nil {
		config = DefaultEncoderConfig()
	}
	if _, ok := codecs[config.Format]; !ok {
		return nil, fmt.Errorf("unsupported output format %q", config.Format)
	}
	if config.Bitrate <= 0 {
		return nil, fmt.Errorf("bitrate must be positive: %d", config.Bitrate)
	}

	return &Encoder{
		config: config,
		logger: logging.OrGlobal(logger).WithFields(logging.Fields{
			"component": "audio_encoder",
		}),
	}, nil
}

// OutputPath returns the file Encode writes for input.
func (e *Encoder) OutputPath(input string) string {
	return strings.TrimSuffix(input, filepath.Ext(input)) + "." + e.config.Format
}

// Encode writes input as <input without extension>.<format> and returns
// the new path. An existing output file is overwritten.
func (e *Encoder) Encode(ctx context.Context, input string) (string, error) {
	output := e.OutputPath(input)
	args := e.buildArgs(input, output)

	if e.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.config.Timeout)
		defer cancel()
	}

	e.logger.Debug("Running ffmpeg encode", logging.Fields{
		"args": strings.Join(args, " "),
	})

	cmd := exec.CommandContext(ctx, e.config.FFmpegPath, args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		var exitError *exec.ExitError
		if errors.As(err, &exitError) {
			return "", fmt.Errorf("ffmpeg encode failed: %w, output: %s", err, strings.TrimSpace(string(out)))
		}
		return "", fmt.Errorf("ffmpeg encode failed: %w", err)
	}

	return output, nil
}

func (e *Encoder) buildArgs(input, output string) []string {
	args := []string{
		"-y",          // Overwrite
		"-v", "error", // Suppress ffmpeg output
		"-i", input,
		"-vn",
		"-codec:a", codecs[e.config.Format],
	}

	if e.config.Format != "flac" {
		args = append(args, "-b:a", fmt.Sprintf("%dk", e.config.Bitrate))
	}

	return append(args, output)
}
