package transcode

import (
	"context"
	"errors"
	"path/filepath"
	"strings"

	"github.com/RyanBlaney/sonido-stems/logging"
)

// Loader reads audio files, preferring the native WAV reader and falling
// back to ffmpeg for other containers, unsupported WAV encodings and
// resampling.
type Loader struct {
	decoder *Decoder
	logger  logging.Logger
}

// NewLoader creates a loader that uses decoder for everything the native
// WAV reader cannot handle.
func NewLoader(decoder *Decoder, logger logging.Logger) *Loader {
	if decoder == nil {
		decoder = NewDecoder(nil, logger)
	}
	return &Loader{
		decoder: decoder,
		logger: logging.OrGlobal(logger).WithFields(logging.Fields{
			"component": "audio_loader",
		}),
	}
}

// Load decodes path. sampleRate 0 keeps the file's native rate.
func (l *Loader) Load(ctx context.Context, path string, sampleRate int) (*AudioData, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if strings.EqualFold(filepath.Ext(path), ".wav") {
		data, err := ReadWAV(path)
		switch {
		case err == nil && (sampleRate == 0 || sampleRate == data.SampleRate):
			return data, nil
		case err == nil:
			l.logger.Debug("Resampling wav through ffmpeg", logging.Fields{
				"path":        path,
				"sample_rate": data.SampleRate,
				"target_rate": sampleRate,
			})
		case errors.Is(err, ErrUnsupportedWAV):
			l.logger.Debug("Native wav reader cannot decode file, using ffmpeg", logging.Fields{
				"path":  path,
				"error": err.Error(),
			})
		default:
			return nil, err
		}
	}

	decoder := l.decoder
	if sampleRate != decoder.config.TargetSampleRate {
		config := *decoder.config
		config.TargetSampleRate = sampleRate
		decoder = &Decoder{config: &config, logger: decoder.logger}
	}

	return decoder.DecodeFile(ctx, path)
}
