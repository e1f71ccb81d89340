package stems

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"slices"

	"github.com/RyanBlaney/sonido-stems/algorithms/loudness"
	"github.com/RyanBlaney/sonido-stems/algorithms/temporal"
	"github.com/RyanBlaney/sonido-stems/logging"
	"github.com/RyanBlaney/sonido-stems/transcode"
)

// Encoder converts a lossless file to a compressed one and returns the new
// path.
type Encoder interface {
	Encode(ctx context.Context, path string) (string, error)
}

// Finalizer applies the finishing steps to one stem at a time and writes
// the result under Dir.
type Finalizer struct {
	cfg        *Config
	dir        string
	classifier Classifier
	encoder    Encoder
	logger     logging.Logger
}

// NewFinalizer creates a finalizer writing into dir. classifier and encoder
// may be nil: stems are then labelled unknown and kept lossless.
func NewFinalizer(cfg *Config, dir string, classifier Classifier, encoder Encoder, logger logging.Logger) *Finalizer {
	return &Finalizer{
		cfg:        cfg,
		dir:        dir,
		classifier: classifier,
		encoder:    encoder,
		logger: logging.OrGlobal(logger).WithFields(logging.Fields{
			"component": "stem_finalizer",
		}),
	}
}

// Dir returns the directory finished stems are written to.
func (f *Finalizer) Dir() string { return f.dir }

// Finalize trims, normalizes, writes, classifies and encodes buf as name.
// Classification and encoding failures are logged and absorbed; the
// returned error is reserved for failing to write the stem and for
// cancellation. Finalizing the same name again overwrites the output.
func (f *Finalizer) Finalize(ctx context.Context, name string, buf AudioBuffer) (StemRecord, error) {
	logger := f.logger.WithFields(logging.Fields{
		"function": "Finalize",
		"stem":     name,
	})

	if err := ctx.Err(); err != nil {
		return StemRecord{}, err
	}

	samples := slices.Clone(buf.Samples)

	if f.cfg.Trim {
		before := len(samples)
		samples = temporal.NewSilenceDetection(f.cfg.TopDB, temporal.DefaultFrameSize, temporal.DefaultHopSize).Trim(samples)
		logger.Debug("Trimmed silence", logging.Fields{
			"samples_before": before,
			"samples_after":  len(samples),
		})
	}

	record := StemRecord{
		Name:       name,
		SampleRate: buf.SampleRate,
		Label:      UnknownLabel,
	}

	if f.cfg.Normalize {
		normalizer, err := loudness.NewNormalizer(buf.SampleRate, f.cfg.TargetLUFS, logger)
		if err != nil {
			logger.Warn("Skipping loudness normalization", logging.Fields{
				"error": err.Error(),
			})
		} else {
			var measured float64
			samples, measured = normalizer.Normalize(samples)
			if !math.IsInf(measured, 0) {
				record.LoudnessLUFS = &measured
			}
		}
	}

	record.Samples = len(samples)
	record.Duration = AudioBuffer{Samples: samples, SampleRate: buf.SampleRate}.Duration()

	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return StemRecord{}, fmt.Errorf("failed to create output dir: %w", err)
	}

	wavPath := filepath.Join(f.dir, name+".wav")
	if err := transcode.WriteWAV(wavPath, samples, buf.SampleRate); err != nil {
		return StemRecord{}, fmt.Errorf("failed to write stem %s: %w", name, err)
	}
	record.Path = wavPath

	classification, err := f.classify(ctx, wavPath, logger)
	if err != nil {
		return StemRecord{}, err
	}
	record.Label = classification.Label
	record.Confidence = classification.Confidence
	record.Classified = classification.Known

	if f.cfg.Encode && f.encoder != nil {
		encoded, err := f.encoder.Encode(ctx, wavPath)
		switch {
		case err != nil && ctx.Err() != nil:
			return StemRecord{}, ctx.Err()
		case err != nil:
			logger.Warn("Encoding failed, keeping lossless file", logging.Fields{
				"error": err.Error(),
				"path":  wavPath,
			})
		default:
			if err := os.Remove(wavPath); err != nil {
				logger.Warn("Failed to remove lossless intermediate", logging.Fields{
					"error": err.Error(),
					"path":  wavPath,
				})
			}
			record.Path = encoded
			record.Encoded = true
		}
	}

	logger.Info("Stem finalized", logging.Fields{
		"path":       record.Path,
		"label":      record.Label,
		"confidence": record.Confidence,
	})

	return record, nil
}

// classify returns Unknown for any classifier failure. Only cancellation
// is reported as an error.
func (f *Finalizer) classify(ctx context.Context, path string, logger logging.Logger) (Classification, error) {
	if f.classifier == nil {
		return Unknown, nil
	}

	scores, err := f.classifier.Classify(ctx, path)
	if err != nil {
		if ctx.Err() != nil {
			return Unknown, ctx.Err()
		}
		logger.Warn("Classification failed, labelling stem unknown", logging.Fields{
			"error": err.Error(),
		})
		return Unknown, nil
	}

	return RankScores(scores), nil
}
