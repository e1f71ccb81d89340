package stems

import (
	"context"
	"fmt"

	"github.com/RyanBlaney/sonido-stems/algorithms/factorization"
	"github.com/RyanBlaney/sonido-stems/algorithms/spectral"
	"github.com/RyanBlaney/sonido-stems/logging"
	"github.com/RyanBlaney/sonido-stems/transcode"
)

// AudioLoader decodes an audio file. sampleRate 0 keeps the native rate.
type AudioLoader interface {
	Load(ctx context.Context, path string, sampleRate int) (*transcode.AudioData, error)
}

// Dependencies are the collaborators of a Pipeline. Nil fields get
// defaults, except Classifier (stems are labelled unknown) and Separator
// (Process is unavailable).
type Dependencies struct {
	Loader     AudioLoader
	Separator  Separator
	Classifier Classifier
	Encoder    Encoder
	Factorizer *factorization.Factorizer
	Logger     logging.Logger
}

// Pipeline turns coarse stems into finished, labelled stems.
type Pipeline struct {
	cfg        *Config
	loader     AudioLoader
	separator  Separator
	classifier Classifier
	encoder    Encoder
	factorizer *factorization.Factorizer
	splitter   *spectral.BandSplitter
	logger     logging.Logger
}

// NewPipeline validates cfg and wires the collaborators.
func NewPipeline(cfg *Config, deps Dependencies) (*Pipeline, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := logging.OrGlobal(deps.Logger)

	p := &Pipeline{
		cfg:        cfg,
		loader:     deps.Loader,
		separator:  deps.Separator,
		classifier: deps.Classifier,
		encoder:    deps.Encoder,
		factorizer: deps.Factorizer,
		splitter:   spectral.NewBandSplitter(cfg.LowCutoffHz, cfg.HighCutoffHz),
		logger: logger.WithFields(logging.Fields{
			"component": "pipeline",
		}),
	}

	if p.loader == nil {
		p.loader = transcode.NewLoader(nil, logger)
	}

	if p.factorizer == nil {
		f, err := factorization.NewFactorizer(factorization.DefaultOptions(), logger)
		if err != nil {
			return nil, err
		}
		p.factorizer = f
	}

	if p.encoder == nil && cfg.Encode {
		encoderConfig := transcode.DefaultEncoderConfig()
		encoderConfig.Format = cfg.Format
		encoderConfig.Bitrate = cfg.Bitrate
		enc, err := transcode.NewEncoder(encoderConfig, logger)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
		p.encoder = enc
	}

	return p, nil
}

// Process separates input into coarse stems and runs them through Run. The
// manifest's Song is the input's base name without extension.
func (p *Pipeline) Process(ctx context.Context, input string) (*Manifest, error) {
	if p.separator == nil {
		return nil, fmt.Errorf("%w: no separator configured", ErrSeparation)
	}

	song := SongName(input)
	ctx = logging.ContextWithFields(ctx, logging.Fields{"song": song})

	separation, err := p.separator.Separate(ctx, input, p.cfg.OutputDir)
	if err != nil {
		return nil, err
	}

	manifest, err := p.Run(ctx, separation.Dir, separation.Stems)
	if err != nil {
		return nil, err
	}
	manifest.Song = song
	return manifest, nil
}

// Run finishes the given coarse stems, writing results into dir. Stems are
// handled one category at a time in Categories order; missing categories
// are skipped. Every stem is decoded before any output is written, so a
// decode failure leaves no partial manifest.
func (p *Pipeline) Run(ctx context.Context, dir string, sources []StemSource) (*Manifest, error) {
	logger := p.logger.WithContext(ctx).WithFields(logging.Fields{
		"function": "Run",
		"dir":      dir,
	})

	paths, err := indexSources(sources)
	if err != nil {
		return nil, err
	}

	buffers := make(map[Category]AudioBuffer, len(paths))
	for _, category := range Categories {
		path, ok := paths[category]
		if !ok {
			continue
		}

		sampleRate := 0
		if category.Treatment() == Factorize {
			sampleRate = p.cfg.SampleRate
		}

		data, err := p.loader.Load(ctx, path, sampleRate)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("%w: %s: %w", ErrDecode, category, err)
		}
		buffers[category] = BufferFromAudio(data)
	}

	logger.Info("Coarse stems loaded", logging.Fields{
		"stems": len(buffers),
	})

	finalizer := NewFinalizer(p.cfg, dir, p.classifier, p.encoder, p.logger.WithContext(ctx))
	manifest := NewManifest("", dir)

	for _, category := range Categories {
		buf, ok := buffers[category]
		if !ok {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if err := p.processCategory(ctx, finalizer, manifest, category, buf); err != nil {
			return nil, err
		}
	}

	logger.Info("Pipeline complete", logging.Fields{
		"finished_stems": len(manifest.Stems),
	})

	return manifest, nil
}

func (p *Pipeline) processCategory(ctx context.Context, finalizer *Finalizer, manifest *Manifest, category Category, buf AudioBuffer) error {
	finish := func(name string, b AudioBuffer) error {
		record, err := finalizer.Finalize(ctx, name, b)
		if err != nil {
			return err
		}
		record.Category = category
		return manifest.Append(record)
	}

	switch category.Treatment() {
	case BandSplit:
		if !p.cfg.DrumSplit {
			return finish(string(category), buf)
		}
		low, mid, high := p.splitter.Split(buf.Samples, buf.SampleRate)
		for _, band := range []struct {
			name    string
			samples []float64
		}{
			{"low", low},
			{"mid", mid},
			{"high", high},
		} {
			if err := finish(category.BandName(band.name), AudioBuffer{Samples: band.samples, SampleRate: buf.SampleRate}); err != nil {
				return err
			}
		}
		return nil

	case Factorize:
		decomposition, err := p.factorizer.Decompose(ctx, buf.Samples, p.cfg.MaxRank)
		if err != nil {
			return fmt.Errorf("factorizing %s: %w", category, err)
		}

		p.logger.Info("Stem factorized", logging.Fields{
			"stem":        category,
			"rank":        decomposition.Rank,
			"error_curve": decomposition.ErrorCurve,
		})

		manifest.Factorizations = append(manifest.Factorizations, FactorizationSummary{
			Category:   category,
			Rank:       decomposition.Rank,
			ErrorCurve: decomposition.ErrorCurve,
		})

		for i, component := range decomposition.Components {
			if err := finish(category.ComponentName(i+1), AudioBuffer{Samples: component, SampleRate: buf.SampleRate}); err != nil {
				return err
			}
		}
		return nil

	default:
		return finish(string(category), buf)
	}
}

// indexSources validates stem names and maps each category to its file.
func indexSources(sources []StemSource) (map[Category]string, error) {
	paths := make(map[Category]string, len(sources))
	for _, source := range sources {
		category, err := ParseCategory(source.Name)
		if err != nil {
			return nil, err
		}
		if _, dup := paths[category]; dup {
			return nil, fmt.Errorf("%w: stem %s supplied twice", ErrInvalidConfig, category)
		}
		paths[category] = source.Path
	}
	return paths, nil
}
