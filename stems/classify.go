package stems

import (
	"cmp"
	"context"
	"slices"
)

const (
	// UnknownLabel is the label of a stem no category matched.
	UnknownLabel = "unknown"

	// rankedLabels is how many of the highest scores are searched for a
	// known instrument.
	rankedLabels = 10
)

// Classifier maps a finished audio file to label scores in [0, 1].
type Classifier interface {
	Classify(ctx context.Context, path string) (map[string]float64, error)
}

// Classification is the outcome of labelling one stem. Known is false for
// the Unknown result.
type Classification struct {
	Label       string  `json:"label"`
	SourceLabel string  `json:"source_label,omitempty"`
	Confidence  float64 `json:"confidence"`
	Known       bool    `json:"known"`
}

// Unknown is the classification of a stem that could not be labelled.
var Unknown = Classification{Label: UnknownLabel}

// instrumentCategories maps classifier labels (AudioSet ontology) to the
// instrument category reported for a stem.
var instrumentCategories = map[string]string{
	"Electric guitar": "guitar",
	"Acoustic guitar": "acoustic guitar",
	"Piano":           "piano",
	"Drum":            "drums",
	"Drum kit":        "drums",
	"Snare drum":      "snare",
	"Bass drum":       "kick",
	"Cymbal":          "cymbals",
	"Hi-hat":          "hi-hat",
	"Bass guitar":     "bass",
	"Violin, fiddle":  "strings",
	"Cello":           "strings",
	"Trumpet":         "brass",
	"Trombone":        "brass",
	"Saxophone":       "woodwinds",
	"Flute":           "woodwinds",
	"Synthesizer":     "synth",
	"Vocal music":     "vocals",
	"Choir":           "choir",
	"Male singing":    "vocals",
	"Female singing":  "vocals",
	"Opera":           "vocals",
}

// RankScores picks the highest-scoring label among the top ten that maps
// to an instrument category. Ties are broken by label so the result does
// not depend on map order.
func RankScores(scores map[string]float64) Classification {
	type scored struct {
		label string
		score float64
	}

	ranked := make([]scored, 0, len(scores))
	for label, score := range scores {
		ranked = append(ranked, scored{label, score})
	}
	slices.SortFunc(ranked, func(a, b scored) int {
		if c := cmp.Compare(b.score, a.score); c != 0 {
			return c
		}
		return cmp.Compare(a.label, b.label)
	})

	for _, s := range ranked[:min(rankedLabels, len(ranked))] {
		if category, ok := instrumentCategories[s.label]; ok {
			return Classification{
				Label:       category,
				SourceLabel: s.label,
				Confidence:  min(max(s.score, 0), 1),
				Known:       true,
			}
		}
	}
	return Unknown
}
