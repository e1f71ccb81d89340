package stems

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// StemRecord describes one finished stem.
type StemRecord struct {
	Name       string   `json:"name"`
	Category   Category `json:"category"`
	Path       string   `json:"path"`
	Label      string   `json:"label"`
	Confidence float64  `json:"confidence"`
	Classified bool     `json:"classified"`

	SampleRate   int           `json:"sample_rate"`
	Samples      int           `json:"samples"`
	Duration     time.Duration `json:"duration"`
	LoudnessLUFS *float64      `json:"loudness_lufs,omitempty"` // before normalization
	Encoded      bool          `json:"encoded"`
}

// FactorizationSummary records the rank search for one factorized stem.
type FactorizationSummary struct {
	Category   Category  `json:"category"`
	Rank       int       `json:"rank"`
	ErrorCurve []float64 `json:"error_curve"`
}

// Manifest is the ordered result of one pipeline run. Stems appear in
// processing order.
type Manifest struct {
	Song           string                 `json:"song,omitempty"`
	Dir            string                 `json:"dir"`
	Stems          []StemRecord           `json:"stems"`
	Factorizations []FactorizationSummary `json:"factorizations,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`

	names map[string]struct{}
}

// NewManifest creates an empty manifest for a working directory.
func NewManifest(song, dir string) *Manifest {
	return &Manifest{
		Song:      song,
		Dir:       dir,
		Stems:     []StemRecord{},
		CreatedAt: time.Now().UTC(),
		names:     make(map[string]struct{}),
	}
}

// Append adds a record, rejecting a name already present.
func (m *Manifest) Append(record StemRecord) error {
	if m.names == nil {
		m.names = make(map[string]struct{})
		for _, r := range m.Stems {
			m.names[r.Name] = struct{}{}
		}
	}
	if _, ok := m.names[record.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateStem, record.Name)
	}
	m.names[record.Name] = struct{}{}
	m.Stems = append(m.Stems, record)
	return nil
}

// Names returns the stem names in order.
func (m *Manifest) Names() []string {
	names := make([]string, len(m.Stems))
	for i, r := range m.Stems {
		names[i] = r.Name
	}
	return names
}

// WriteJSON writes the manifest as indented JSON, replacing path.
func (m *Manifest) WriteJSON(path string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}
