package stems

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

var audioExtensions = []string{".mp3", ".wav", ".flac", ".ogg", ".m4a", ".aac"}

// IsAudio reports whether path has a supported audio extension.
func IsAudio(path string) bool {
	return slices.Contains(audioExtensions, strings.ToLower(filepath.Ext(path)))
}

// SongName is the base name of path without its extension.
func SongName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// ScanInputs expands path into the audio files to process. A file is
// returned as is when it is audio. A directory is searched recursively and
// its audio files are returned sorted by path.
func ScanInputs(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat input: %w", err)
	}

	if !info.IsDir() {
		if !IsAudio(path) {
			return nil, fmt.Errorf("unsupported input file: %s", path)
		}
		return []string{path}, nil
	}

	var files []string
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() && IsAudio(p) {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read input dir: %w", err)
	}

	slices.Sort(files)
	return files, nil
}
