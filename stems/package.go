package stems

import (
	"archive/zip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// ArchiveName returns the default archive file name for a song.
func ArchiveName(song string) string {
	return song + "-autostems.zip"
}

// Package zips every regular file under dir into zipPath. Entry names keep
// dir's own name as their first element ("<song>/vocals.mp3") and use
// forward slashes. zipPath itself is skipped when it lives inside dir.
func Package(dir, zipPath string) error {
	absZip, err := filepath.Abs(zipPath)
	if err != nil {
		return fmt.Errorf("failed to resolve archive path: %w", err)
	}

	parent := filepath.Dir(filepath.Clean(dir))

	out, err := os.Create(zipPath)
	if err != nil {
		return fmt.Errorf("failed to create archive: %w", err)
	}
	defer out.Close()

	zw := zip.NewWriter(out)

	walkErr := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if abs, err := filepath.Abs(path); err == nil && abs == absZip {
			return nil
		}

		rel, err := filepath.Rel(parent, path)
		if err != nil {
			return err
		}
		return addFile(zw, path, filepath.ToSlash(rel))
	})
	if walkErr != nil {
		zw.Close()
		return fmt.Errorf("failed to package %s: %w", dir, walkErr)
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to finish archive: %w", err)
	}
	return out.Close()
}

func addFile(zw *zip.Writer, path, name string) error {
	in, err := os.Open(path)
	if err != nil {
		return err
	}
	defer in.Close()

	w, err := zw.Create(name)
	if err != nil {
		return err
	}
	_, err = io.Copy(w, in)
	return err
}
