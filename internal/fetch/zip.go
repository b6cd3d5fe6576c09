package fetch

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"sgcars-go/internal/updater"
)

// Extract writes every non-directory entry of the ZIP archive in data to dir,
// overwriting files left by earlier runs. It returns the entry names in
// archive order, slash-separated and relative to dir.
func Extract(data []byte, dir string) ([]string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, &updater.IOError{Op: "open archive", Path: dir, Err: err}
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, &updater.IOError{Op: "create scratch directory", Path: dir, Err: err}
	}

	var names []string
	for _, zf := range zr.File {
		if zf.FileInfo().IsDir() || strings.HasSuffix(zf.Name, "/") {
			continue
		}

		name, err := entryName(zf.Name)
		if err != nil {
			return nil, &updater.IOError{Op: "extract", Path: zf.Name, Err: err}
		}

		dest := filepath.Join(dir, filepath.FromSlash(name))
		if err := extractFile(zf, dest); err != nil {
			return nil, &updater.IOError{Op: "extract", Path: dest, Err: err}
		}
		names = append(names, name)
	}

	return names, nil
}

// entryName cleans an archive entry name and rejects names that would land
// outside the extraction directory.
func entryName(raw string) (string, error) {
	name := path.Clean(strings.ReplaceAll(raw, "\\", "/"))
	if path.IsAbs(name) || name == ".." || strings.HasPrefix(name, "../") || name == "." {
		return "", fmt.Errorf("illegal entry name %q", raw)
	}
	return name, nil
}

// extractFile writes one entry using a temp file and rename so a reader never
// sees a partially written file.
func extractFile(zf *zip.File, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return err
	}

	rc, err := zf.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".extract-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := io.Copy(tmp, rc); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		return err
	}

	success = true
	return nil
}

// Select picks the entry to process. A non-empty want matches an entry whose
// base name, without extension, equals want's. An empty want is accepted only
// when the archive holds exactly one file.
func Select(files []string, want string) (string, error) {
	if want == "" {
		if len(files) == 1 {
			return files[0], nil
		}
		return "", &updater.FileNotFoundError{Available: files}
	}

	target := stem(want)
	for _, f := range files {
		if stem(f) == target {
			return f, nil
		}
	}
	return "", &updater.FileNotFoundError{Name: want, Available: files}
}

func stem(name string) string {
	base := path.Base(strings.ReplaceAll(name, "\\", "/"))
	return strings.TrimSuffix(base, path.Ext(base))
}
