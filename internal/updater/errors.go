package updater

import (
	"fmt"
	"strings"
)

// FetchError reports a failed archive download: a transport failure (Err set)
// or a non-2xx response (StatusCode and Body set).
type FetchError struct {
	URL        string
	StatusCode int
	Body       string
	Err        error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetching %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("fetching %s: unexpected status %d: %s", e.URL, e.StatusCode, e.Body)
}

func (e *FetchError) Unwrap() error { return e.Err }

// FileNotFoundError reports that the requested file is not in the archive,
// or that no file was requested and the archive does not hold exactly one.
type FileNotFoundError struct {
	Name      string
	Available []string
}

func (e *FileNotFoundError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("archive must contain exactly one file when none is named, found [%s]", strings.Join(e.Available, ", "))
	}
	return fmt.Sprintf("file %q not found in archive, found [%s]", e.Name, strings.Join(e.Available, ", "))
}

// IOError wraps a local filesystem failure during extraction, read,
// fingerprinting or archive retention.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// ParseError reports malformed delimited data. Line is 1-based and counts the
// header row; it is 0 when the failure is not tied to a row.
type ParseError struct {
	File string
	Line int
	Err  error
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("parsing %s line %d: %v", e.File, e.Line, e.Err)
	}
	return fmt.Sprintf("parsing %s: %v", e.File, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// CacheError reports that the change cache could not be read or written.
type CacheError struct {
	Op  string
	Key string
	Err error
}

func (e *CacheError) Error() string {
	return fmt.Sprintf("change cache %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *CacheError) Unwrap() error { return e.Err }

// StoreError reports a destination store query or insert failure.
type StoreError struct {
	Op    string
	Table string
	Err   error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s %s: %v", e.Op, e.Table, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }
