package testutil

import (
	"archive/zip"
	"bytes"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// ZipEntry is one file of an archive built by ZipArchive. A Name ending in
// "/" produces a directory entry.
type ZipEntry struct {
	Name    string
	Content string
}

// ZipArchive builds an in-memory ZIP archive holding entries in order.
func ZipArchive(t *testing.T, entries ...ZipEntry) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		w, err := zw.Create(e.Name)
		if err != nil {
			t.Fatalf("creating zip entry %s: %v", e.Name, err)
		}
		if _, err := w.Write([]byte(e.Content)); err != nil {
			t.Fatalf("writing zip entry %s: %v", e.Name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("closing zip: %v", err)
	}
	return buf.Bytes()
}

// ArchiveServer serves a replaceable archive body over HTTP.
// Safe for concurrent use.
type ArchiveServer struct {
	srv *httptest.Server

	mu       sync.Mutex
	body     []byte
	status   int
	requests int
}

// NewArchiveServer starts a server answering every GET with body.
// The server is closed when the test completes.
func NewArchiveServer(t *testing.T, body []byte) *ArchiveServer {
	t.Helper()

	s := &ArchiveServer{body: body, status: http.StatusOK}
	s.srv = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *ArchiveServer) handle(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	body, status := s.body, s.status
	s.requests++
	s.mu.Unlock()

	if status == http.StatusOK {
		w.Header().Set("Content-Type", "application/zip")
	}
	w.WriteHeader(status)
	w.Write(body)
}

// URL returns the archive URL.
func (s *ArchiveServer) URL() string {
	return s.srv.URL + "/dataset.zip"
}

// Client returns an HTTP client for the server.
func (s *ArchiveServer) Client() *http.Client {
	return s.srv.Client()
}

// SetBody replaces the served body and resets the status to 200.
func (s *ArchiveServer) SetBody(body []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.body = body
	s.status = http.StatusOK
}

// SetError makes the server answer with status and body.
func (s *ArchiveServer) SetError(status int, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
	s.body = []byte(body)
}

// Requests returns how many requests were served.
func (s *ArchiveServer) Requests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests
}
