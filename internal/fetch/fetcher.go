// Package fetch downloads dataset archives and extracts them into a scratch
// directory.
package fetch

import (
	"context"
	"net/http"
	"path/filepath"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"sgcars-go/internal/updater"
)

const (
	// DefaultTimeout bounds one archive download.
	DefaultTimeout = 60 * time.Second

	// maxErrorBody caps how much of an error response is kept in a FetchError.
	maxErrorBody = 2048
)

// Options configures an HTTPFetcher.
type Options struct {
	// ScratchDir is the root extraction directory. Each dataset extracts
	// into its own subdirectory named after the dataset.
	ScratchDir string
	Timeout    time.Duration
	// RequestsPerSecond throttles downloads across all datasets sharing the
	// fetcher. Zero disables throttling.
	RequestsPerSecond float64
	UserAgent         string
	// HTTPClient overrides the underlying client, mainly for tests.
	HTTPClient *http.Client
}

// HTTPFetcher implements updater.Fetcher over plain HTTP GET.
type HTTPFetcher struct {
	client     *resty.Client
	limiter    *rate.Limiter
	scratchDir string
}

var _ updater.Fetcher = (*HTTPFetcher)(nil)

// NewHTTPFetcher creates a fetcher from opts.
func NewHTTPFetcher(opts Options) *HTTPFetcher {
	var client *resty.Client
	if opts.HTTPClient != nil {
		client = resty.NewWithClient(opts.HTTPClient)
	} else {
		client = resty.New()
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	client.SetTimeout(timeout)
	if opts.UserAgent != "" {
		client.SetHeader("User-Agent", opts.UserAgent)
	}

	var limiter *rate.Limiter
	if opts.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}

	return &HTTPFetcher{
		client:     client,
		limiter:    limiter,
		scratchDir: opts.ScratchDir,
	}
}

// Fetch downloads d.URL into memory, extracts it to the dataset's scratch
// directory and selects the file to process.
func (f *HTTPFetcher) Fetch(ctx context.Context, d updater.SourceDescriptor) (*updater.Download, error) {
	body, err := f.download(ctx, d.URL)
	if err != nil {
		return nil, err
	}

	dir := filepath.Join(f.scratchDir, d.Name)
	files, err := Extract(body, dir)
	if err != nil {
		return nil, err
	}

	selected, err := Select(files, d.FileName)
	if err != nil {
		return nil, err
	}

	return &updater.Download{
		Dir:      dir,
		Files:    files,
		Selected: selected,
		Archive:  body,
	}, nil
}

func (f *HTTPFetcher) download(ctx context.Context, url string) ([]byte, error) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, &updater.FetchError{URL: url, Err: err}
		}
	}

	resp, err := f.client.R().SetContext(ctx).Get(url)
	if err != nil {
		return nil, &updater.FetchError{URL: url, Err: err}
	}

	if !resp.IsSuccess() {
		body := resp.String()
		if len(body) > maxErrorBody {
			body = body[:maxErrorBody]
		}
		return nil, &updater.FetchError{URL: url, StatusCode: resp.StatusCode(), Body: body}
	}

	return resp.Body(), nil
}
