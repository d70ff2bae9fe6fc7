package fetcher

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/IliaW/sitemap-intel/internal/telemetry"
	"github.com/klauspost/compress/gzip"
	"golang.org/x/time/rate"
)

var (
	ErrNotFound = errors.New("document not found")
	ErrTimeout  = errors.New("fetch timed out")
	ErrFetch    = errors.New("fetch failed")
)

type Status int

const (
	StatusOK Status = iota
	StatusNotFound
	StatusTimeout
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusNotFound:
		return "not_found"
	case StatusTimeout:
		return "timeout"
	default:
		return "error"
	}
}

// Result is the outcome of a single GET. Body is set only for StatusOK.
type Result struct {
	URL        string
	Status     Status
	StatusCode int
	Body       []byte
	Cause      error
}

func (r *Result) OK() bool {
	return r.Status == StatusOK
}

// Err returns nil for a successful fetch and a *FetchError otherwise.
func (r *Result) Err() error {
	if r.Status == StatusOK {
		return nil
	}
	return &FetchError{URL: r.URL, Status: r.Status, StatusCode: r.StatusCode, Cause: r.Cause}
}

type FetchError struct {
	URL        string
	Status     Status
	StatusCode int
	Cause      error
}

func (e *FetchError) Error() string {
	msg := fmt.Sprintf("fetch %s: %s", e.URL, e.Status)
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status code %d)", msg, e.StatusCode)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %s", msg, e.Cause.Error())
	}
	return msg
}

func (e *FetchError) Unwrap() []error {
	var kind error
	switch e.Status {
	case StatusNotFound:
		kind = ErrNotFound
	case StatusTimeout:
		kind = ErrTimeout
	default:
		kind = ErrFetch
	}
	if e.Cause != nil {
		return []error{kind, e.Cause}
	}
	return []error{kind}
}

// DocumentFetcher is the only network primitive of the pipeline.
type DocumentFetcher interface {
	Fetch(ctx context.Context, url string, timeout time.Duration) *Result
	// FetchEntry must see the response start within responseTimeout; the whole document may
	// take up to timeout.
	FetchEntry(ctx context.Context, url string, responseTimeout, timeout time.Duration) *Result
}

type Fetcher struct {
	client      *http.Client
	rateLimiter *rate.Limiter
	userAgent   string
	maxBytes    int64
	metrics     *telemetry.FetchMetrics
}

type Option func(*Fetcher)

// WithRateLimiter shares one limiter across every worker using the fetcher.
func WithRateLimiter(l *rate.Limiter) Option {
	return func(f *Fetcher) { f.rateLimiter = l }
}

func WithMaxBytes(n int64) Option {
	return func(f *Fetcher) { f.maxBytes = n }
}

func WithMetrics(m *telemetry.FetchMetrics) Option {
	return func(f *Fetcher) { f.metrics = m }
}

func New(client *http.Client, userAgent string, opts ...Option) *Fetcher {
	f := &Fetcher{
		client:    client,
		userAgent: userAgent,
		maxBytes:  50 << 20,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch issues a single GET bounded by timeout. There is no retry: a failure is reported
// in the result and the caller decides at which scope to skip it.
func (f *Fetcher) Fetch(ctx context.Context, url string, timeout time.Duration) *Result {
	return f.get(ctx, url, 0, timeout)
}

// FetchEntry probes url with the short responseTimeout and downloads a found document under
// the longer timeout, in a single request.
func (f *Fetcher) FetchEntry(ctx context.Context, url string, responseTimeout, timeout time.Duration) *Result {
	return f.get(ctx, url, responseTimeout, max(timeout, responseTimeout))
}

func (f *Fetcher) get(ctx context.Context, url string, responseTimeout, timeout time.Duration) *Result {
	res := f.fetch(ctx, url, responseTimeout, timeout)
	f.record(res)
	if res.OK() {
		slog.Debug("document fetched.", slog.String("url", url), slog.Int("size", len(res.Body)))
	} else {
		slog.Debug("document fetch failed.", slog.String("url", url), slog.String("status", res.Status.String()),
			slog.Int("status code", res.StatusCode))
	}
	return res
}

func (f *Fetcher) fetch(ctx context.Context, url string, responseTimeout, timeout time.Duration) *Result {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if f.rateLimiter != nil {
		if err := f.rateLimiter.Wait(ctx); err != nil {
			return failure(url, 0, err)
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var waiting *time.Timer
	if responseTimeout > 0 {
		waiting = time.AfterFunc(responseTimeout, cancel)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return &Result{URL: url, Status: StatusError, Cause: err}
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "application/xml,text/xml;q=0.9,*/*;q=0.8")

	resp, err := f.client.Do(req)
	if waiting != nil && !waiting.Stop() {
		if err == nil {
			_ = resp.Body.Close()
		}
		return &Result{URL: url, Status: StatusTimeout,
			Cause: fmt.Errorf("no response within %s: %w", responseTimeout, context.DeadlineExceeded)}
	}
	if err != nil {
		return failure(url, 0, err)
	}
	defer func() {
		if err = resp.Body.Close(); err != nil {
			slog.Warn("failed to close the response body.", slog.String("err", err.Error()))
		}
	}()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return &Result{URL: url, Status: StatusNotFound, StatusCode: resp.StatusCode}
	case !isSuccess(resp.StatusCode):
		return &Result{URL: url, Status: StatusError, StatusCode: resp.StatusCode}
	}

	body, err := readBody(resp.Body, f.maxBytes)
	if err != nil {
		return failure(url, resp.StatusCode, err)
	}
	return &Result{URL: url, Status: StatusOK, StatusCode: resp.StatusCode, Body: body}
}

func (f *Fetcher) record(res *Result) {
	if f.metrics == nil || f.metrics.FetchCnt == nil {
		return
	}
	f.metrics.FetchCnt(res.Status.String(), 1)
}

func failure(url string, code int, err error) *Result {
	if isTimeout(err) {
		return &Result{URL: url, Status: StatusTimeout, StatusCode: code, Cause: err}
	}
	return &Result{URL: url, Status: StatusError, StatusCode: code, Cause: err}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// readBody reads at most maxBytes and transparently inflates gzip payloads (.xml.gz sitemaps
// are often served without a Content-Encoding header).
func readBody(r io.Reader, maxBytes int64) ([]byte, error) {
	br := bufio.NewReader(io.LimitReader(r, maxBytes))
	magic, _ := br.Peek(2)
	if len(magic) == 2 && magic[0] == 0x1f && magic[1] == 0x8b {
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("failed to open gzip body: %w", err)
		}
		defer zr.Close()
		var buf bytes.Buffer
		if _, err = io.Copy(&buf, io.LimitReader(zr, maxBytes)); err != nil {
			return nil, fmt.Errorf("failed to inflate gzip body: %w", err)
		}
		return buf.Bytes(), nil
	}
	return io.ReadAll(br)
}

func isSuccess(statusCode int) bool {
	return statusCode >= 200 && statusCode < 300
}
