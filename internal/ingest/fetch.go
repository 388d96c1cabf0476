package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jlaffaye/ftp"

	"github.com/lox/co2map/internal/metrics"
)

const (
	defaultFTPPort = "21"
	userAgent      = "co2map/1.0"

	// httpTimeout bounds a single attempt; the retry window is maxElapsedTime.
	httpTimeout = 30 * time.Second
)

// FetchResult describes one completed fetch for the load audit.
type FetchResult struct {
	Scheme       string
	HTTPStatus   int
	ResponseSize int
	Attempts     int
}

// Fetcher retrieves raw dataset bytes from a local path, an http(s) URL or an
// ftp URL. Transient remote failures are retried with exponential backoff.
type Fetcher struct {
	client         *http.Client
	maxElapsedTime time.Duration
	ftpTimeout     time.Duration
}

func NewFetcher() *Fetcher {
	return &Fetcher{
		client:         &http.Client{Timeout: httpTimeout},
		maxElapsedTime: 2 * time.Minute,
		ftpTimeout:     30 * time.Second,
	}
}

// WithMaxElapsedTime bounds the total retry window.
func (f *Fetcher) WithMaxElapsedTime(d time.Duration) *Fetcher {
	f.maxElapsedTime = d
	return f
}

func (f *Fetcher) Fetch(ctx context.Context, source string) ([]byte, *FetchResult, error) {
	u, err := url.Parse(source)
	if err != nil || u.Scheme == "" || len(u.Scheme) == 1 {
		// Plain paths (including Windows drive letters) are read from disk.
		return f.fetchFile(source)
	}

	result := &FetchResult{Scheme: u.Scheme}
	start := time.Now()
	var body []byte

	var operation func() error
	switch u.Scheme {
	case "http", "https":
		operation = func() error {
			result.Attempts++
			b, status, err := f.fetchHTTP(ctx, source)
			result.HTTPStatus = status
			body = b
			return err
		}
	case "ftp":
		operation = func() error {
			result.Attempts++
			b, err := f.fetchFTP(ctx, u)
			body = b
			return err
		}
	case "file":
		return f.fetchFile(u.Path)
	default:
		return nil, nil, fmt.Errorf("unsupported source scheme %q", u.Scheme)
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = f.maxElapsedTime
	err = backoff.Retry(operation, backoff.WithContext(bo, ctx))

	metrics.FetchLatency.WithLabelValues(u.Scheme).Observe(time.Since(start).Seconds())
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.FetchCallsTotal.WithLabelValues(u.Scheme, status).Inc()

	if err != nil {
		return nil, result, err
	}
	result.ResponseSize = len(body)
	return body, result, nil
}

func (f *Fetcher) fetchHTTP(ctx context.Context, source string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return nil, 0, backoff.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, 0, backoff.Permanent(ctx.Err())
		}
		return nil, 0, fmt.Errorf("fetch %s: %w", source, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, resp.StatusCode, fmt.Errorf("fetch %s: retryable status %d", source, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, resp.StatusCode, backoff.Permanent(fmt.Errorf("fetch %s: status %d: %s", source, resp.StatusCode, string(b)))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read body: %w", err)
	}
	return body, resp.StatusCode, nil
}

func (f *Fetcher) fetchFTP(ctx context.Context, u *url.URL) ([]byte, error) {
	host := u.Host
	if u.Port() == "" {
		host = u.Hostname() + ":" + defaultFTPPort
	}

	conn, err := ftp.Dial(host, ftp.DialWithTimeout(f.ftpTimeout), ftp.DialWithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("ftp dial: %w", err)
	}
	defer conn.Quit()

	user, pass := "anonymous", "anonymous"
	if u.User != nil {
		user = u.User.Username()
		if p, ok := u.User.Password(); ok {
			pass = p
		}
	}
	if err := conn.Login(user, pass); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("ftp login: %w", err))
	}

	resp, err := conn.Retr(u.Path)
	if err != nil {
		return nil, fmt.Errorf("ftp retr: %w", err)
	}
	defer resp.Close()

	body, err := io.ReadAll(resp)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

func (f *Fetcher) fetchFile(path string) ([]byte, *FetchResult, error) {
	body, err := os.ReadFile(path)
	result := &FetchResult{Scheme: "file", Attempts: 1}
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.FetchCallsTotal.WithLabelValues("file", status).Inc()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, result, fmt.Errorf("dataset file %s does not exist", strconv.Quote(path))
		}
		return nil, result, fmt.Errorf("read %s: %w", path, err)
	}
	result.ResponseSize = len(body)
	return body, result, nil
}
