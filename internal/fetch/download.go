package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"wasmtoolchain/internal/registry"
	"wasmtoolchain/internal/source"
	"wasmtoolchain/internal/toolerr"
)

// download fetches src into a temp file under dir and verifies it against
// the record digest. Only a verified file path is ever returned.
func (f *Fetcher) download(ctx context.Context, rec registry.ToolRecord, src source.ResolvedSource, dir string) (string, error) {
	attempt := 0
	op := func() (string, error) {
		attempt++
		f.emit(Event{Identity: rec.Identity, Stage: StageDownloading, Origin: src.Origin, Attempt: attempt})
		return f.downloadOnce(ctx, rec, src.URL, dir)
	}

	path, err := backoff.Retry(ctx, op, f.retryOptions(rec.Identity.Key(), src.URL, &attempt)...)
	if err != nil {
		if toolerr.KindOf(err) != "" {
			return "", err
		}
		return "", toolerr.New(toolerr.KindDownloadFailed).
			Tool(rec.Identity.Name, rec.Identity.Version, string(rec.Identity.Platform)).
			URL(src.URL).
			Detail("gave up after %d attempt(s)", attempt).
			Cause(err).
			Build()
	}
	return path, nil
}

// Checksum downloads url with the same retry policy as a fetch and returns
// the hex digest of its bytes under alg. Nothing is written to the cache.
func (f *Fetcher) Checksum(ctx context.Context, url string, alg registry.DigestAlgorithm) (string, error) {
	digest := registry.Digest{Algorithm: alg}
	if _, err := digest.NewHash(); err != nil {
		return "", err
	}

	attempt := 0
	op := func() (string, error) {
		attempt++
		ctx, cancel := f.attemptContext(ctx)
		defer cancel()

		resp, err := f.get(ctx, url)
		if err != nil {
			return "", err
		}
		defer resp.Body.Close()
		return digest.Sum(resp.Body)
	}

	sum, err := backoff.Retry(ctx, op, f.retryOptions(url, url, &attempt)...)
	if err != nil {
		return "", toolerr.New(toolerr.KindDownloadFailed).
			URL(url).
			Detail("gave up after %d attempt(s)", attempt).
			Cause(err).
			Build()
	}
	return sum, nil
}

func (f *Fetcher) retryOptions(label, url string, attempt *int) []backoff.RetryOption {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = f.opts.InitialInterval
	policy.MaxInterval = f.opts.MaxInterval

	notify := func(err error, wait time.Duration) {
		f.logger.Warn("download attempt failed, retrying",
			zap.String("tool", label),
			zap.String("url", url),
			zap.Int("attempt", *attempt),
			zap.Duration("wait", wait),
			zap.Error(err))
	}
	return []backoff.RetryOption{
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(uint(f.opts.Attempts)),
		backoff.WithNotify(notify),
	}
}

// attemptContext bounds a single attempt by the configured timeout.
func (f *Fetcher) attemptContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if f.opts.Timeout > 0 {
		return context.WithTimeout(ctx, f.opts.Timeout)
	}
	return context.WithCancel(ctx)
}

// statusError is a non-2xx response.
type statusError struct {
	url    string
	status string
	code   int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("download %s: unexpected status %s", e.url, e.status)
}

// get issues one GET and returns the response only for a 2xx status. Errors
// that retrying cannot fix are wrapped with backoff.Permanent.
func (f *Fetcher) get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)

	resp, err := f.opts.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", url, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		statusErr := &statusError{url: url, status: resp.Status, code: resp.StatusCode}
		if !retryableStatus(resp.StatusCode) {
			return nil, backoff.Permanent(statusErr)
		}
		return nil, statusErr
	}
	return resp, nil
}

// downloadOnce performs one GET into a temp file and verifies it. Errors that
// retrying cannot fix are wrapped with backoff.Permanent.
func (f *Fetcher) downloadOnce(ctx context.Context, rec registry.ToolRecord, url, dir string) (string, error) {
	ctx, cancel := f.attemptContext(ctx)
	defer cancel()

	resp, err := f.get(ctx, url)
	if err != nil {
		var status *statusError
		if errors.As(err, &status) && !retryableStatus(status.code) {
			return "", backoff.Permanent(toolerr.New(toolerr.KindDownloadFailed).
				Tool(rec.Identity.Name, rec.Identity.Version, string(rec.Identity.Platform)).
				URL(url).
				Cause(status).
				Build())
		}
		return "", err
	}
	defer resp.Body.Close()

	tmp, err := os.CreateTemp(dir, "download-*.tmp")
	if err != nil {
		return "", backoff.Permanent(fmt.Errorf("create temp file: %w", err))
	}
	tmpPath := tmp.Name()
	keep := false
	defer func() {
		if !keep {
			_ = os.Remove(tmpPath)
		}
	}()

	h, err := rec.Digest.NewHash()
	if err != nil {
		tmp.Close()
		return "", backoff.Permanent(err)
	}
	body := &progressReader{r: resp.Body, total: resp.ContentLength, report: func(n, total int64) {
		f.emit(Event{Identity: rec.Identity, Stage: StageDownloading, Bytes: n, Total: total})
	}}
	if _, err := io.Copy(io.MultiWriter(tmp, h), body); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close temp file: %w", err)
	}

	f.emit(Event{Identity: rec.Identity, Stage: StageVerifying})
	actual := fmt.Sprintf("%x", h.Sum(nil))
	if !rec.Digest.Matches(actual) {
		return "", backoff.Permanent(toolerr.New(toolerr.KindChecksumMismatch).
			Tool(rec.Identity.Name, rec.Identity.Version, string(rec.Identity.Platform)).
			URL(url).
			Detail("expected %s, got %s:%s", rec.Digest, rec.Digest.Algorithm, actual).
			Build())
	}

	keep = true
	return tmpPath, nil
}

// retryableStatus reports whether an HTTP status may succeed on retry.
func retryableStatus(code int) bool {
	switch {
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests:
		return true
	case code >= 500:
		return true
	default:
		return false
	}
}

const progressStep = 256 << 10

type progressReader struct {
	r        io.Reader
	n        int64
	reported int64
	total    int64
	report   func(n, total int64)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	p.n += int64(n)
	if p.report != nil && (p.n-p.reported >= progressStep || (errors.Is(err, io.EOF) && p.n != p.reported)) {
		p.reported = p.n
		p.report(p.n, p.total)
	}
	return n, err
}
