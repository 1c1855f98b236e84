package lhex

import (
	"context"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	units "github.com/docker/go-units"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/box-builder/lhex/progress"
)

// Downloader fetches url into the file at dest.
type Downloader interface {
	Download(ctx context.Context, url, dest string) error
}

// HTTPDownloader downloads over HTTP(S) and logs progress every Interval.
type HTTPDownloader struct {
	Client   *http.Client
	Interval time.Duration
	Log      logrus.FieldLogger
}

// NewHTTPDownloader returns a downloader using http.DefaultClient.
func NewHTTPDownloader(log logrus.FieldLogger) *HTTPDownloader {
	return &HTTPDownloader{
		Client:   http.DefaultClient,
		Interval: 2 * time.Second,
		Log:      log,
	}
}

// Download streams the response body for url into dest. Non-2xx responses
// and empty bodies are errors.
func (h *HTTPDownloader) Download(ctx context.Context, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return wrapKind(ErrNetwork, err, "invalid url %q", url)
	}

	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return wrapKind(ErrNetwork, err, "cannot fetch %v", url)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return wrapKind(ErrNetwork, errors.Errorf("server returned %v", resp.Status), "cannot fetch %v", url)
	}

	if resp.ContentLength == 0 {
		return wrapKind(ErrNetwork, ErrEmptyBody, "cannot fetch %v", url)
	}

	f, err := os.Create(dest)
	if err != nil {
		return wrapKind(ErrNetwork, err, "cannot write to %v", dest)
	}
	defer f.Close()

	n, err := h.copy(f, resp.Body, dest, resp.ContentLength)
	if err != nil {
		return wrapKind(ErrNetwork, err, "cannot write to %v", dest)
	}

	if n == 0 {
		return wrapKind(ErrNetwork, ErrEmptyBody, "cannot fetch %v", url)
	}

	return errors.Wrapf(f.Close(), "cannot write to %v", dest)
}

func (h *HTTPDownloader) copy(w io.Writer, body io.Reader, dest string, total int64) (int64, error) {
	if h.Log == nil || h.Interval <= 0 {
		return io.Copy(w, body)
	}

	pr := progress.NewReader(dest, body, h.Interval)
	defer pr.Close()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for tick := range pr.C {
			entry := h.Log.WithField("file", tick.Artifact)
			if total > 0 {
				entry.Infof("downloaded %s of %s", units.HumanSize(float64(tick.Count)), units.HumanSize(float64(total)))
			} else {
				entry.Infof("downloaded %s", units.HumanSize(float64(tick.Count)))
			}
		}
	}()

	n, err := io.Copy(w, pr)
	pr.Close()
	wg.Wait()

	return n, err
}
