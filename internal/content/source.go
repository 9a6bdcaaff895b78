package content

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ozturkozgurm/overorunder/internal/metrics"
	"github.com/ozturkozgurm/overorunder/internal/models"
)

// ErrNotFound means the source has no content for the requested date. This is
// a distinct state from a fetch failure and must never be conflated with one.
var ErrNotFound = errors.New("no content for date")

// maxBodySize caps a daily content file at 1 MiB.
const maxBodySize = 1 << 20

// DateKeyFormat is the layout of a daily content key.
const DateKeyFormat = "02.01.2006"

// DateKey formats t as a daily content key.
func DateKey(t time.Time) string {
	return t.Format(DateKeyFormat)
}

// Source provides the day's base content list.
type Source interface {
	Fetch(ctx context.Context, dateKey string) ([]models.ContentItem, error)
}

// HTTPSource fetches daily content files from a remote storage bucket at
// <baseURL>/<dateKey>.json.
type HTTPSource struct {
	baseURL string
	client  *http.Client
}

// NewHTTPSource builds a source over baseURL.
func NewHTTPSource(baseURL string) *HTTPSource {
	return &HTTPSource{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

// Fetch downloads and decodes the content list for dateKey. A 404 maps to
// ErrNotFound; any other failure is transient and retryable.
func (s *HTTPSource) Fetch(ctx context.Context, dateKey string) ([]models.ContentItem, error) {
	url := fmt.Sprintf("%s/%s.json", s.baseURL, dateKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("content: build request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		metrics.ContentFetchesTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("content: fetch %q: %w", dateKey, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		metrics.ContentFetchesTotal.WithLabelValues("not_found").Inc()
		return nil, fmt.Errorf("%w: %s", ErrNotFound, dateKey)
	case resp.StatusCode != http.StatusOK:
		metrics.ContentFetchesTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("content: fetch %q: unexpected status %d", dateKey, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		metrics.ContentFetchesTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("content: read %q: %w", dateKey, err)
	}

	var items []models.ContentItem
	if err := json.Unmarshal(body, &items); err != nil {
		metrics.ContentFetchesTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("content: decode %q: %w", dateKey, err)
	}

	metrics.ContentFetchesTotal.WithLabelValues("ok").Inc()
	return items, nil
}
