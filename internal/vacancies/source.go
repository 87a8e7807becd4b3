// Package vacancies fetches job vacancies from the recruiting API, keeps a
// stale-tolerant cache of them and renders them for the AI system prompt.
package vacancies

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Source is a read-only upstream of vacancy records.
type Source interface {
	Fetch(ctx context.Context) ([]Record, error)
}

// HTTPSource fetches vacancies from a JSON endpoint.
type HTTPSource struct {
	url        string
	userAgent  string
	httpClient *http.Client
}

// NewHTTPSource creates a source for the given endpoint.
func NewHTTPSource(url, userAgent string) *HTTPSource {
	if userAgent == "" {
		userAgent = "vacancy-bridge/1.0"
	}
	return &HTTPSource{
		url:       url,
		userAgent: userAgent,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Fetch performs a single GET and decodes the payload.
func (s *HTTPSource) Fetch(ctx context.Context) ([]Record, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", s.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch vacancies: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("read vacancies: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch vacancies: HTTP %d", resp.StatusCode)
	}
	return decodeRecords(body)
}
