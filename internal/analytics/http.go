package analytics

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

const defaultTimeout = 5 * time.Second

// HTTPSink posts events as JSON to the analytics ingestion endpoint.
type HTTPSink struct {
	endpoint string
	token    string
	client   *http.Client
	log      *zap.Logger
}

func NewHTTPSink(endpoint, token string, log *zap.Logger) *HTTPSink {
	return &HTTPSink{
		endpoint: strings.TrimRight(endpoint, "/"),
		token:    token,
		client:   &http.Client{Timeout: defaultTimeout},
		log:      log.Named("analytics.sink"),
	}
}

func (s *HTTPSink) IngestFeaturesVerification(ctx context.Context, event VerificationEvent) error {
	if event.EventID == "" {
		event.EventID = ulid.Make().String()
	}
	return s.post(ctx, "/v1/events/feature-verifications", event)
}

func (s *HTTPSink) IngestFeaturesUsage(ctx context.Context, event UsageEvent) error {
	if event.EventID == "" {
		event.EventID = ulid.Make().String()
	}
	return s.post(ctx, "/v1/events/feature-usage", event)
}

func (s *HTTPSink) GetUsageFeature(ctx context.Context, query FeatureUsageQuery) ([]FeatureUsage, error) {
	params := url.Values{}
	params.Set("project_id", query.ProjectID)
	params.Set("customer_id", query.CustomerID)
	params.Set("feature_slug", query.FeatureSlug)
	if query.Month > 0 {
		params.Set("month", strconv.Itoa(query.Month))
	}
	if query.Year > 0 {
		params.Set("year", strconv.Itoa(query.Year))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		s.endpoint+"/v1/usage/features?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	s.authorize(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSinkUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("%w: status %d", ErrSinkUnavailable, resp.StatusCode)
	}

	var usages []FeatureUsage
	if err := json.NewDecoder(resp.Body).Decode(&usages); err != nil {
		return nil, err
	}
	return usages, nil
}

func (s *HTTPSink) post(ctx context.Context, path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	s.authorize(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSinkUnavailable, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("%w: status %d", ErrSinkUnavailable, resp.StatusCode)
	}
	return nil
}

func (s *HTTPSink) authorize(req *http.Request) {
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
}
