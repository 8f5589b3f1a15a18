package fetcher

import (
	"context"
	"encoding/json"
	"io"

	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/railsense/railwatch/internal/model"
	"github.com/railsense/railwatch/internal/resilience"
)

// DefaultBaseURL is the production NS reisinformatie API.
const DefaultBaseURL = "https://gateway.apiportal.ns.nl/reisinformatie-api/api/v3"

// subscriptionHeader carries the NS API key, per the API portal docs.
const subscriptionHeader = "Ocp-Apim-Subscription-Key"

// Getter is the transport NSClient talks through. *HTTPClient satisfies it;
// tests substitute a stub.
type Getter interface {
	Get(ctx context.Context, url string, headers map[string]string) (io.ReadCloser, error)
}

// NSClient fetches the current disruption list from the NS API and keys each
// payload by its external disruption id.
type NSClient struct {
	http    Getter
	baseURL string
	apiKey  string
	retry   resilience.RetryConfig
	clock   clockwork.Clock
}

// NSOption customizes an NSClient.
type NSOption func(*NSClient)

// WithBaseURL overrides the API base URL (used by tests and mirrors).
func WithBaseURL(u string) NSOption {
	return func(c *NSClient) { c.baseURL = u }
}

// WithRetryConfig overrides the fetch retry policy.
func WithRetryConfig(cfg resilience.RetryConfig) NSOption {
	return func(c *NSClient) { c.retry = cfg }
}

// WithClock injects a clock for deterministic fetched_at timestamps in tests.
func WithClock(clk clockwork.Clock) NSOption {
	return func(c *NSClient) { c.clock = clk }
}

// NewNSClient creates a client for the NS disruptions endpoint.
func NewNSClient(http Getter, apiKey string, opts ...NSOption) *NSClient {
	c := &NSClient{
		http:    http,
		baseURL: DefaultBaseURL,
		apiKey:  apiKey,
		retry:   resilience.DefaultRetryConfig(),
		clock:   clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchDisruptions downloads the current disruption feed. The whole fetch is
// retried with backoff on transient failures; after retries are exhausted
// the error is returned and the run fails. Records without an id cannot be
// keyed into the raw layer and are skipped with a warning.
func (c *NSClient) FetchDisruptions(ctx context.Context) ([]model.RawDisruption, error) {
	if c.apiKey == "" {
		return nil, eris.New("ns: api key is required")
	}

	url := c.baseURL + "/disruptions"
	headers := map[string]string{subscriptionHeader: c.apiKey}

	cfg := c.retry
	if cfg.OnRetry == nil {
		cfg.OnRetry = resilience.RetryLogger("ns", "fetch_disruptions")
	}

	payloads, err := resilience.DoVal(ctx, cfg, func(ctx context.Context) ([]json.RawMessage, error) {
		body, err := c.http.Get(ctx, url, headers)
		if err != nil {
			return nil, err
		}
		defer body.Close() //nolint:errcheck
		return DecodeJSONArray[json.RawMessage](body)
	})
	if err != nil {
		return nil, eris.Wrap(err, "ns: fetch disruptions")
	}

	fetchedAt := c.clock.Now().UTC()
	records := make([]model.RawDisruption, 0, len(payloads))
	skipped := 0
	for _, payload := range payloads {
		var envelope struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(payload, &envelope); err != nil || envelope.ID == "" {
			skipped++
			continue
		}
		records = append(records, model.RawDisruption{
			DisruptionID: envelope.ID,
			Payload:      payload,
			FetchedAt:    fetchedAt,
		})
	}

	if skipped > 0 {
		zap.L().Warn("ns: skipped records without id", zap.Int("skipped", skipped))
	}
	zap.L().Info("ns: fetched disruptions",
		zap.Int("records", len(records)),
		zap.Time("fetched_at", fetchedAt),
	)
	return records, nil
}
