// Package geocoder resolves free-text addresses through the Google Geocoding API.
package geocoder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/tvdoutor/screenfinder/internal/core/domain"
	"github.com/tvdoutor/screenfinder/internal/pkg/metrics"
)

// DefaultBaseURL is the Geocoding API JSON endpoint.
const DefaultBaseURL = "https://maps.googleapis.com/maps/api/geocode/json"

// Google implements ports.Geocoder.
type Google struct {
	apiKey   string
	baseURL  string
	region   string
	language string
	timeout  time.Duration
	client   *http.Client
	limiter  *rate.Limiter
	logger   *slog.Logger
}

// Option configures a Google geocoder.
type Option func(*Google)

// WithBaseURL points the client at another endpoint, e.g. a test server.
func WithBaseURL(u string) Option { return func(g *Google) { g.baseURL = u } }

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option { return func(g *Google) { g.client = c } }

// WithRegion biases results towards a ccTLD region code such as "br".
func WithRegion(r string) Option { return func(g *Google) { g.region = r } }

// WithLanguage sets the language of formatted addresses.
func WithLanguage(l string) Option { return func(g *Google) { g.language = l } }

// WithTimeout bounds each call.
func WithTimeout(d time.Duration) Option { return func(g *Google) { g.timeout = d } }

// WithRateLimit caps outbound requests per second. Zero disables the limit.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(g *Google) {
		if perSecond <= 0 {
			g.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(g *Google) { g.logger = l } }

// NewGoogle creates a geocoder. An empty apiKey is accepted; every call then
// fails with domain.ErrConfiguration without touching the network.
func NewGoogle(apiKey string, opts ...Option) *Google {
	g := &Google{
		apiKey:  strings.TrimSpace(apiKey),
		baseURL: DefaultBaseURL,
		timeout: 5 * time.Second,
		client:  &http.Client{Transport: http.DefaultTransport},
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

type googleResponse struct {
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message"`
	Results      []struct {
		FormattedAddress string `json:"formatted_address"`
		PlaceID          string `json:"place_id"`
		Geometry         struct {
			Location struct {
				Lat float64 `json:"lat"`
				Lng float64 `json:"lng"`
			} `json:"location"`
		} `json:"geometry"`
	} `json:"results"`
}

// Geocode resolves address to a single best-match coordinate. Exactly one
// outbound request is made per call.
func (g *Google) Geocode(ctx context.Context, address string) (*domain.GeocodeResult, error) {
	address = strings.TrimSpace(address)
	start := time.Now()

	res, err := g.geocode(ctx, address)

	outcome := "ok"
	if err != nil {
		outcome = outcomeLabel(err)
		g.logger.Debug("geocode failed", "address", address, "outcome", outcome, "error", err)
	}
	metrics.GeocodeRequests.WithLabelValues(outcome).Inc()
	metrics.GeocodeDuration.Observe(time.Since(start).Seconds())
	return res, err
}

func (g *Google) geocode(ctx context.Context, address string) (*domain.GeocodeResult, error) {
	if address == "" {
		return nil, g.fail(domain.ErrInvalidInput, address, nil)
	}
	if g.apiKey == "" {
		return nil, g.fail(domain.ErrConfiguration, address, eris.New("geocoder api key is not set"))
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, g.fail(domain.ErrProviderUnavailable, address, eris.Wrap(err, "rate limiter"))
		}
	}

	q := url.Values{}
	q.Set("address", address)
	q.Set("key", g.apiKey)
	if g.region != "" {
		q.Set("region", g.region)
	}
	if g.language != "" {
		q.Set("language", g.language)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, g.fail(domain.ErrConfiguration, address, eris.Wrap(err, "build request"))
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, g.fail(domain.ErrProviderUnavailable, address, eris.Wrap(redact(err), "geocode request"))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, g.fail(domain.ErrConfiguration, address, eris.Errorf("http status %d", resp.StatusCode))
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return nil, g.fail(domain.ErrProviderUnavailable, address, eris.Errorf("http status %d", resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		return nil, g.fail(domain.ErrProviderUnavailable, address, eris.Errorf("unexpected http status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, g.fail(domain.ErrProviderUnavailable, address, eris.Wrap(err, "read response"))
	}

	var gr googleResponse
	if err := json.Unmarshal(body, &gr); err != nil {
		return nil, g.fail(domain.ErrProviderUnavailable, address, eris.Wrap(err, "decode response"))
	}

	switch gr.Status {
	case "OK":
	case "ZERO_RESULTS":
		return nil, g.fail(domain.ErrNoMatch, address, nil)
	case "REQUEST_DENIED":
		return nil, g.fail(domain.ErrConfiguration, address, eris.New(statusMessage(gr)))
	case "INVALID_REQUEST":
		return nil, g.fail(domain.ErrInvalidInput, address, eris.New(statusMessage(gr)))
	default: // OVER_QUERY_LIMIT, OVER_DAILY_LIMIT, UNKNOWN_ERROR
		return nil, g.fail(domain.ErrProviderUnavailable, address, eris.New(statusMessage(gr)))
	}

	if len(gr.Results) == 0 {
		return nil, g.fail(domain.ErrNoMatch, address, nil)
	}

	best := gr.Results[0]
	result := &domain.GeocodeResult{
		Coordinate: domain.Coordinate{
			Lat: best.Geometry.Location.Lat,
			Lng: best.Geometry.Location.Lng,
		},
		FormattedAddress: best.FormattedAddress,
		PlaceID:          best.PlaceID,
	}
	if err := result.Coordinate.Validate(); err != nil {
		return nil, g.fail(domain.ErrProviderUnavailable, address, eris.Wrap(err, "provider returned bad coordinate"))
	}
	return result, nil
}

func (g *Google) fail(kind error, address string, cause error) error {
	return &domain.GeocodeError{Kind: kind, Address: address, Err: cause}
}

func statusMessage(gr googleResponse) string {
	if gr.ErrorMessage != "" {
		return gr.Status + ": " + gr.ErrorMessage
	}
	return gr.Status
}

// redact strips the query string, which carries the API key, from transport errors.
func redact(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		u := ue.URL
		if i := strings.IndexByte(u, '?'); i >= 0 {
			u = u[:i]
		}
		return fmt.Errorf("%s %s: %w", ue.Op, u, ue.Err)
	}
	return err
}

func outcomeLabel(err error) string {
	switch {
	case errors.Is(err, domain.ErrNoMatch):
		return "no_match"
	case errors.Is(err, domain.ErrConfiguration):
		return "configuration"
	case errors.Is(err, domain.ErrInvalidInput):
		return "invalid_input"
	default:
		return "unavailable"
	}
}
