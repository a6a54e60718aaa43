// Package geocode resolves street addresses to coordinates through a
// Google Geocoding compatible HTTP API. Lookups are cached per address and
// throttled with a token bucket.
package geocode

import (
	"context"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"github.com/hearthline/migrator/internal/errors"
	"github.com/hearthline/migrator/internal/httpclient"
	"github.com/hearthline/migrator/internal/logger"
)

// ErrNoResults is returned when the service finds nothing for an address.
var ErrNoResults = errors.NewStd("no geocoding results")

const (
	DefaultEndpoint = "https://maps.googleapis.com/maps/api/geocode/json"

	defaultTimeout  = 10 * time.Second
	defaultCacheTTL = 24 * time.Hour
	defaultRPS      = 10.0
)

// Point is a WGS84 coordinate.
type Point struct {
	Lng float64
	Lat float64
}

// Geocoder turns an address into a Point.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (Point, error)
}

// Config configures a Client.
type Config struct {
	Endpoint          string
	APIKey            string
	Region            string
	Timeout           time.Duration
	CacheTTL          time.Duration
	RequestsPerSecond float64
	Logger            logger.Logger

	// HTTPConfig overrides the HTTP client settings, used by tests to inject a transport.
	HTTPConfig *httpclient.Config
}

// Stats counts lookups since the client was created.
type Stats struct {
	Requests  int64
	CacheHits int64
	NoResults int64
	Failures  int64
}

// Client implements Geocoder.
type Client struct {
	endpoint string
	apiKey   string
	region   string
	http     *httpclient.Client
	cache    *cache.Cache
	limiter  *rate.Limiter
	logger   logger.Logger

	requests  atomic.Int64
	cacheHits atomic.Int64
	noResults atomic.Int64
	failures  atomic.Int64
}

type apiResponse struct {
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message"`
	Results      []struct {
		FormattedAddress string `json:"formatted_address"`
		Geometry         struct {
			Location struct {
				Lat float64 `json:"lat"`
				Lng float64 `json:"lng"`
			} `json:"location"`
		} `json:"geometry"`
	} `json:"results"`
}

// cachedMiss marks an address the service had no results for.
type cachedMiss struct{}

// New returns a Client. An API key is required unless the endpoint is
// overridden, so self-hosted compatible services can run without one.
func New(cfg Config) (*Client, error) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.APIKey == "" && cfg.Endpoint == DefaultEndpoint {
		return nil, errors.Newf("geocoding API key is required").
			Component("geocode").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = defaultCacheTTL
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = defaultRPS
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewSlogLogger(nil, logger.LogLevelInfo, nil)
	}

	httpCfg := httpclient.DefaultConfig()
	if cfg.HTTPConfig != nil {
		httpCfg = *cfg.HTTPConfig
	}
	httpCfg.DefaultTimeout = cfg.Timeout

	return &Client{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		region:   cfg.Region,
		http:     httpclient.New(&httpCfg),
		cache:    cache.New(cfg.CacheTTL, 2*cfg.CacheTTL),
		limiter:  rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		logger:   cfg.Logger,
	}, nil
}

// Geocode implements Geocoder.
func (c *Client) Geocode(ctx context.Context, address string) (Point, error) {
	key := normalizeAddress(address)
	if key == "" {
		return Point{}, errors.Newf("empty address").
			Component("geocode").
			Category(errors.CategoryValidation).
			Build()
	}

	if cached, found := c.cache.Get(key); found {
		c.cacheHits.Add(1)
		switch v := cached.(type) {
		case Point:
			return v, nil
		case cachedMiss:
			return Point{}, c.noResultError(address, "cached")
		}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return Point{}, errors.New(err).
			Component("geocode").
			Category(errors.CategoryCancellation).
			Build()
	}

	c.requests.Add(1)
	start := time.Now()
	resp, err := c.http.Get(ctx, c.requestURL(address))
	if err != nil {
		c.failures.Add(1)
		// The request URL carries the API key.
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			urlErr.URL = c.endpoint
		}
		return Point{}, errors.Newf("geocode request: %w", err).
			Component("geocode").
			Category(errors.CategoryNetwork).
			NetworkContext(c.endpoint, 0).
			Timing("geocode", time.Since(start)).
			Build()
	}

	var body apiResponse
	if err := httpclient.DecodeJSON(resp, &body); err != nil {
		c.failures.Add(1)
		return Point{}, errors.Newf("geocode response: %w", err).
			Component("geocode").
			Category(errors.CategoryGeocoding).
			Timing("geocode", time.Since(start)).
			Build()
	}

	switch body.Status {
	case "OK":
	case "ZERO_RESULTS":
		c.cache.Set(key, cachedMiss{}, cache.DefaultExpiration)
		return Point{}, c.noResultError(address, body.Status)
	default:
		c.failures.Add(1)
		msg := body.Status
		if body.ErrorMessage != "" {
			msg += ": " + body.ErrorMessage
		}
		category := errors.CategoryGeocoding
		if body.Status == "REQUEST_DENIED" {
			category = errors.CategoryAuthentication
		}
		return Point{}, errors.Newf("geocoding service returned %s", msg).
			Component("geocode").
			Category(category).
			Context("status", body.Status).
			Build()
	}

	if len(body.Results) == 0 {
		c.cache.Set(key, cachedMiss{}, cache.DefaultExpiration)
		return Point{}, c.noResultError(address, body.Status)
	}

	loc := body.Results[0].Geometry.Location
	point := Point{Lng: loc.Lng, Lat: loc.Lat}
	c.cache.Set(key, point, cache.DefaultExpiration)

	c.logger.Debug("address geocoded",
		logger.String("formatted", body.Results[0].FormattedAddress),
		logger.Float64("lat", point.Lat),
		logger.Float64("lng", point.Lng),
		logger.Duration("elapsed", time.Since(start)))

	return point, nil
}

// Stats returns lookup counters.
func (c *Client) Stats() Stats {
	return Stats{
		Requests:  c.requests.Load(),
		CacheHits: c.cacheHits.Load(),
		NoResults: c.noResults.Load(),
		Failures:  c.failures.Load(),
	}
}

// Close releases idle connections and drops the cache.
func (c *Client) Close() {
	c.cache.Flush()
	c.http.Close()
}

func (c *Client) requestURL(address string) string {
	q := url.Values{}
	q.Set("address", address)
	if c.apiKey != "" {
		q.Set("key", c.apiKey)
	}
	if c.region != "" {
		q.Set("region", c.region)
	}
	sep := "?"
	if strings.Contains(c.endpoint, "?") {
		sep = "&"
	}
	return c.endpoint + sep + q.Encode()
}

func (c *Client) noResultError(address, status string) error {
	c.noResults.Add(1)
	return errors.Newf("%w for %q", ErrNoResults, address).
		Component("geocode").
		Category(errors.CategoryGeocoding).
		Context("status", status).
		Build()
}

// normalizeAddress folds whitespace and case so equivalent addresses share a cache entry.
func normalizeAddress(address string) string {
	return strings.ToLower(strings.Join(strings.Fields(address), " "))
}
