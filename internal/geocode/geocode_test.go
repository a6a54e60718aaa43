package geocode

import (
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearthline/migrator/internal/errors"
	"github.com/hearthline/migrator/internal/httpclient"
	"github.com/hearthline/migrator/internal/logger"
)

const testEndpoint = "https://geo.test/maps/api/geocode/json"

func newTestClient(t *testing.T) (*Client, *httpmock.MockTransport) {
	t.Helper()
	transport := httpmock.NewMockTransport()
	client, err := New(Config{
		Endpoint:          testEndpoint,
		APIKey:            "k-123",
		Region:            "us",
		RequestsPerSecond: 1000,
		Logger:            logger.NewSlogLogger(io.Discard, logger.LogLevelError, time.UTC),
		HTTPConfig:        &httpclient.Config{Transport: transport},
	})
	require.NoError(t, err)
	t.Cleanup(client.Close)
	return client, transport
}

func okBody(lat, lng float64) map[string]any {
	return map[string]any{
		"status": "OK",
		"results": []map[string]any{{
			"formatted_address": "1 Main St, Austin, TX",
			"geometry":          map[string]any{"location": map[string]any{"lat": lat, "lng": lng}},
		}},
	}
}

func TestNew_RequiresKeyForDefaultEndpoint(t *testing.T) {
	t.Parallel()

	_, err := New(Config{})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))

	_, err = New(Config{Endpoint: "http://nominatim.local/geocode"})
	require.NoError(t, err)
}

func TestGeocode_Success(t *testing.T) {
	t.Parallel()

	client, transport := newTestClient(t)
	transport.RegisterResponder(http.MethodGet, testEndpoint,
		func(req *http.Request) (*http.Response, error) {
			q := req.URL.Query()
			assert.Equal(t, "1 Main St, Austin, TX", q.Get("address"))
			assert.Equal(t, "k-123", q.Get("key"))
			assert.Equal(t, "us", q.Get("region"))
			return httpmock.NewJsonResponse(http.StatusOK, okBody(30.27, -97.74))
		})

	p, err := client.Geocode(t.Context(), "1 Main St, Austin, TX")
	require.NoError(t, err)
	assert.InDelta(t, -97.74, p.Lng, 1e-9)
	assert.InDelta(t, 30.27, p.Lat, 1e-9)
}

func TestGeocode_CachesByNormalizedAddress(t *testing.T) {
	t.Parallel()

	client, transport := newTestClient(t)
	transport.RegisterResponder(http.MethodGet, testEndpoint,
		httpmock.NewJsonResponderOrPanic(http.StatusOK, okBody(1, 2)))

	_, err := client.Geocode(t.Context(), "1 Main St")
	require.NoError(t, err)
	_, err = client.Geocode(t.Context(), "  1  MAIN st ")
	require.NoError(t, err)

	assert.Equal(t, 1, transport.GetTotalCallCount())
	stats := client.Stats()
	assert.Equal(t, int64(1), stats.Requests)
	assert.Equal(t, int64(1), stats.CacheHits)
}

func TestGeocode_NoResults(t *testing.T) {
	t.Parallel()

	client, transport := newTestClient(t)
	transport.RegisterResponder(http.MethodGet, testEndpoint,
		httpmock.NewJsonResponderOrPanic(http.StatusOK, map[string]any{"status": "ZERO_RESULTS", "results": []any{}}))

	_, err := client.Geocode(t.Context(), "@@@ nowhere")
	require.ErrorIs(t, err, ErrNoResults)
	assert.True(t, errors.IsCategory(err, errors.CategoryGeocoding))

	_, err = client.Geocode(t.Context(), "@@@ nowhere")
	require.ErrorIs(t, err, ErrNoResults, "misses are cached too")
	assert.Equal(t, 1, transport.GetTotalCallCount())
	assert.Equal(t, int64(2), client.Stats().NoResults)
}

func TestGeocode_ServiceErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		status   int
		body     any
		category errors.ErrorCategory
	}{
		{
			name:     "request denied",
			status:   http.StatusOK,
			body:     map[string]any{"status": "REQUEST_DENIED", "error_message": "The provided API key is invalid."},
			category: errors.CategoryAuthentication,
		},
		{
			name:     "over quota",
			status:   http.StatusOK,
			body:     map[string]any{"status": "OVER_QUERY_LIMIT"},
			category: errors.CategoryGeocoding,
		},
		{
			name:     "server error",
			status:   http.StatusBadGateway,
			body:     map[string]any{},
			category: errors.CategoryGeocoding,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			client, transport := newTestClient(t)
			transport.RegisterResponder(http.MethodGet, testEndpoint,
				httpmock.NewJsonResponderOrPanic(tt.status, tt.body))

			_, err := client.Geocode(t.Context(), "1 Main St")
			require.Error(t, err)
			assert.NotErrorIs(t, err, ErrNoResults)
			assert.True(t, errors.IsCategory(err, tt.category))
			assert.Equal(t, int64(1), client.Stats().Failures)
		})
	}
}

func TestGeocode_TransportErrorHidesKey(t *testing.T) {
	t.Parallel()

	client, transport := newTestClient(t)
	transport.RegisterResponder(http.MethodGet, testEndpoint,
		httpmock.NewErrorResponder(errors.NewStd("connection reset")))

	_, err := client.Geocode(t.Context(), "1 Main St")
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "k-123")
	assert.True(t, errors.IsCategory(err, errors.CategoryNetwork))
}

func TestGeocode_EmptyAddress(t *testing.T) {
	t.Parallel()

	client, transport := newTestClient(t)
	_, err := client.Geocode(t.Context(), "   ")
	require.Error(t, err)
	assert.Zero(t, transport.GetTotalCallCount())
}
