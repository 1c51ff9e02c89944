package nominatim

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/couchcryptid/incident-map-service/internal/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testUserAgent = "KyzylordaDashboard/1.0"

func testClient(baseURL string, timeout time.Duration) *Client {
	return NewClient(baseURL, testUserAgent, timeout,
		observability.NewMetricsForTesting(),
		slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestClient_ForwardGeocode_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "улица Коркыт Ата, Кызылорда, Казахстан", r.URL.Query().Get("q"))
		assert.Equal(t, "json", r.URL.Query().Get("format"))
		assert.Equal(t, "1", r.URL.Query().Get("limit"))
		assert.Equal(t, testUserAgent, r.Header.Get("User-Agent"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"lat":"44.847","lon":"65.522","display_name":"улица Коркыт Ата, Кызылорда","name":"улица Коркыт Ата","importance":0.41}]`))
	}))
	defer srv.Close()

	c := testClient(srv.URL+"/", 5*time.Second)
	result, err := c.ForwardGeocode(context.Background(), "улица Коркыт Ата, Кызылорда, Казахстан")
	require.NoError(t, err)

	assert.Equal(t, 44.847, result.Lat)
	assert.Equal(t, 65.522, result.Lon)
	assert.Equal(t, "улица Коркыт Ата, Кызылорда", result.FormattedAddress)
	assert.Equal(t, "улица Коркыт Ата", result.PlaceName)
	assert.InDelta(t, 0.41, result.Confidence, 1e-9)
}

func TestClient_ForwardGeocode_EmptyArray(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c := testClient(srv.URL, 5*time.Second)
	result, err := c.ForwardGeocode(context.Background(), "nowhere")
	require.NoError(t, err)
	assert.False(t, result.Found())
}

func TestClient_ForwardGeocode_BadCoordinates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[{"lat":"north","lon":"65.5"}]`))
	}))
	defer srv.Close()

	c := testClient(srv.URL, 5*time.Second)
	_, err := c.ForwardGeocode(context.Background(), "улица Абая")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse lat")
}

func TestClient_ForwardGeocode_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := testClient(srv.URL, 5*time.Second)
	_, err := c.ForwardGeocode(context.Background(), "улица Абая")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestClient_ForwardGeocode_ContextCanceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := testClient(srv.URL, 5*time.Second)
	_, err := c.ForwardGeocode(ctx, "улица Абая")
	require.ErrorIs(t, err, context.Canceled)
}
