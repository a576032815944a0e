package telemetry

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisabledTelemetryIsNoop(t *testing.T) {
	tel, err := New(context.Background(), Config{Enabled: false})
	require.NoError(t, err)

	ctx := context.Background()

	assert.Nil(t, tel.Tracer())
	assert.Nil(t, tel.MeterProvider())
	assert.NotPanics(t, func() {
		tel.RecordDownload(ctx, "completed", 0)
		tel.AddActiveDownloads(ctx, 1)
		tel.AddDownloadedBytes(ctx, 10)
		tel.RecordDiscovery(ctx, "success", 2)
		tel.RecordStoreOperation(ctx, "save", "success", 0)
		tel.RecordHTTPRequest(ctx, http.MethodGet, "/", "2xx", 0)
	})
	assert.NoError(t, tel.Shutdown(ctx))

	rec := httptest.NewRecorder()
	tel.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestNilTelemetryRunsInstrumentedFuncs(t *testing.T) {
	var tel *Telemetry

	boom := errors.New("boom")

	err := tel.InstrumentStoreOperation(context.Background(), "load", func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)

	called := false
	err = tel.InstrumentDownload(context.Background(), func(error) string { return "x" }, func(context.Context) error {
		called = true

		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)

	err = tel.InstrumentDiscovery(context.Background(), func(context.Context) (int, error) { return 3, nil })
	assert.NoError(t, err)
}

func TestEnabledTelemetryExposesMetrics(t *testing.T) {
	ctx := context.Background()

	tel, err := New(ctx, Config{Enabled: true, ServiceName: "zher-test"})
	require.NoError(t, err)

	t.Cleanup(func() { _ = tel.Shutdown(context.Background()) })

	err = tel.InstrumentDownload(ctx, func(err error) string { return statusOf(err) }, func(ctx context.Context) error {
		tel.AddDownloadedBytes(ctx, 1024)

		return nil
	})
	require.NoError(t, err)

	require.NoError(t, tel.InstrumentDiscovery(ctx, func(context.Context) (int, error) { return 2, nil }))

	rec := httptest.NewRecorder()
	tel.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "# TYPE downloads_total counter")
	assert.Contains(t, string(body), "# TYPE discovery_rounds_total counter")
	assert.Contains(t, string(body), "# TYPE downloads_active gauge")
	assert.Contains(t, string(body), "# TYPE discovery_peers histogram")
	assert.Contains(t, string(body), "# TYPE download_bytes_total counter")
	assert.NotContains(t, string(body), "_ratio")
	assert.NotNil(t, tel.MeterProvider())
}

func TestMiddlewareUsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(RequestID, HTTPLogging)
	r.Get("/downloads/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = io.WriteString(w, "short and stout")
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/downloads/42", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))
	assert.True(t, strings.HasPrefix(rec.Body.String(), "short"))
}

func TestRequestIDIsPropagated(t *testing.T) {
	var seen string

	h := RequestID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "upstream-id")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "upstream-id", seen)
	assert.Equal(t, "upstream-id", rec.Header().Get(RequestIDHeader))
	assert.Empty(t, GetRequestID(context.Background()))
}

func TestResponseWriterTracksStatusAndBytes(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := wrapResponseWriter(rec)

	_, err := rw.Write([]byte("hello"))
	require.NoError(t, err)
	rw.WriteHeader(http.StatusInternalServerError)
	rw.Flush()

	assert.Equal(t, http.StatusOK, rw.status)
	assert.EqualValues(t, 5, rw.bytesWritten)
	assert.Same(t, rw, wrapResponseWriter(rw))
	assert.True(t, rec.Flushed)
}

func TestGetStatusClass(t *testing.T) {
	tests := map[int]string{
		200: "2xx",
		206: "2xx",
		302: "3xx",
		404: "4xx",
		502: "5xx",
		99:  "unknown",
	}

	for code, want := range tests {
		assert.Equal(t, want, getStatusClass(code), "status %d", code)
	}
}
