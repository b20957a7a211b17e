package analytics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iago/analytics-audio-reports/internal/domain"
)

func TestDecodeResponseShapes(t *testing.T) {
	t.Run("overall", func(t *testing.T) {
		payload, err := DecodeResponse([]byte(`{"data":{"total_views":1200,"unique_viewers":800,"label":"x"},"timeframe":[10,20]}`))
		require.NoError(t, err)
		assert.Equal(t, 1200.0, payload.Metrics["total_views"])
		assert.NotContains(t, payload.Metrics, "label")
		assert.Equal(t, &domain.TimeRange{Start: 10, End: 20}, payload.TimeRange)
	})

	t.Run("breakdown", func(t *testing.T) {
		payload, err := DecodeResponse([]byte(`{"data":[{"field":"Chrome","views":40},{"name":"Safari","value":12},{"ignored":true}],"total_row_count":2}`))
		require.NoError(t, err)
		assert.Equal(t, []domain.BreakdownItem{{Label: "Chrome", Value: 40}, {Label: "Safari", Value: 12}}, payload.Breakdown)
		assert.Equal(t, 2.0, payload.Metrics["total_row_count"])
		assert.Nil(t, payload.TimeRange)
	})

	t.Run("failure takes priority over data", func(t *testing.T) {
		_, err := DecodeResponse([]byte(`{"error":{"type":"invalid_parameters","messages":["bad timeframe"]},"data":{"total_views":1}}`))
		var failure *SourceFailure
		require.ErrorAs(t, err, &failure)
		assert.Equal(t, "invalid_parameters", failure.Type)
		assert.Equal(t, []string{"bad timeframe"}, failure.Messages)
	})

	t.Run("string failure", func(t *testing.T) {
		_, err := DecodeResponse([]byte(`{"error":"rate limited"}`))
		var failure *SourceFailure
		require.ErrorAs(t, err, &failure)
		assert.Contains(t, failure.Error(), "rate limited")
	})

	t.Run("null error is not a failure", func(t *testing.T) {
		payload, err := DecodeResponse([]byte(`{"error":null,"data":{"total_errors":0}}`))
		require.NoError(t, err)
		assert.Equal(t, 0.0, payload.Metrics["total_errors"])
	})

	for _, body := range []string{`{}`, `{"data":"text"}`, `{"data":{"only":"strings"}}`, `[]`, ``, `not json`} {
		t.Run("unrecognized "+body, func(t *testing.T) {
			_, err := DecodeResponse([]byte(body))
			assert.ErrorIs(t, err, ErrUnrecognizedShape)
		})
	}
}

func TestHTTPSourceFetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "token-id" || pass != "token-secret" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":{"type":"unauthorized","messages":["bad credentials"]}}`))
			return
		}
		switch r.URL.Path {
		case "/data/v1/reports/views":
			assert.Equal(t, []string{"100", "200"}, r.URL.Query()["timeframe[]"])
			_, _ = w.Write([]byte(`{"data":{"total_views":42},"timeframe":[100,200]}`))
		case "/data/v1/reports/errors":
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte(`upstream failure for key abcdefghijklmnopqrstuvwxyz123456`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	source := NewHTTPSource(HTTPSourceConfig{BaseURL: server.URL + "/", TokenID: "token-id", TokenSecret: "token-secret"})

	payload, err := source.Fetch(context.Background(), domain.CategoryViews, &domain.TimeRange{Start: 100, End: 200})
	require.NoError(t, err)
	assert.Equal(t, 42.0, payload.Metrics["total_views"])

	_, err = source.Fetch(context.Background(), domain.CategoryErrors, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 502")
	assert.False(t, strings.Contains(err.Error(), "abcdefghijklmnopqrstuvwxyz123456"))

	bad := NewHTTPSource(HTTPSourceConfig{BaseURL: server.URL, TokenID: "token-id", TokenSecret: "wrong"})
	_, err = bad.Fetch(context.Background(), domain.CategoryViews, nil)
	var failure *SourceFailure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, "unauthorized", failure.Type)
}

func TestHTTPSourceRequiresConfiguration(t *testing.T) {
	_, err := NewHTTPSource(HTTPSourceConfig{}).Fetch(context.Background(), domain.CategoryViews, nil)
	require.Error(t, err)
}
