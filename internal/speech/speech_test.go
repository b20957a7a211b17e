package speech

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "empty", input: "  \n ", want: ""},
		{name: "heading and bullets", input: "## Views\n- Total views: 1200\n- **Unique** viewers: 800", want: "Views. Total views: 1200. Unique viewers: 800."},
		{name: "percent", input: "Error rate: 1.3%", want: "Error rate: 1.3 percent."},
		{name: "units", input: "Startup 850ms, bitrate 4200 kbps, 3.5 Mbps peak, 1 h total", want: "Startup 850 milliseconds, bitrate 4200 kilobits per second, 3.5 megabits per second peak, 1 hour total."},
		{name: "iso date", input: "Period: 2023-11-14 to 2023-11-15", want: "Period: November 14, 2023 to November 15, 2023."},
		{name: "us date", input: "Since 3/7/2024 we grew", want: "Since March 7, 2024 we grew."},
		{name: "invalid date kept", input: "Build 2023-13-40 shipped.", want: "Build 2023-13-40 shipped."},
		{name: "abbreviations", input: "Avg startup vs. last week, e.g. Chrome & Safari", want: "average startup versus last week, for example Chrome and Safari."},
		{name: "links and code", input: "See [the dashboard](https://example.com) for `total_views`.", want: "See the dashboard for total views."},
		{name: "quotes and numbered", input: "> 1) first\n> 2) second", want: "first. second."},
		{name: "words not units", input: "5 shows in 2 hours", want: "5 shows in 2 hours."},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Normalize(tc.input)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, got, Normalize(got), "normalization must be idempotent")
		})
	}
}

func TestNormalizeIdempotentOnAwkwardInput(t *testing.T) {
	inputs := []string{
		"[[a](b)](c)",
		"- > - item",
		"~*~ strike",
		"a_&_b",
		"see e.g",
		"# 5 s\n## 10 min\n* 3 %",
		"line one\n\n\nline two:\n- 1/2/2020",
	}
	for _, input := range inputs {
		once := Normalize(input)
		assert.Equal(t, once, Normalize(once), "input %q", input)
	}
}

func TestNormalizeIdempotentOnRandomTokens(t *testing.T) {
	tokens := []string{
		"ms", "h", "min", "Mbps", "2", "1", "3.5", "&", ">", "-", "*", "#", "_", "`",
		"%", "1/2/2024", "2024-01-05", "e.g", "vs.", "avg", "[a]", "(b)", "](", ".",
		":", " ", " ", "\n", "\n", "\t", "1)", "views",
	}
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 20000; i++ {
		var b strings.Builder
		for n := rng.Intn(10); n >= 0; n-- {
			b.WriteString(tokens[rng.Intn(len(tokens))])
			if rng.Intn(3) == 0 {
				b.WriteString(" ")
			}
		}
		input := b.String()
		once := Normalize(input)
		require.Equal(t, once, Normalize(once), "input %q", input)
	}
}

func TestNormalizeLineStartAmpersandAndDateUnits(t *testing.T) {
	assert.Equal(t, "ms 2. and Mbps> h.", Normalize("ms 2\n& Mbps> h "))
	assert.Equal(t, "min January 2, 2024 milliseconds.", Normalize("min 1/2/2024ms "))
	assert.Equal(t, "January 5, 2024 milliseconds.", Normalize("2024-01-05ms"))
}

func TestSynthesizeSendsNormalizedText(t *testing.T) {
	var received synthesisRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, speechPath, r.URL.Path)
		assert.Equal(t, "Bearer speech-key", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write([]byte("RIFF-audio"))
	}))
	defer server.Close()

	synth := NewSynthesizer(Config{BaseURL: server.URL, APIKey: "speech-key", Voice: "narrator"})
	audio, err := synth.Synthesize(context.Background(), "## Errors\nRate 2%")

	require.NoError(t, err)
	assert.Equal(t, []byte("RIFF-audio"), audio)
	assert.Equal(t, "Errors. Rate 2 percent.", received.Text)
	assert.Equal(t, "narrator", received.Voice)
	assert.Equal(t, "wav", received.Format)
}

func TestSynthesizeRedactsProviderErrors(t *testing.T) {
	secret := "abcdefghijklmnopqrstuvwxyz0123456789"
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"invalid api key ` + secret + `"}`))
	}))
	defer server.Close()

	_, err := NewSynthesizer(Config{BaseURL: server.URL, APIKey: secret}).Synthesize(context.Background(), "hello")

	var providerErr *ProviderError
	require.True(t, errors.As(err, &providerErr))
	assert.Equal(t, http.StatusUnauthorized, providerErr.StatusCode)
	assert.False(t, strings.Contains(err.Error(), secret))
	assert.Contains(t, err.Error(), "invalid api key")
}

func TestSynthesizeRejectsEmptyAndNonAudio(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html></html>"))
	}))
	defer server.Close()

	synth := NewSynthesizer(Config{BaseURL: server.URL})

	_, err := synth.Synthesize(context.Background(), "**  **")
	assert.ErrorIs(t, err, ErrEmptyText)

	_, err = synth.Synthesize(context.Background(), "hello")
	assert.ErrorIs(t, err, ErrUnexpectedFormat)

	_, err = NewSynthesizer(Config{}).Synthesize(context.Background(), "hello")
	assert.ErrorIs(t, err, ErrSpeechDisabled)
}

func TestSynthesizeReturnsContextErrorWhenCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewSynthesizer(Config{BaseURL: "http://127.0.0.1:1"}).Synthesize(ctx, "hello")

	assert.ErrorIs(t, err, context.Canceled)
}

func TestProviderErrorIsTruncatedOnRuneBoundary(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message":"` + strings.Repeat("é", 400) + `"}`))
	}))
	defer server.Close()

	_, err := NewSynthesizer(Config{BaseURL: server.URL}).Synthesize(context.Background(), "hello")

	var providerErr *ProviderError
	require.ErrorAs(t, err, &providerErr)
	assert.LessOrEqual(t, len(providerErr.Message), 300)
	assert.True(t, utf8.ValidString(providerErr.Message))
}
