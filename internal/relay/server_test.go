package relay

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"because/internal/classify"
	"because/internal/domain"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type fakeResolver struct {
	result  classify.Result
	err     error
	content string
	reason  string
	calls   int
}

func (f *fakeResolver) Resolve(_ context.Context, content, reason string) (classify.Result, error) {
	f.calls++
	f.content, f.reason = content, reason
	return f.result, f.err
}

const allowed = "http://localhost:3000"

func newTestServer(t *testing.T, r Resolver, configured bool) *httptest.Server {
	t.Helper()
	s := NewServer(Options{AllowedOrigins: []string{allowed}, Configured: configured}, r, nil, testLogger())
	srv := httptest.NewServer(s.Routes())
	t.Cleanup(srv.Close)
	return srv
}

func post(t *testing.T, url, body string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Post(url+segmentRoute, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func topicsOf(t *testing.T, data []byte) []domain.Topic {
	t.Helper()
	var out classify.RelayResponse
	require.NoError(t, json.Unmarshal(data, &out))
	return out.Topics
}

func TestSegment_Classifies(t *testing.T) {
	r := &fakeResolver{result: classify.Result{Labels: []domain.Topic{domain.TopicWork, domain.TopicIdeas}}}
	srv := newTestServer(t, r, true)

	resp, data := post(t, srv.URL, `{"content":"https://example.com","reason":"pitch\nfor \"Q3\""}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []domain.Topic{domain.TopicWork, domain.TopicIdeas}, topicsOf(t, data))
	assert.Equal(t, "https://example.com", r.content)
	assert.Equal(t, "pitch for 'Q3'", r.reason)
}

func TestSegment_AcceptsLegacyBecauseField(t *testing.T) {
	r := &fakeResolver{result: classify.Result{Labels: []domain.Topic{domain.TopicPersonal}}}
	srv := newTestServer(t, r, true)

	resp, _ := post(t, srv.URL, `{"because":"gift idea for mum"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "gift idea for mum", r.reason)
	assert.Empty(t, r.content)
}

func TestSegment_Errors(t *testing.T) {
	t.Run("both fields empty", func(t *testing.T) {
		r := &fakeResolver{}
		srv := newTestServer(t, r, true)
		resp, data := post(t, srv.URL, `{"content":"  ","reason":"\n"}`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.JSONEq(t, `{"error":"content or reason required"}`, string(data))
		assert.Zero(t, r.calls)
	})

	t.Run("no server key", func(t *testing.T) {
		srv := newTestServer(t, &fakeResolver{}, false)
		resp, data := post(t, srv.URL, `{"content":"x","reason":"y"}`)
		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
		assert.Contains(t, string(data), "error")
	})

	t.Run("wrong method", func(t *testing.T) {
		srv := newTestServer(t, &fakeResolver{}, true)
		resp, err := http.Get(srv.URL + segmentRoute)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	})

	t.Run("classification failure", func(t *testing.T) {
		r := &fakeResolver{result: classify.FallbackResult(), err: errors.New("upstream 503")}
		srv := newTestServer(t, r, true)
		resp, data := post(t, srv.URL, `{"content":"x","reason":"y"}`)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, []domain.Topic{domain.TopicOther}, topicsOf(t, data))
	})

	t.Run("malformed body", func(t *testing.T) {
		r := &fakeResolver{}
		srv := newTestServer(t, r, true)
		resp, data := post(t, srv.URL, `{not json`)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, []domain.Topic{domain.TopicOther}, topicsOf(t, data))
		assert.Zero(t, r.calls)
	})
}

func TestCORS(t *testing.T) {
	srv := newTestServer(t, &fakeResolver{}, true)

	preflight := func(origin string) *http.Response {
		req, err := http.NewRequest(http.MethodOptions, srv.URL+segmentRoute, nil)
		require.NoError(t, err)
		req.Header.Set("Origin", origin)
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		req.Header.Set("Access-Control-Request-Headers", "Content-Type")
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp
	}

	resp := preflight(allowed)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, allowed, resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Methods"), http.MethodPost)
	assert.Contains(t, resp.Header.Values("Vary"), "Origin")

	resp = preflight("https://evil.example")
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestHealthAndMetrics(t *testing.T) {
	r := &fakeResolver{result: classify.FallbackResult(), err: errors.New("boom")}
	srv := newTestServer(t, r, true)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	post(t, srv.URL, `{"content":"x","reason":"y"}`)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	text := string(body)
	assert.Contains(t, text, "because_relay_fallbacks_total 1")
	assert.Contains(t, text, `because_relay_requests_total{method="POST",route="/api/segment",status="200"} 1`)
	assert.Contains(t, text, "because_relay_classification_duration_seconds_count 1")
}

func TestSegment_WithGateway(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"choices":[{"message":{"content":"[\"reference\"]"}}]}`)
	}))
	defer upstream.Close()

	g := classify.NewGateway(
		classify.StaticCredentials{Provider: classify.ProviderGroq, Key: "server-key"},
		classify.Options{Providers: classify.ProviderSet{classify.ProviderGroq: classify.NewGroq(upstream.URL)}},
		testLogger(),
	)
	srv := newTestServer(t, g, true)

	resp, data := post(t, srv.URL, `{"content":"https://pkg.go.dev","because":"api docs"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []domain.Topic{domain.TopicReference}, topicsOf(t, data))
}
