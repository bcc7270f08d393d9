package bridge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testContext mirrors testing.T.Context (Go 1.24+): a context canceled
// when the test finishes.
func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}

func newAgentServer(t *testing.T, h http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestSendMessageSuccess(t *testing.T) {
	var got chatRequest
	srv := newAgentServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/chat", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeJSON(w, http.StatusOK, map[string]string{"response": "hello"})
	})

	res := NewClient(srv.URL, time.Second).SendMessage(testContext(t), "hi", "sess-1")

	assert.Equal(t, KindOK, res.Kind)
	assert.False(t, res.Failed())
	assert.Equal(t, "hello", res.Response)
	assert.True(t, res.HasResponse)
	assert.Equal(t, chatRequest{Message: "hi", SessionID: "sess-1"}, got)
	_, hasError := res.Map()["error"]
	assert.False(t, hasError)
	assert.Equal(t, "hello", res.Map()["response"])
}

func TestSendMessageTimeout(t *testing.T) {
	srv := newAgentServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(3 * time.Second):
		}
		writeJSON(w, http.StatusOK, map[string]string{"response": "late"})
	})

	timeout := 100 * time.Millisecond
	start := time.Now()
	res := NewClient(srv.URL, timeout).SendMessage(testContext(t), "hi", "sess-1")
	elapsed := time.Since(start)

	assert.Equal(t, KindTimeout, res.Kind)
	assert.Contains(t, res.Map()["error"], "timed out")
	assert.Less(t, elapsed, timeout+time.Second)
}

func TestSendMessageHTTPStatusError(t *testing.T) {
	srv := newAgentServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	res := NewClient(srv.URL, time.Second).SendMessage(testContext(t), "hi", "sess-1")

	assert.Equal(t, KindTransport, res.Kind)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
	assert.Contains(t, res.Error, "404")
}

func TestSendMessageServiceReportedErrorWins(t *testing.T) {
	srv := newAgentServer(t, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"response": "ignored", "error": "agent overloaded"})
	})

	res := NewClient(srv.URL, time.Second).SendMessage(testContext(t), "hi", "sess-1")

	assert.Equal(t, KindServiceReported, res.Kind)
	assert.True(t, res.Failed())
	assert.Equal(t, "agent overloaded", res.Error)
	assert.Empty(t, res.Response)
}

func TestSendMessageMalformedBody(t *testing.T) {
	srv := newAgentServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("<html>not json</html>"))
	})

	res := NewClient(srv.URL, time.Second).SendMessage(testContext(t), "hi", "sess-1")

	assert.Equal(t, KindTransport, res.Kind)
	assert.Contains(t, res.Error, "malformed response")
}

func TestSendMessageNullBody(t *testing.T) {
	srv := newAgentServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("null"))
	})

	res := NewClient(srv.URL, time.Second).SendMessage(testContext(t), "hi", "sess-1")

	assert.Equal(t, KindTransport, res.Kind)
	assert.True(t, res.Failed())
	assert.Equal(t, "malformed response: empty body", res.Error)
}

func TestSendMessageConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	res := NewClient(url, time.Second).SendMessage(testContext(t), "hi", "sess-1")

	assert.Equal(t, KindTransport, res.Kind)
	assert.Contains(t, res.Error, "connection error")
}

func TestHealthCheck(t *testing.T) {
	srv := newAgentServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/health", r.URL.Path)
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})

	res := NewClient(srv.URL+"/", time.Second).HealthCheck(testContext(t))

	assert.Equal(t, KindOK, res.Kind)
	assert.Equal(t, "healthy", res.Status)
}

func TestSearchProducts(t *testing.T) {
	var got searchRequest
	srv := newAgentServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeJSON(w, http.StatusOK, map[string]any{
			"products": []map[string]any{
				{"id": "p1", "name": "Phone", "price": "990,000원", "store": "A", "rating": 4.0},
			},
			"message": "1 result",
		})
	})

	res := NewClient(srv.URL, time.Second).SearchProducts(testContext(t), "phone")

	require.Equal(t, KindOK, res.Kind)
	assert.Equal(t, "phone", got.Query)
	assert.Equal(t, "1 result", res.Message)
	require.Len(t, res.Products, 1)
	assert.Equal(t, "Phone", res.Products[0].Name)
	require.NotNil(t, res.Products[0].Rating)
	assert.Equal(t, 4.0, *res.Products[0].Rating)
}

func TestSearchProductsMalformedProducts(t *testing.T) {
	srv := newAgentServer(t, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"products": "nope"})
	})

	res := NewClient(srv.URL, time.Second).SearchProducts(testContext(t), "phone")

	assert.Equal(t, KindTransport, res.Kind)
}

func TestNewClientDefaultsTimeout(t *testing.T) {
	assert.Equal(t, DefaultTimeout, NewClient("http://x", 0).Timeout())
}
