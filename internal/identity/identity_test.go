package identity

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serveWithIdentity(t *testing.T, req *http.Request) (*httptest.ResponseRecorder, string, string) {
	t.Helper()
	var clientID, tabID string
	h := Middleware(true)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		clientID = ClientIDFromContext(r.Context())
		tabID = TabIDFromContext(r.Context())
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w, clientID, tabID
}

func TestMiddlewareIssuesClientID(t *testing.T) {
	w, clientID, tabID := serveWithIdentity(t, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.True(t, IsValidClientID(clientID), clientID)
	assert.Equal(t, DefaultTabIDValue, tabID)

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, AnonCookieName, cookies[0].Name)
	assert.Equal(t, clientID, cookies[0].Value)
	assert.True(t, cookies[0].HttpOnly)
	assert.False(t, cookies[0].Secure)
}

func TestMiddlewareReusesValidCookie(t *testing.T) {
	id, err := NewClientID()
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/?tab_id=tab-7", nil)
	req.AddCookie(&http.Cookie{Name: AnonCookieName, Value: id})
	_, clientID, tabID := serveWithIdentity(t, req)

	assert.Equal(t, id, clientID)
	assert.Equal(t, "tab-7", tabID)
}

func TestMiddlewareReplacesForgedCookie(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: AnonCookieName, Value: "../../etc/passwd"})
	req.Header.Set(TabHeaderName, "bad tab id with spaces")
	_, clientID, tabID := serveWithIdentity(t, req)

	assert.NotEqual(t, "../../etc/passwd", clientID)
	assert.True(t, IsValidClientID(clientID))
	assert.Equal(t, DefaultTabIDValue, tabID)
}

func TestNewClientIDUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id, err := NewClientID()
		require.NoError(t, err)
		assert.False(t, seen[id])
		seen[id] = true
	}
}

func TestIPFromRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.5:4567"
	assert.Equal(t, "10.0.0.5", IPFromRequest(req))

	req.RemoteAddr = "not-a-hostport"
	assert.Equal(t, "not-a-hostport", IPFromRequest(req))
}
