package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("ok"))
	})
}

func TestAPIKey_RequiresConfiguredKey(t *testing.T) {
	h := APIKey("secret")(okHandler())

	cases := []struct {
		name   string
		header string
		value  string
		status int
	}{
		{"missing", "", "", http.StatusUnauthorized},
		{"bearer", "Authorization", "Bearer secret", http.StatusOK},
		{"api key header", "X-API-Key", "secret", http.StatusOK},
		{"wrong key", "X-API-Key", "guess", http.StatusUnauthorized},
		{"wrong scheme", "Authorization", "Basic secret", http.StatusUnauthorized},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/api/fills", nil)
			if tc.header != "" {
				r.Header.Set(tc.header, tc.value)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, r)
			require.Equal(t, tc.status, w.Code)
		})
	}
}

func TestAPIKey_EmptyKeyDisablesAuth(t *testing.T) {
	h := APIKey("")(okHandler())

	r := httptest.NewRequest(http.MethodGet, "/api/fills", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestCORS_ReflectsOnlyAllowedOrigins(t *testing.T) {
	h := CORS([]string{"https://app.example"})(okHandler())

	r := httptest.NewRequest(http.MethodGet, "/api/fees", nil)
	r.Header.Set("Origin", "https://App.Example")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	require.Equal(t, "https://App.Example", w.Header().Get("Access-Control-Allow-Origin"))

	r = httptest.NewRequest(http.MethodGet, "/api/fees", nil)
	r.Header.Set("Origin", "https://elsewhere.example")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	require.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORS_AnswersPreflight(t *testing.T) {
	h := CORS(nil)(okHandler())

	r := httptest.NewRequest(http.MethodOptions, "/api/fills", nil)
	r.Header.Set("Origin", "https://anywhere.example")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	require.Equal(t, http.StatusNoContent, w.Code)
	require.Equal(t, "https://anywhere.example", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestAccessLog_RecordsStatusAndSize(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	h := AccessLog(logger)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte("taken"))
	}))

	r := httptest.NewRequest(http.MethodPost, "/api/fills", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	require.Equal(t, http.StatusConflict, w.Code)
	require.Contains(t, buf.String(), `"status":409`)
	require.Contains(t, buf.String(), `"bytes":5`)
	require.Contains(t, buf.String(), `"path":"/api/fills"`)
}
