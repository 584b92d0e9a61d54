package logging

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestAccessLogWritesRequestLine(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "shop", "debug", "json")

	h := AccessLog(logger, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		zerolog.Ctx(r.Context()).Debug().Msg("inside")
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/supplements", nil)
	req.Header.Set(RequestIDHeader, "req-1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, "req-1", rec.Header().Get(RequestIDHeader))

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(lines[1], &entry))
	require.Equal(t, "shop", entry[SERVICE])
	require.Equal(t, "req-1", entry[REQUEST])
	require.Equal(t, float64(http.StatusTeapot), entry[CODE])
	require.Equal(t, "/v1/supplements", entry[ROUTE])
}

func TestNewFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "shop", "nonsense", "json")
	require.Equal(t, zerolog.InfoLevel, logger.GetLevel())
}
