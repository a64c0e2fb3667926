package health

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlerReturnsStatusOK(t *testing.T) {
	handler := Handler("harness")
	req := httptest.NewRequest("GET", "/healthz", nil)
	w := httptest.NewRecorder()

	handler(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
}

func TestHandlerResponseStructure(t *testing.T) {
	handler := Handler("harness")
	req := httptest.NewRequest("GET", "/healthz", nil)
	w := httptest.NewRecorder()

	handler(w, req)

	var resp Response
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	require.NoError(t, err)

	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "cfnadapter", resp.ServiceName)
	assert.Equal(t, "harness", resp.Mode)
	assert.NotEmpty(t, resp.Version)
	assert.NotEmpty(t, resp.Commit)
	assert.NotEmpty(t, resp.BuildTime)
	assert.NotEmpty(t, resp.GoVersion)
	assert.False(t, resp.Timestamp.IsZero())
}

func TestHandlerAcceptsAnyMethod(t *testing.T) {
	handler := Handler("harness")

	for _, method := range []string{"GET", "POST", "HEAD"} {
		t.Run(method, func(t *testing.T) {
			req := httptest.NewRequest(method, "/healthz", nil)
			w := httptest.NewRecorder()
			handler(w, req)
			assert.Equal(t, http.StatusOK, w.Code)
		})
	}
}
