package cfn

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func testResponse() *Response {
	return &Response{
		Status:             StatusSuccess,
		Reason:             "See the details in CloudWatch Log Stream: stream-1",
		PhysicalResourceID: "phys-123",
		StackID:            "arn:aws:cloudformation:us-east-1:123456789012:stack/mystack/guid",
		RequestID:          "unique-request-id",
		LogicalResourceID:  "MyResource",
		Data:               map[string]any{"sum": 7.1},
	}
}

func newTestSender() *Sender {
	return NewSender(nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// ---------------------------------------------------------------------------
// Delivery
// ---------------------------------------------------------------------------

func TestSender_Send_PutsToURL(t *testing.T) {
	var (
		gotMethod      string
		gotContentType []string
		gotBody        []byte
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotContentType = r.Header["Content-Type"]
		gotBody, _ = io.ReadAll(r.Body)
	}))
	defer srv.Close()

	err := newTestSender().Send(context.Background(), srv.URL, testResponse())
	require.NoError(t, err)

	assert.Equal(t, http.MethodPut, gotMethod)

	// The presigned URL's signature assumes no content type: the header
	// must be present and explicitly empty.
	require.Len(t, gotContentType, 1)
	assert.Empty(t, gotContentType[0])

	var body map[string]any
	require.NoError(t, json.Unmarshal(gotBody, &body))
	assert.Equal(t, "SUCCESS", body["Status"])
	assert.Equal(t, "phys-123", body["PhysicalResourceId"])
	assert.Equal(t, map[string]any{"sum": 7.1}, body["Data"])
}

func TestSender_Send_AllFieldsAlwaysPresent(t *testing.T) {
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
	}))
	defer srv.Close()

	resp := testResponse()
	resp.Reason = ""
	resp.Data = map[string]any{}

	require.NoError(t, newTestSender().Send(context.Background(), srv.URL, resp))

	var body map[string]any
	require.NoError(t, json.Unmarshal(gotBody, &body))
	for _, field := range []string{
		"Status", "Reason", "PhysicalResourceId", "StackId",
		"RequestId", "LogicalResourceId", "NoEcho", "Data",
	} {
		assert.Contains(t, body, field)
	}
	assert.Equal(t, false, body["NoEcho"])
	assert.Equal(t, map[string]any{}, body["Data"])
}

// ---------------------------------------------------------------------------
// Failures
// ---------------------------------------------------------------------------

func TestSender_Send_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	err := newTestSender().Send(context.Background(), srv.URL, testResponse())

	var derr *DeliveryError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, http.StatusForbidden, derr.StatusCode)
}

func TestSender_Send_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // refuse connections

	err := newTestSender().Send(context.Background(), srv.URL, testResponse())

	var derr *DeliveryError
	require.ErrorAs(t, err, &derr)
	assert.Zero(t, derr.StatusCode)
	assert.Error(t, derr.Unwrap())
}
