package cfn

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// validEvent returns a minimal Create event that passes validation.
func validEvent() map[string]any {
	return map[string]any{
		"RequestType":       "Create",
		"ResponseURL":       "https://cloudformation-custom-resource-response.s3.amazonaws.com/signed",
		"StackId":           "arn:aws:cloudformation:us-east-1:123456789012:stack/mystack/guid",
		"RequestId":         "unique-request-id",
		"LogicalResourceId": "MyResource",
		"ResourceProperties": map[string]any{
			"key1": "1.2",
			"key2": "5.9",
		},
	}
}

func marshalEvent(t *testing.T, event map[string]any) []byte {
	t.Helper()
	raw, err := json.Marshal(event)
	require.NoError(t, err)
	return raw
}

// ---------------------------------------------------------------------------
// Valid events
// ---------------------------------------------------------------------------

func TestParseRequest_Create(t *testing.T) {
	req, err := ParseRequest(marshalEvent(t, validEvent()))
	require.NoError(t, err)

	assert.Equal(t, Create, req.RequestType)
	assert.Equal(t, "https://cloudformation-custom-resource-response.s3.amazonaws.com/signed", req.ResponseURL)
	assert.Equal(t, "arn:aws:cloudformation:us-east-1:123456789012:stack/mystack/guid", req.StackID)
	assert.Equal(t, "unique-request-id", req.RequestID)
	assert.Equal(t, "MyResource", req.LogicalResourceID)
	assert.Empty(t, req.PhysicalResourceID)
	assert.Equal(t, map[string]any{"key1": "1.2", "key2": "5.9"}, req.ResourceProperties)
	assert.Nil(t, req.OldResourceProperties)
}

func TestParseRequest_Update(t *testing.T) {
	event := validEvent()
	event["RequestType"] = "Update"
	event["PhysicalResourceId"] = "phys-123"
	event["OldResourceProperties"] = map[string]any{"key1": "0.5"}

	req, err := ParseRequest(marshalEvent(t, event))
	require.NoError(t, err)

	assert.Equal(t, Update, req.RequestType)
	assert.Equal(t, "phys-123", req.PhysicalResourceID)
	assert.Equal(t, map[string]any{"key1": "0.5"}, req.OldResourceProperties)
}

func TestParseRequest_Delete(t *testing.T) {
	event := validEvent()
	event["RequestType"] = "Delete"
	event["PhysicalResourceId"] = "phys-123"

	req, err := ParseRequest(marshalEvent(t, event))
	require.NoError(t, err)
	assert.Equal(t, Delete, req.RequestType)
}

// ---------------------------------------------------------------------------
// Validation failures
// ---------------------------------------------------------------------------

func TestParseRequest_MissingRequestType(t *testing.T) {
	event := validEvent()
	delete(event, "RequestType")

	req, err := ParseRequest(marshalEvent(t, event))
	assert.Nil(t, req)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "RequestType", verr.Field)
}

func TestParseRequest_UnrecognizedRequestType(t *testing.T) {
	event := validEvent()
	event["RequestType"] = "Upsert"

	_, err := ParseRequest(marshalEvent(t, event))

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "RequestType", verr.Field)
	assert.Contains(t, err.Error(), "Upsert")
}

func TestParseRequest_MissingResponseURL(t *testing.T) {
	event := validEvent()
	delete(event, "ResponseURL")

	_, err := ParseRequest(marshalEvent(t, event))

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "ResponseURL", verr.Field)
}

func TestParseRequest_MissingPhysicalResourceID(t *testing.T) {
	for _, rt := range []string{"Update", "Delete"} {
		t.Run(rt, func(t *testing.T) {
			event := validEvent()
			event["RequestType"] = rt

			_, err := ParseRequest(marshalEvent(t, event))

			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, "PhysicalResourceId", verr.Field)
			assert.Contains(t, err.Error(), rt)
		})
	}
}

func TestParseRequest_MalformedJSON(t *testing.T) {
	_, err := ParseRequest([]byte("{not json"))

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Empty(t, verr.Field)
}

func TestValidationError_Unwrappable(t *testing.T) {
	_, err := ParseRequest([]byte("{}"))
	assert.True(t, errors.As(err, new(*ValidationError)))
}
