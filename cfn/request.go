// Package cfn implements the CloudFormation custom resource wire
// protocol: the lifecycle event delivered to the backing function and
// the signed-URL callback that reports the outcome.
package cfn

import (
	"encoding/json"
	"fmt"
)

// RequestType identifies the lifecycle event CloudFormation is driving.
type RequestType string

const (
	Create RequestType = "Create"
	Update RequestType = "Update"
	Delete RequestType = "Delete"
)

// Request is the parsed, read-only view of a custom resource lifecycle
// event.
//
// https://docs.aws.amazon.com/AWSCloudFormation/latest/UserGuide/crpg-ref-requests.html
type Request struct {
	RequestType RequestType `json:"RequestType"`

	// ResponseURL is the presigned URL the callback must be PUT to.
	ResponseURL string `json:"ResponseURL"`

	StackID           string `json:"StackId"`
	RequestID         string `json:"RequestId"`
	LogicalResourceID string `json:"LogicalResourceId"`

	// PhysicalResourceID is set on Update and Delete; Create events
	// carry no physical id yet.
	PhysicalResourceID string `json:"PhysicalResourceId,omitempty"`

	// ResourceProperties are the caller-supplied parameters from the
	// template.
	ResourceProperties map[string]any `json:"ResourceProperties,omitempty"`

	// OldResourceProperties is set on Update only.
	OldResourceProperties map[string]any `json:"OldResourceProperties,omitempty"`
}

// ValidationError reports a malformed or incomplete lifecycle event.
// A request that fails validation carries no usable callback target,
// so nothing can be reported back to CloudFormation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid lifecycle event: %s", e.Reason)
	}
	return fmt.Sprintf("invalid lifecycle event: %s: %s", e.Field, e.Reason)
}

// ParseRequest parses and validates a raw lifecycle event. It is a
// pure transformation with no side effects; all failures are
// *ValidationError.
func ParseRequest(raw []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, &ValidationError{Reason: err.Error()}
	}

	switch req.RequestType {
	case Create, Update, Delete:
	case "":
		return nil, &ValidationError{Field: "RequestType", Reason: "missing"}
	default:
		return nil, &ValidationError{Field: "RequestType", Reason: fmt.Sprintf("unrecognized value %q", req.RequestType)}
	}

	if req.ResponseURL == "" {
		return nil, &ValidationError{Field: "ResponseURL", Reason: "missing"}
	}

	if req.PhysicalResourceID == "" && req.RequestType != Create {
		return nil, &ValidationError{Field: "PhysicalResourceId", Reason: fmt.Sprintf("required on %s", req.RequestType)}
	}

	return &req, nil
}
