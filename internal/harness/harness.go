// Package harness provides a local stand-in for CloudFormation: an
// echo handler, an in-memory response sender, and an HTTP server that
// feeds lifecycle events through the adapter and returns the callback
// payload that would have been delivered.  Nothing here talks to AWS.
package harness

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/terrpan/cfnadapter/adapter"
	"github.com/terrpan/cfnadapter/cfn"
)

// EchoHandler returns the request's ResourceProperties as the response
// Data.  A "FailMessage" property makes it fail instead, which is the
// knob for exercising the failure paths locally.
func EchoHandler(_ context.Context, req *cfn.Request) (any, error) {
	if msg, ok := req.ResourceProperties["FailMessage"].(string); ok && msg != "" {
		return nil, errors.New(msg)
	}
	if req.ResourceProperties == nil {
		return map[string]any{}, nil
	}
	return req.ResourceProperties, nil
}

// CaptureSender records callback payloads instead of delivering them.
type CaptureSender struct {
	mu        sync.Mutex
	responses []cfn.Response
}

func (c *CaptureSender) Send(_ context.Context, _ string, resp *cfn.Response) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.responses = append(c.responses, *resp)
	return nil
}

// Last returns the most recently captured response, or nil.
func (c *CaptureSender) Last() *cfn.Response {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.responses) == 0 {
		return nil
	}
	resp := c.responses[len(c.responses)-1]
	return &resp
}

// Count returns how many responses have been captured.
func (c *CaptureSender) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.responses)
}

// NopLogs is a LogGroupDeleter that does nothing.  The harness never
// deletes real log groups.
type NopLogs struct{}

func (NopLogs) DeleteLogGroup(context.Context, string) error { return nil }

// Invoke runs one lifecycle event through the adapter with the given
// handler and returns the callback payload that would have been sent.
// A nil handler defaults to EchoHandler.
func Invoke(ctx context.Context, raw []byte, h adapter.Handler, logger *slog.Logger) (*cfn.Response, error) {
	if h == nil {
		h = EchoHandler
	}
	capture := &CaptureSender{}
	w := adapter.New(h, adapter.Config{
		HideDeleteFailure: true,
		SendResponse:      true,
		Logger:            logger,
		Sender:            capture,
		Logs:              NopLogs{},
	})

	if err := w.Handle(ctx, raw); err != nil && capture.Last() == nil {
		// Validation failures produce no callback at all.
		return nil, err
	}
	return capture.Last(), nil
}

// EnsureResponseURL injects a placeholder ResponseURL into a raw event
// that lacks one, so hand-written local events do not need to fake a
// presigned URL.  The callback never leaves the process.
func EnsureResponseURL(raw []byte) ([]byte, error) {
	var event map[string]any
	if err := json.Unmarshal(raw, &event); err != nil {
		// Leave malformed JSON for the adapter's own validation.
		return raw, nil
	}
	if url, ok := event["ResponseURL"].(string); ok && url != "" {
		return raw, nil
	}
	event["ResponseURL"] = "https://cfnadapter.invalid/callback/" + uuid.NewString()
	return json.Marshal(event)
}
