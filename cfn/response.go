package cfn

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Status is the outcome reported back to CloudFormation.
type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusFailed  Status = "FAILED"
)

// Response is the callback payload PUT to the presigned ResponseURL.
//
// Every field except Reason and Data echoes the request verbatim.
// CloudFormation correlates the callback by these identifiers; a
// mismatch leaves the resource stuck.
//
// https://docs.aws.amazon.com/AWSCloudFormation/latest/UserGuide/crpg-ref-responses.html
type Response struct {
	Status Status `json:"Status"`

	// Reason is human-readable and mandatory when Status is FAILED.
	Reason string `json:"Reason"`

	PhysicalResourceID string `json:"PhysicalResourceId"`
	StackID            string `json:"StackId"`
	RequestID          string `json:"RequestId"`
	LogicalResourceID  string `json:"LogicalResourceId"`

	// NoEcho asks CloudFormation to mask Data in its console output.
	NoEcho bool `json:"NoEcho"`

	// Data holds result attributes readable via Fn::GetAtt.
	Data map[string]any `json:"Data"`
}

// DeliveryError reports a failed callback PUT. The adapter never
// retries a send: a duplicate PUT to a presigned URL risks an
// inconsistent duplicate report, and re-invocation policy belongs to
// the platform.
type DeliveryError struct {
	// StatusCode is the HTTP status, or zero when the request never
	// produced a response.
	StatusCode int
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("callback delivery failed: %v", e.Err)
	}
	return fmt.Sprintf("callback delivery failed: status %d", e.StatusCode)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Sender delivers callback payloads to presigned URLs.
type Sender struct {
	client *http.Client
	logger *slog.Logger
	tracer trace.Tracer
}

// NewSender creates a Sender. A nil client gets a default with a 30
// second timeout; the invocation deadline carried on ctx still bounds
// each send.
func NewSender(client *http.Client, logger *slog.Logger) *Sender {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Sender{
		client: client,
		logger: logger,
		tracer: otel.Tracer("cfnadapter/cfn"),
	}
}

// Send serializes resp and PUTs it to url. The Content-Type header is
// set explicitly empty: the presigned URL's signature was computed
// assuming no content type, and sending one invalidates the signature.
func (s *Sender) Send(ctx context.Context, url string, resp *Response) error {
	ctx, span := s.tracer.Start(ctx, "cfn.Send")
	defer span.End()
	span.SetAttributes(attribute.String("cfn.status", string(resp.Status)))

	body, err := json.Marshal(resp)
	if err != nil {
		return &DeliveryError{Err: fmt.Errorf("encoding response: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return &DeliveryError{Err: err}
	}
	req.Header.Set("Content-Type", "")
	req.ContentLength = int64(len(body))

	s.logger.Debug("sending callback",
		slog.String("status", string(resp.Status)),
		slog.Int("bodyBytes", len(body)),
	)

	httpResp, err := s.client.Do(req)
	if err != nil {
		return &DeliveryError{Err: err}
	}
	defer httpResp.Body.Close()
	_, _ = io.Copy(io.Discard, httpResp.Body)

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		return &DeliveryError{StatusCode: httpResp.StatusCode}
	}

	s.logger.Debug("callback delivered", slog.Int("statusCode", httpResp.StatusCode))
	return nil
}
