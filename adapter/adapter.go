// Package adapter wraps an arbitrary handler function in the
// CloudFormation custom resource protocol.  It parses the lifecycle
// event, contains handler faults, resolves the final status, delivers
// the signed-URL callback, and applies the log-retention policy.
//
// The composition point is Wrap:
//
//	lambda.Start(adapter.Wrap(myHandler, adapter.DefaultConfig()))
package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"reflect"

	"github.com/aws/aws-lambda-go/lambdacontext"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/terrpan/cfnadapter/cfn"
)

// Handler is the user function backing the custom resource.  The
// returned value becomes the response Data field: a map[string]any is
// used as-is, a *Result additionally controls PhysicalResourceId and
// NoEcho, nil means no attributes, and any other value is wrapped
// under a single "result" key.
type Handler func(ctx context.Context, req *cfn.Request) (any, error)

// Result is an optional rich return value for handlers that need to
// control more of the response than Data.
type Result struct {
	// PhysicalResourceID overrides the identifier the adapter would
	// otherwise choose.  Changing it on Update makes CloudFormation
	// treat the change as a resource replacement.
	PhysicalResourceID string

	// Data holds the result attributes readable via Fn::GetAtt.
	Data map[string]any

	// NoEcho asks CloudFormation to mask Data in its console output.
	NoEcho bool
}

// ResponseSender delivers the callback payload.  *cfn.Sender is the
// production implementation.
type ResponseSender interface {
	Send(ctx context.Context, url string, resp *cfn.Response) error
}

// LogGroupDeleter deletes the function's CloudWatch log group.
type LogGroupDeleter interface {
	DeleteLogGroup(ctx context.Context, name string) error
}

// Config holds the adapter policy switches and optional collaborator
// overrides.  The zero value disables everything; production use
// should start from DefaultConfig.
type Config struct {
	// DeleteLogs purges the function's log group after a successful
	// Delete.  A fault during Delete always retains the logs
	// regardless of this setting.
	DeleteLogs bool

	// HideDeleteFailure forces SUCCESS when the handler faults on a
	// Delete event, preventing the stack from parking in
	// DELETE_FAILED.  Resources the handler failed to clean up may
	// remain.  Reason and Data still carry the fault message.
	HideDeleteFailure bool

	// SendResponse, when false, suppresses the callback entirely
	// (diagnostic/test mode).
	SendResponse bool

	// Logger receives all adapter logging.  Defaults to slog.Default().
	Logger *slog.Logger

	// Sender overrides the callback transport (tests, local harness).
	Sender ResponseSender

	// Logs overrides the log-group deletion collaborator.
	Logs LogGroupDeleter
}

// DefaultConfig returns the production defaults: callbacks on, delete
// failures hidden, log groups deleted after successful deletes.
func DefaultConfig() Config {
	return Config{
		DeleteLogs:        true,
		HideDeleteFailure: true,
		SendResponse:      true,
	}
}

// Wrapper is the fault-containment boundary around a Handler.  One
// Wrapper serves any number of invocations; it holds no per-invocation
// state.
type Wrapper struct {
	handler Handler
	cfg     Config
	sender  ResponseSender
	logs    LogGroupDeleter
	logger  *slog.Logger

	// OpenTelemetry instrumentation
	tracer trace.Tracer
	meter  metric.Meter

	// Metrics
	invocations  metric.Int64Counter
	faults       metric.Int64Counter
	responses    metric.Int64Counter
	logDeletions metric.Int64Counter
}

// New creates a Wrapper around h with the given configuration.
func New(h Handler, cfg Config) *Wrapper {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sender := cfg.Sender
	if sender == nil {
		sender = cfn.NewSender(nil, logger.WithGroup("sender"))
	}
	logs := cfg.Logs
	if logs == nil {
		logs = newCloudwatchDeleter(logger.WithGroup("logs"))
	}

	w := &Wrapper{
		handler: h,
		cfg:     cfg,
		sender:  sender,
		logs:    logs,
		logger:  logger,
		tracer:  otel.Tracer("cfnadapter/adapter"),
		meter:   otel.Meter("cfnadapter/adapter"),
	}

	// Initialize metrics (errors are logged but not fatal)
	var err error
	w.invocations, err = w.meter.Int64Counter(
		"cfnadapter.invocations",
		metric.WithDescription("Total number of lifecycle events handled"),
		metric.WithUnit("1"),
	)
	if err != nil {
		logger.Warn("failed to create invocations counter", slog.String("error", err.Error()))
	}

	w.faults, err = w.meter.Int64Counter(
		"cfnadapter.faults",
		metric.WithDescription("Total number of contained handler faults"),
		metric.WithUnit("1"),
	)
	if err != nil {
		logger.Warn("failed to create faults counter", slog.String("error", err.Error()))
	}

	w.responses, err = w.meter.Int64Counter(
		"cfnadapter.responses",
		metric.WithDescription("Total number of callback send attempts"),
		metric.WithUnit("1"),
	)
	if err != nil {
		logger.Warn("failed to create responses counter", slog.String("error", err.Error()))
	}

	w.logDeletions, err = w.meter.Int64Counter(
		"cfnadapter.loggroups.deleted",
		metric.WithDescription("Total number of log groups deleted after successful deletes"),
		metric.WithUnit("1"),
	)
	if err != nil {
		logger.Warn("failed to create logDeletions counter", slog.String("error", err.Error()))
	}

	return w
}

// Wrap composes h with the full protocol and returns the function to
// hand to lambda.Start.
func Wrap(h Handler, cfg Config) func(ctx context.Context, raw json.RawMessage) error {
	return New(h, cfg).Handle
}

// Handle processes one lifecycle event end to end: parse, invoke the
// handler inside the fault boundary, resolve the status, send the
// callback, apply log retention.  Handler faults never propagate out
// of Handle; only validation and delivery failures do.
func (w *Wrapper) Handle(ctx context.Context, raw json.RawMessage) error {
	ctx, span := w.tracer.Start(ctx, "adapter.Handle")
	defer span.End()

	req, err := cfn.ParseRequest(raw)
	if err != nil {
		// No valid callback URL means nothing safe to echo back.
		w.logger.Error("lifecycle event rejected", slog.String("error", err.Error()))
		return err
	}

	span.SetAttributes(
		attribute.String("cfn.request_type", string(req.RequestType)),
		attribute.String("cfn.logical_resource_id", req.LogicalResourceID),
		attribute.String("cfn.request_id", req.RequestID),
	)
	if w.invocations != nil {
		w.invocations.Add(ctx, 1, metric.WithAttributes(
			attribute.String("request_type", string(req.RequestType)),
		))
	}

	w.logger.Info("lifecycle event received",
		slog.String("requestType", string(req.RequestType)),
		slog.String("stackID", req.StackID),
		slog.String("requestID", req.RequestID),
		slog.String("logicalResourceID", req.LogicalResourceID),
	)

	// A Create mints the physical id; Update and Delete must echo the
	// request's id unchanged or CloudFormation treats the resource as
	// replaced.
	physicalID := req.PhysicalResourceID
	if req.RequestType == cfn.Create {
		physicalID = newPhysicalResourceID()
	}

	out := w.invoke(ctx, req)
	if out.fault != nil {
		if w.faults != nil {
			w.faults.Add(ctx, 1, metric.WithAttributes(
				attribute.String("request_type", string(req.RequestType)),
			))
		}
		w.logger.Error("handler fault contained",
			slog.String("kind", out.fault.kind),
			slog.String("message", out.fault.message),
		)
	} else if res, ok := out.value.(*Result); ok && res != nil && res.PhysicalResourceID != "" {
		physicalID = res.PhysicalResourceID
	}

	status, reason, data, noEcho := resolveStatus(req.RequestType, out, w.cfg)
	if out.fault != nil && status == cfn.StatusSuccess {
		w.logger.Error("delete failure hidden from CloudFormation; resources created by the handler may remain",
			slog.String("reason", reason),
		)
	}

	resp := &cfn.Response{
		Status:             status,
		Reason:             reason,
		PhysicalResourceID: physicalID,
		StackID:            req.StackID,
		RequestID:          req.RequestID,
		LogicalResourceID:  req.LogicalResourceID,
		NoEcho:             noEcho,
		Data:               data,
	}

	var sendErr error
	if w.cfg.SendResponse {
		sendErr = w.sender.Send(ctx, req.ResponseURL, resp)
		if sendErr != nil {
			w.logger.Error("callback delivery failed", slog.String("error", sendErr.Error()))
		}
		if w.responses != nil {
			w.responses.Add(ctx, 1, metric.WithAttributes(
				attribute.String("status", string(status)),
				attribute.Bool("delivered", sendErr == nil),
			))
		}
	} else {
		w.logger.Info("callback suppressed",
			slog.String("status", string(status)),
			slog.String("physicalResourceID", physicalID),
		)
	}

	// Runs regardless of send outcome: the retention decision depends
	// only on the request type and whether the handler faulted.
	w.applyLogRetention(ctx, req.RequestType, out.fault != nil)

	if sendErr != nil {
		return fmt.Errorf("sending callback: %w", sendErr)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Fault boundary
// ---------------------------------------------------------------------------

// outcome is the transient result of one handler invocation: either a
// value or a captured fault, never both.
type outcome struct {
	value any
	fault *fault
}

// fault carries the Go type name and message of a handler error or
// panic value.
type fault struct {
	kind    string
	message string
}

func (f *fault) reason() string {
	return fmt.Sprintf("handler failed with %s: %s", f.kind, f.message)
}

// invoke runs the handler inside the fault boundary.  Returned errors
// and panics (including panics raised by nested library calls) both
// become fault outcomes; nothing propagates past here.
func (w *Wrapper) invoke(ctx context.Context, req *cfn.Request) (out outcome) {
	ctx, span := w.tracer.Start(ctx, "adapter.invoke")
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			out = outcome{fault: &fault{kind: typeName(r), message: fmt.Sprint(r)}}
		}
	}()

	value, err := w.handler(ctx, req)
	if err != nil {
		return outcome{fault: &fault{kind: typeName(err), message: err.Error()}}
	}
	return outcome{value: value}
}

func typeName(v any) string {
	if v == nil {
		return "nil"
	}
	return reflect.TypeOf(v).String()
}

// newPhysicalResourceID mints the identifier CloudFormation will track
// the resource by.  The CloudWatch log stream name is preferred (it is
// unique per execution environment and inspectable by operators); a
// UUID covers environments without one.
func newPhysicalResourceID() string {
	if stream := lambdacontext.LogStreamName; stream != "" {
		return stream
	}
	return "cfn-" + uuid.NewString()
}
