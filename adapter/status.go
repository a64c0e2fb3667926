package adapter

import (
	"fmt"
	"unicode/utf8"

	"github.com/aws/aws-lambda-go/lambdacontext"

	"github.com/terrpan/cfnadapter/cfn"
)

// maxReasonLength caps the Reason field.  CloudFormation limits the
// whole callback body to 4 KiB; 2048 bytes leaves room for the echoed
// identifiers and Data.
const maxReasonLength = 2048

const truncationMarker = " [truncated]"

// resolveStatus maps (request type, execution outcome, configuration)
// to the final status, reason, data, and NoEcho flag.
//
// The Delete branch is the single most important policy decision in
// the adapter: a handler fault during Delete is reported as SUCCESS
// when HideDeleteFailure is set, so the stack cannot park in
// DELETE_FAILED.  The fault stays visible in Reason and Data["result"]
// and is logged at error severity by the caller.
func resolveStatus(rt cfn.RequestType, out outcome, cfg Config) (cfn.Status, string, map[string]any, bool) {
	if out.fault == nil {
		data, noEcho := normalizeData(out.value)
		return cfn.StatusSuccess, successReason(), data, noEcho
	}

	reason := truncateReason(out.fault.reason())
	if rt == cfn.Delete && cfg.HideDeleteFailure {
		return cfn.StatusSuccess, reason, map[string]any{"result": reason}, false
	}
	return cfn.StatusFailed, reason, map[string]any{}, false
}

// successReason points operators at the log stream that holds the full
// execution detail.
func successReason() string {
	if stream := lambdacontext.LogStreamName; stream != "" {
		return fmt.Sprintf("See the details in CloudWatch Log Stream: %s", stream)
	}
	return "execution succeeded"
}

// normalizeData shapes a handler return value into the response Data
// mapping and NoEcho flag.
func normalizeData(value any) (map[string]any, bool) {
	switch v := value.(type) {
	case nil:
		return map[string]any{}, false
	case *Result:
		if v == nil {
			return map[string]any{}, false
		}
		data := v.Data
		if data == nil {
			data = map[string]any{}
		}
		return data, v.NoEcho
	case map[string]any:
		return v, false
	default:
		return map[string]any{"result": v}, false
	}
}

// truncateReason enforces maxReasonLength without splitting a UTF-8
// sequence.  Truncated reasons end in a marker so operators know to
// look at the logs for the rest.
func truncateReason(s string) string {
	if len(s) <= maxReasonLength {
		return s
	}
	cut := maxReasonLength - len(truncationMarker)
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + truncationMarker
}
