// Package trace resolves the distributed-tracing identity of a Lambda
// invocation. It extracts trace headers carried inside the invocation event
// (or the client context, or the X-Ray daemon environment), converts them to
// the collector's decimal id space, and republishes the result to the local
// tracing daemon as a metadata subsegment.
package trace

// Trace field keys carried in event payloads and HTTP headers. The keys are
// case-sensitive inside JSON payloads; HTTP header lookup lowercases first.
const (
	TraceIDKey          = "x-datadog-trace-id"
	ParentIDKey         = "x-datadog-parent-id"
	SamplingPriorityKey = "x-datadog-sampling-priority"

	// authorizingRequestIDKey marks which request an authorizer-injected
	// payload was minted for, so cached authorizations can be told apart.
	authorizingRequestIDKey = "x-datadog-authorizing-requestid"

	// datadogPayloadKey is where upstream callers plant trace fields inside
	// message attributes, event details and client contexts.
	datadogPayloadKey = "_datadog"
)

// Subsegment namespace keys accepted by Config.Submit.
const (
	TraceContextKey = "trace"
	StepFunctionKey = "step_function"
	FunctionTagsKey = "lambda_function_tags"

	subsegmentName      = "datadog-metadata"
	subsegmentNamespace = "datadog"
)

// SampleMode is the sampling decision carried with a trace. Values outside
// the documented set are passed through as extracted, not re-derived.
type SampleMode int

const (
	UserReject SampleMode = -1
	AutoReject SampleMode = 0
	AutoKeep   SampleMode = 1
	UserKeep   SampleMode = 2
)

func (m SampleMode) String() string {
	switch m {
	case UserReject:
		return "USER_REJECT"
	case AutoReject:
		return "AUTO_REJECT"
	case AutoKeep:
		return "AUTO_KEEP"
	case UserKeep:
		return "USER_KEEP"
	}
	return "UNKNOWN"
}

// Source says where a resolved context came from: an upstream caller's
// payload, or the local X-Ray daemon segment.
type Source string

const (
	SourceEvent Source = "event"
	SourceXray  Source = "xray"
)

// Context is the resolved tracing identity of an invocation. All id fields
// are decimal strings; they routinely exceed 2^53 and must never round-trip
// through a float. A Context is only constructed with all fields populated
// and is safe to pass across goroutines.
type Context struct {
	TraceID          string     `json:"trace-id"`
	ParentID         string     `json:"parent-id"`
	SamplingPriority SampleMode `json:"sampling-priority"`
	Source           Source     `json:"source"`
}
