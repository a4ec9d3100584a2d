package trace

import (
	"fmt"
	"os"
	"strings"
)

// Environment variables injected by the Lambda platform for the X-Ray
// daemon sidecar.
const (
	TraceHeaderEnvVar   = "_X_AMZN_TRACE_ID"
	DaemonAddressEnvVar = "AWS_XRAY_DAEMON_ADDRESS"
)

// Config is the per-invocation snapshot of the daemon environment. Reading
// it once up front keeps the leaf functions pure and testable by injection.
type Config struct {
	// TraceHeader is the raw daemon header,
	// Root=1-<8 hex>-<24 hex>;Parent=<16 hex>;Sampled=<0|1>.
	TraceHeader string
	// DaemonAddress is the daemon's UDP address as host:port.
	DaemonAddress string
	// DecodeAuthorizerContext enables the API Gateway authorizer-injected
	// context override on the HTTP extraction path.
	DecodeAuthorizerContext bool
}

// LoadConfig snapshots the daemon environment for one invocation.
func LoadConfig() Config {
	return Config{
		TraceHeader:             os.Getenv(TraceHeaderEnvVar),
		DaemonAddress:           os.Getenv(DaemonAddressEnvVar),
		DecodeAuthorizerContext: true,
	}
}

// traceHeader is the parsed form of the daemon environment header. It is
// ephemeral: parsed, converted, discarded.
type traceHeader struct {
	// traceID is the full Root value, e.g. 1-5e272390-8c398be037738dc042009320.
	traceID string
	// parentID is 16 hex characters.
	parentID string
	// sampled is "0" or "1".
	sampled string
}

// parseTraceHeader parses and validates the daemon environment header. A
// malformed header is rejected wholesale, never partially trusted.
func parseTraceHeader(header string) (*traceHeader, error) {
	var parsed traceHeader
	for _, part := range strings.Split(header, ";") {
		switch {
		case strings.HasPrefix(part, "Root="):
			parsed.traceID = strings.TrimPrefix(part, "Root=")
		case strings.HasPrefix(part, "Parent="):
			parsed.parentID = strings.TrimPrefix(part, "Parent=")
		case strings.HasPrefix(part, "Sampled="):
			parsed.sampled = strings.TrimPrefix(part, "Sampled=")
		}
	}
	tail, err := traceIDTail(parsed.traceID)
	if err != nil {
		return nil, err
	}
	if !isHex(tail, 24) {
		return nil, fmt.Errorf("trace id tail %q is not 24 hex characters", tail)
	}
	if !isHex(parsed.parentID, 16) {
		return nil, fmt.Errorf("parent id %q is not 16 hex characters", parsed.parentID)
	}
	if parsed.sampled == "" {
		return nil, fmt.Errorf("header %q carries no Sampled flag", header)
	}
	return &parsed, nil
}

// traceIDTail returns the random 96-bit segment of an X-Ray trace id.
func traceIDTail(traceID string) (string, error) {
	parts := strings.Split(traceID, "-")
	if len(parts) != 3 {
		return "", fmt.Errorf("trace id %q is not version-epoch-identifier formed", traceID)
	}
	return parts[2], nil
}

func isHex(value string, length int) bool {
	if len(value) != length {
		return false
	}
	for _, c := range value {
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

// contextFromXray derives a collector trace context from the daemon's own
// environment header. This is the fallback source when no upstream caller
// supplied one.
func contextFromXray(header string) (*Context, error) {
	parsed, err := parseTraceHeader(header)
	if err != nil {
		return nil, err
	}
	tail, err := traceIDTail(parsed.traceID)
	if err != nil {
		return nil, err
	}
	traceID, err := ConvertTraceID(tail)
	if err != nil {
		return nil, err
	}
	parentID, err := ConvertParentID(parsed.parentID)
	if err != nil {
		return nil, err
	}
	return &Context{
		TraceID:          traceID,
		ParentID:         parentID,
		SamplingPriority: ConvertSampleDecision(parsed.sampled),
		Source:           SourceXray,
	}, nil
}
