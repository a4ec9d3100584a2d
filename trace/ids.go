package trace

import (
	"fmt"
	"math/big"
	"strconv"
)

// collectorIDSpace is 2^63, the size of the collector's id space.
var collectorIDSpace = new(big.Int).Lsh(big.NewInt(1), 63)

// ConvertTraceID converts the 24-hex-character tail of an X-Ray trace id
// (the third dash-delimited segment of Root=) to the collector's decimal
// form. The X-Ray id space is 96 bits wide and the collector's is 63, so the
// value is reduced modulo 2^63; the reduction is deterministic so both sides
// of a request agree on the same numeric id.
func ConvertTraceID(hexTail string) (string, error) {
	if len(hexTail) != 24 {
		return "", fmt.Errorf("trace id tail %q is not 24 hex characters", hexTail)
	}
	value, ok := new(big.Int).SetString(hexTail, 16)
	if !ok || value.Sign() < 0 {
		return "", fmt.Errorf("trace id tail %q is not a non-negative hex integer", hexTail)
	}
	return new(big.Int).Mod(value, collectorIDSpace).String(), nil
}

// ConvertParentID converts a 16-hex-character X-Ray parent id to decimal.
// The value already fits the collector's 64-bit space, so it round-trips
// without truncation.
func ConvertParentID(hexID string) (string, error) {
	if len(hexID) != 16 {
		return "", fmt.Errorf("parent id %q is not 16 hex characters", hexID)
	}
	value, err := strconv.ParseUint(hexID, 16, 64)
	if err != nil {
		return "", fmt.Errorf("parent id %q is not a hex integer: %w", hexID, err)
	}
	return strconv.FormatUint(value, 10), nil
}

// ConvertSampleDecision maps the daemon header's Sampled flag to a sample
// mode. The daemon only ever writes 0 or 1 here.
func ConvertSampleDecision(flag string) SampleMode {
	if flag == "1" {
		return UserKeep
	}
	return UserReject
}
