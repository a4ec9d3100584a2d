package trace

import (
	"encoding/base64"
	"encoding/json"
	"strconv"

	log "github.com/sirupsen/logrus"
)

// authorizerEvent is the slice of the API Gateway request shape needed to
// find an authorizer-injected payload. REST APIs (payload v1) keep it
// directly on the authorizer object, HTTP APIs (payload v2) nest it under
// "lambda".
type authorizerEvent struct {
	RequestContext struct {
		RequestID  string                 `json:"requestId"`
		Authorizer map[string]interface{} `json:"authorizer"`
	} `json:"requestContext"`
}

// injectedAuthorizerPayload returns the decoded _datadog blob planted by a
// Lambda authorizer, but only when this invocation is the authorizing call
// itself: either the authorizer ran inline (positive integrationLatency) or
// the injected payload names the current request id. A cached authorization
// belongs to an earlier request's trace and must not hijack this one.
func injectedAuthorizerPayload(event json.RawMessage) map[string]interface{} {
	var ev authorizerEvent
	if err := json.Unmarshal(event, &ev); err != nil || ev.RequestContext.Authorizer == nil {
		return nil
	}
	authorizer := ev.RequestContext.Authorizer
	if nested, ok := authorizer["lambda"].(map[string]interface{}); ok {
		authorizer = nested
	}
	blob, ok := authorizer[datadogPayloadKey].(string)
	if !ok || blob == "" {
		return nil
	}
	decoded, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		log.WithError(err).Debug("Could not decode the authorizer trace payload")
		return nil
	}
	var payload map[string]interface{}
	if err := json.Unmarshal(decoded, &payload); err != nil {
		log.WithError(err).Debug("Could not parse the authorizer trace payload")
		return nil
	}
	if integrationLatency(ev.RequestContext.Authorizer) > 0 || integrationLatency(authorizer) > 0 {
		return payload
	}
	if requestID, _ := payload[authorizingRequestIDKey].(string); requestID != "" && requestID == ev.RequestContext.RequestID {
		return payload
	}
	log.Debug("Authorizer trace payload is from a cached authorization, ignoring it")
	return nil
}

// integrationLatency reads the authorizer's integration latency, which API
// Gateway reports as a number but some payloads carry as a string.
func integrationLatency(authorizer map[string]interface{}) float64 {
	switch value := authorizer["integrationLatency"].(type) {
	case float64:
		return value
	case string:
		latency, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return 0
		}
		return latency
	}
	return 0
}
