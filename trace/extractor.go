package trace

import (
	"encoding/base64"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	log "github.com/sirupsen/logrus"
)

// eventKind tags the closed set of recognized invocation event shapes.
// Classification runs the recognizers in a fixed priority order, so the
// kinds are mutually exclusive by construction.
type eventKind int

const (
	kindUnknown eventKind = iota
	kindHTTP
	kindSNS
	kindSNSOverSQS
	kindAppSync
	kindSQS
	kindKinesis
	kindEventBridge
)

// eventProbe is the minimal structural view of an event used to classify it
// without committing to a full typed decode.
type eventProbe struct {
	Headers    json.RawMessage `json:"headers"`
	Records    []recordProbe   `json:"Records"`
	DetailType *string         `json:"detail-type"`
	Info       *appSyncInfo    `json:"info"`
	Request    *appSyncRequest `json:"request"`
}

type recordProbe struct {
	EventSource string          `json:"eventSource"`
	SNS         json.RawMessage `json:"Sns"`
	Body        string          `json:"body"`
}

type appSyncInfo struct {
	SelectionSetGraphQL string `json:"selectionSetGraphQL"`
}

type appSyncRequest struct {
	Headers map[string]string `json:"headers"`
}

func (p *eventProbe) firstRecord() *recordProbe {
	if len(p.Records) == 0 {
		return nil
	}
	return &p.Records[0]
}

// snsEnvelope parses an SQS record body as an SNS notification. Only bodies
// that carry message attributes qualify as the SNS-over-SQS shape.
func (r *recordProbe) snsEnvelope() *events.SNSEntity {
	if r.EventSource != "aws:sqs" || r.Body == "" {
		return nil
	}
	var entity events.SNSEntity
	if err := json.Unmarshal([]byte(r.Body), &entity); err != nil {
		return nil
	}
	if entity.Type != "Notification" || entity.MessageAttributes == nil {
		return nil
	}
	return &entity
}

func isJSONObject(raw json.RawMessage) bool {
	trimmed := strings.TrimSpace(string(raw))
	return strings.HasPrefix(trimmed, "{")
}

// classify decides which known encoding an event matches, first match wins.
func classify(event json.RawMessage) eventKind {
	var probe eventProbe
	if err := json.Unmarshal(event, &probe); err != nil {
		log.WithError(err).Debug("Event is not a JSON object, skipping event extraction")
		return kindUnknown
	}
	record := probe.firstRecord()
	switch {
	case isJSONObject(probe.Headers):
		return kindHTTP
	case record != nil && isJSONObject(record.SNS):
		return kindSNS
	case record != nil && record.snsEnvelope() != nil:
		return kindSNSOverSQS
	case probe.Info != nil && probe.Info.SelectionSetGraphQL != "" && probe.Request != nil:
		return kindAppSync
	case record != nil && record.EventSource == "aws:sqs":
		return kindSQS
	case record != nil && record.EventSource == "aws:kinesis":
		return kindKinesis
	case probe.DetailType != nil:
		return kindEventBridge
	}
	return kindUnknown
}

// ExtractFromEvent classifies the invocation payload and runs the matching
// extractor. A nil result means the event carried no usable trace context;
// malformed payloads degrade to nil, never to an error.
func (c Config) ExtractFromEvent(event json.RawMessage) *Context {
	switch classify(event) {
	case kindHTTP:
		return c.extractFromHTTPEvent(event)
	case kindSNS:
		return extractFromSNSEvent(event)
	case kindSNSOverSQS:
		return extractFromSNSSQSEvent(event)
	case kindAppSync:
		return extractFromAppSyncEvent(event)
	case kindSQS:
		return extractFromSQSEvent(event)
	case kindKinesis:
		return extractFromKinesisEvent(event)
	case kindEventBridge:
		return extractFromEventBridgeEvent(event)
	}
	return nil
}

// contextFromCarrier is the shared normalize step. The three trace fields
// must all be present; the sampling priority is parsed as an integer and
// carried through verbatim.
func contextFromCarrier(carrier map[string]string) *Context {
	traceID := carrier[TraceIDKey]
	parentID := carrier[ParentIDKey]
	priority := carrier[SamplingPriorityKey]
	if traceID == "" || parentID == "" || priority == "" {
		log.Debug("Trace carrier is missing one or more trace fields")
		return nil
	}
	mode, err := strconv.Atoi(priority)
	if err != nil {
		log.WithError(err).Debug("Trace carrier has a non-integer sampling priority")
		return nil
	}
	return &Context{
		TraceID:          traceID,
		ParentID:         parentID,
		SamplingPriority: SampleMode(mode),
		Source:           SourceEvent,
	}
}

// contextFromDatadogPayload normalizes a decoded _datadog object. All three
// trace fields must be string-typed.
func contextFromDatadogPayload(payload map[string]interface{}) *Context {
	carrier := make(map[string]string, 3)
	for _, key := range []string{TraceIDKey, ParentIDKey, SamplingPriorityKey} {
		value, ok := payload[key].(string)
		if !ok {
			log.Debugf("Trace payload field %s is missing or not a string", key)
			return nil
		}
		carrier[key] = value
	}
	return contextFromCarrier(carrier)
}

// contextFromHeaders reads the trace fields from an HTTP-style header map,
// case-insensitively.
func contextFromHeaders(headers map[string]string) *Context {
	carrier := make(map[string]string, len(headers))
	for name, value := range headers {
		carrier[strings.ToLower(name)] = value
	}
	return contextFromCarrier(carrier)
}

type httpEvent struct {
	Headers map[string]string `json:"headers"`
}

func (c Config) extractFromHTTPEvent(event json.RawMessage) *Context {
	if c.DecodeAuthorizerContext {
		// An authorizer-injected identity wins outright over the headers.
		if injected := injectedAuthorizerPayload(event); injected != nil {
			return contextFromDatadogPayload(injected)
		}
	}
	var ev httpEvent
	if err := json.Unmarshal(event, &ev); err != nil {
		log.WithError(err).Debug("Could not decode HTTP event headers")
		return nil
	}
	return contextFromHeaders(ev.Headers)
}

func extractFromAppSyncEvent(event json.RawMessage) *Context {
	var ev struct {
		Request appSyncRequest `json:"request"`
	}
	if err := json.Unmarshal(event, &ev); err != nil {
		log.WithError(err).Debug("Could not decode AppSync request headers")
		return nil
	}
	return contextFromHeaders(ev.Request.Headers)
}

// contextFromMessageAttribute decodes an SNS {Type, Value} attribute. String
// values carry plain JSON, Binary values carry base64-encoded JSON; both
// decode to the same payload.
func contextFromMessageAttribute(attributes map[string]interface{}) *Context {
	attribute, ok := attributes[datadogPayloadKey].(map[string]interface{})
	if !ok {
		log.Debug("No trace attribute on the SNS message")
		return nil
	}
	value, ok := attribute["Value"].(string)
	if !ok || value == "" {
		log.Debug("Trace attribute on the SNS message has no value")
		return nil
	}
	data := []byte(value)
	if attributeType, _ := attribute["Type"].(string); attributeType == "Binary" {
		decoded, err := base64.StdEncoding.DecodeString(value)
		if err != nil {
			log.WithError(err).Debug("Could not decode the binary trace attribute")
			return nil
		}
		data = decoded
	}
	var payload map[string]interface{}
	if err := json.Unmarshal(data, &payload); err != nil {
		log.WithError(err).Debug("Could not parse the trace attribute value")
		return nil
	}
	return contextFromDatadogPayload(payload)
}

func extractFromSNSEvent(event json.RawMessage) *Context {
	var ev events.SNSEvent
	if err := json.Unmarshal(event, &ev); err != nil || len(ev.Records) == 0 {
		log.Debug("Could not decode the SNS event")
		return nil
	}
	return contextFromMessageAttribute(ev.Records[0].SNS.MessageAttributes)
}

func extractFromSNSSQSEvent(event json.RawMessage) *Context {
	var ev events.SQSEvent
	if err := json.Unmarshal(event, &ev); err != nil || len(ev.Records) == 0 {
		log.Debug("Could not decode the SQS event")
		return nil
	}
	var entity events.SNSEntity
	if err := json.Unmarshal([]byte(ev.Records[0].Body), &entity); err != nil {
		log.WithError(err).Debug("Could not parse the SNS envelope in the SQS body")
		return nil
	}
	return contextFromMessageAttribute(entity.MessageAttributes)
}

func extractFromSQSEvent(event json.RawMessage) *Context {
	var ev events.SQSEvent
	if err := json.Unmarshal(event, &ev); err != nil || len(ev.Records) == 0 {
		log.Debug("Could not decode the SQS event")
		return nil
	}
	attribute, ok := ev.Records[0].MessageAttributes[datadogPayloadKey]
	if !ok || attribute.StringValue == nil {
		log.Debug("No trace attribute on the SQS message")
		return nil
	}
	var payload map[string]interface{}
	if err := json.Unmarshal([]byte(*attribute.StringValue), &payload); err != nil {
		log.WithError(err).Debug("Could not parse the SQS trace attribute")
		return nil
	}
	return contextFromDatadogPayload(payload)
}

func extractFromKinesisEvent(event json.RawMessage) *Context {
	var ev events.KinesisEvent
	if err := json.Unmarshal(event, &ev); err != nil || len(ev.Records) == 0 {
		log.Debug("Could not decode the Kinesis event")
		return nil
	}
	// Kinesis data arrives base64-encoded; the typed record decodes it.
	var body struct {
		Datadog map[string]interface{} `json:"_datadog"`
	}
	if err := json.Unmarshal(ev.Records[0].Kinesis.Data, &body); err != nil {
		log.WithError(err).Debug("Kinesis record payload is not JSON")
		return nil
	}
	if body.Datadog == nil {
		log.Debug("No trace payload in the Kinesis record")
		return nil
	}
	return contextFromDatadogPayload(body.Datadog)
}

func extractFromEventBridgeEvent(event json.RawMessage) *Context {
	var ev events.CloudWatchEvent
	if err := json.Unmarshal(event, &ev); err != nil {
		log.WithError(err).Debug("Could not decode the EventBridge event")
		return nil
	}
	var detail struct {
		Datadog map[string]interface{} `json:"_datadog"`
	}
	if err := json.Unmarshal(ev.Detail, &detail); err != nil || detail.Datadog == nil {
		log.Debug("No trace payload in the EventBridge detail")
		return nil
	}
	return contextFromDatadogPayload(detail.Datadog)
}
