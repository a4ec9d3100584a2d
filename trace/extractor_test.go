package trace

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const datadogPayloadJSON = `{"x-datadog-trace-id":"123456789","x-datadog-parent-id":"987654321","x-datadog-sampling-priority":"2"}`

var wantEventContext = &Context{
	TraceID:          "123456789",
	ParentID:         "987654321",
	SamplingPriority: UserKeep,
	Source:           SourceEvent,
}

func snsEventFixture(attributeType, value string) json.RawMessage {
	attribute := fmt.Sprintf(`{"Type":%q,"Value":%q}`, attributeType, value)
	return json.RawMessage(fmt.Sprintf(
		`{"Records":[{"EventSource":"aws:sns","Sns":{"Type":"Notification","TopicArn":"arn:aws:sns:us-east-1:123456789012:my-topic","MessageAttributes":{"_datadog":%s}}}]}`,
		attribute))
}

func sqsEventFixture(stringValue string) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(
		`{"Records":[{"eventSource":"aws:sqs","body":"business payload","messageAttributes":{"_datadog":{"dataType":"String","stringValue":%s}}}]}`,
		strconv.Quote(stringValue)))
}

func snsOverSQSEventFixture(value string) json.RawMessage {
	body := fmt.Sprintf(`{"Type":"Notification","MessageAttributes":{"_datadog":{"Type":"String","Value":%s}}}`, strconv.Quote(value))
	return json.RawMessage(fmt.Sprintf(
		`{"Records":[{"eventSource":"aws:sqs","body":%s}]}`, strconv.Quote(body)))
}

func kinesisEventFixture(payload string) json.RawMessage {
	data := base64.StdEncoding.EncodeToString([]byte(fmt.Sprintf(`{"_datadog":%s}`, payload)))
	return json.RawMessage(fmt.Sprintf(
		`{"Records":[{"eventSource":"aws:kinesis","kinesis":{"data":%q}}]}`, data))
}

func eventBridgeEventFixture(payload string) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(
		`{"detail-type":"OrderCreated","source":"com.example.orders","detail":{"_datadog":%s}}`, payload))
}

func appSyncEventFixture() json.RawMessage {
	return json.RawMessage(fmt.Sprintf(
		`{"info":{"selectionSetGraphQL":"{ items }"},"request":{"headers":%s}}`, datadogPayloadJSON))
}

func httpEventFixture() json.RawMessage {
	return json.RawMessage(`{"headers":{"X-Datadog-Trace-Id":"123456789","X-DATADOG-PARENT-ID":"987654321","x-datadog-sampling-priority":"2"}}`)
}

func TestClassifyIsExclusive(t *testing.T) {
	fixtures := map[eventKind]json.RawMessage{
		kindHTTP:        httpEventFixture(),
		kindSNS:         snsEventFixture("String", datadogPayloadJSON),
		kindSNSOverSQS:  snsOverSQSEventFixture(datadogPayloadJSON),
		kindAppSync:     appSyncEventFixture(),
		kindSQS:         sqsEventFixture(datadogPayloadJSON),
		kindKinesis:     kinesisEventFixture(datadogPayloadJSON),
		kindEventBridge: eventBridgeEventFixture(datadogPayloadJSON),
	}
	for want, fixture := range fixtures {
		assert.Equal(t, want, classify(fixture), "fixture %s", fixture)
	}
}

func TestClassifyUnknownShapes(t *testing.T) {
	for _, event := range []string{`{}`, `"just a string"`, `[1,2,3]`, `{"Records":[]}`, `{"headers":null}`, `not json`} {
		assert.Equal(t, kindUnknown, classify(json.RawMessage(event)), "event %s", event)
	}
}

func TestExtractFromHTTPEventHeadersAreCaseInsensitive(t *testing.T) {
	resolved := Config{}.ExtractFromEvent(httpEventFixture())
	assert.Equal(t, wantEventContext, resolved)
}

func TestExtractFromHTTPEventMissingField(t *testing.T) {
	event := json.RawMessage(`{"headers":{"x-datadog-trace-id":"123456789","x-datadog-parent-id":"987654321"}}`)
	assert.Nil(t, Config{}.ExtractFromEvent(event))
}

func TestExtractFromHTTPEventNonIntegerPriority(t *testing.T) {
	event := json.RawMessage(`{"headers":{"x-datadog-trace-id":"123456789","x-datadog-parent-id":"987654321","x-datadog-sampling-priority":"often"}}`)
	assert.Nil(t, Config{}.ExtractFromEvent(event))
}

func TestExtractFromHTTPEventPassesPriorityThrough(t *testing.T) {
	// Out-of-range priorities are carried verbatim, not clamped.
	event := json.RawMessage(`{"headers":{"x-datadog-trace-id":"123456789","x-datadog-parent-id":"987654321","x-datadog-sampling-priority":"7"}}`)
	resolved := Config{}.ExtractFromEvent(event)
	require.NotNil(t, resolved)
	assert.Equal(t, SampleMode(7), resolved.SamplingPriority)
}

func TestExtractFromSNSEventStringAttribute(t *testing.T) {
	resolved := Config{}.ExtractFromEvent(snsEventFixture("String", datadogPayloadJSON))
	assert.Equal(t, wantEventContext, resolved)
}

func TestExtractFromSNSEventBinaryAttribute(t *testing.T) {
	encoded := base64.StdEncoding.EncodeToString([]byte(datadogPayloadJSON))
	fromBinary := Config{}.ExtractFromEvent(snsEventFixture("Binary", encoded))
	fromString := Config{}.ExtractFromEvent(snsEventFixture("String", datadogPayloadJSON))
	require.NotNil(t, fromBinary)
	assert.Equal(t, fromString, fromBinary)
}

func TestExtractFromSNSEventBadBinaryAttribute(t *testing.T) {
	assert.Nil(t, Config{}.ExtractFromEvent(snsEventFixture("Binary", "%%% not base64 %%%")))
}

func TestExtractFromSNSOverSQSEvent(t *testing.T) {
	resolved := Config{}.ExtractFromEvent(snsOverSQSEventFixture(datadogPayloadJSON))
	assert.Equal(t, wantEventContext, resolved)
}

func TestExtractFromSQSEvent(t *testing.T) {
	resolved := Config{}.ExtractFromEvent(sqsEventFixture(datadogPayloadJSON))
	assert.Equal(t, wantEventContext, resolved)
}

func TestExtractFromSQSEventWithoutAttribute(t *testing.T) {
	event := json.RawMessage(`{"Records":[{"eventSource":"aws:sqs","body":"business payload","messageAttributes":{}}]}`)
	assert.Nil(t, Config{}.ExtractFromEvent(event))
}

func TestExtractFromKinesisEvent(t *testing.T) {
	resolved := Config{}.ExtractFromEvent(kinesisEventFixture(datadogPayloadJSON))
	assert.Equal(t, wantEventContext, resolved)
}

func TestExtractFromKinesisEventNonJSONPayload(t *testing.T) {
	data := base64.StdEncoding.EncodeToString([]byte("plain text record"))
	event := json.RawMessage(fmt.Sprintf(`{"Records":[{"eventSource":"aws:kinesis","kinesis":{"data":%q}}]}`, data))
	assert.Nil(t, Config{}.ExtractFromEvent(event))
}

func TestExtractFromEventBridgeEvent(t *testing.T) {
	resolved := Config{}.ExtractFromEvent(eventBridgeEventFixture(datadogPayloadJSON))
	assert.Equal(t, wantEventContext, resolved)
}

func TestExtractFromAppSyncEvent(t *testing.T) {
	resolved := Config{}.ExtractFromEvent(appSyncEventFixture())
	assert.Equal(t, wantEventContext, resolved)
}

func TestExtractRejectsNonStringTraceFields(t *testing.T) {
	payload := `{"x-datadog-trace-id":123456789,"x-datadog-parent-id":"987654321","x-datadog-sampling-priority":"2"}`
	assert.Nil(t, Config{}.ExtractFromEvent(eventBridgeEventFixture(payload)))
}
