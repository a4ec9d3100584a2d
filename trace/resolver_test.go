package trace

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/aws/aws-lambda-go/lambdacontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolvePrefersEventContextOverDaemonHeader(t *testing.T) {
	cfg := Config{TraceHeader: sampledHeader, DecodeAuthorizerContext: true}
	event := json.RawMessage(`{"headers":{"x-datadog-trace-id":"123","x-datadog-parent-id":"456","x-datadog-sampling-priority":"2"}}`)

	resolved, _ := NewResolver(cfg, nil).Resolve(context.Background(), event)
	require.NotNil(t, resolved)
	assert.Equal(t, "123", resolved.TraceID)
	assert.Equal(t, "456", resolved.ParentID)
	assert.Equal(t, UserKeep, resolved.SamplingPriority)
	assert.Equal(t, SourceEvent, resolved.Source)
}

func TestResolveFallsBackToDaemonHeader(t *testing.T) {
	cfg := Config{TraceHeader: sampledHeader}

	resolved, _ := NewResolver(cfg, nil).Resolve(context.Background(), json.RawMessage(`{}`))
	require.NotNil(t, resolved)
	assert.Equal(t, "3995693151288333088", resolved.TraceID)
	assert.Equal(t, "797643240539575494", resolved.ParentID)
	assert.Equal(t, UserKeep, resolved.SamplingPriority)
	assert.Equal(t, SourceXray, resolved.Source)
}

func TestResolveWithoutAnySource(t *testing.T) {
	resolved, sfnContext := NewResolver(Config{}, nil).Resolve(context.Background(), json.RawMessage(`{}`))
	assert.Nil(t, resolved)
	assert.Nil(t, sfnContext)
}

func TestResolveCorruptDaemonHeader(t *testing.T) {
	cfg := Config{TraceHeader: "Root=broken"}

	resolved, _ := NewResolver(cfg, nil).Resolve(context.Background(), json.RawMessage(`{}`))
	assert.Nil(t, resolved)
}

func TestResolveCustomExtractorWins(t *testing.T) {
	custom := func(ctx context.Context, event json.RawMessage) (*Context, error) {
		return &Context{TraceID: "7", ParentID: "8", SamplingPriority: UserKeep, Source: SourceEvent}, nil
	}
	event := json.RawMessage(`{"headers":{"x-datadog-trace-id":"123","x-datadog-parent-id":"456","x-datadog-sampling-priority":"2"}}`)

	resolved, _ := NewResolver(Config{}, custom).Resolve(context.Background(), event)
	require.NotNil(t, resolved)
	assert.Equal(t, "7", resolved.TraceID)
}

func TestResolveCustomExtractorFailureFallsThrough(t *testing.T) {
	event := json.RawMessage(`{"headers":{"x-datadog-trace-id":"123","x-datadog-parent-id":"456","x-datadog-sampling-priority":"2"}}`)

	failing := func(ctx context.Context, ev json.RawMessage) (*Context, error) {
		return nil, errors.New("nope")
	}
	resolved, _ := NewResolver(Config{}, failing).Resolve(context.Background(), event)
	require.NotNil(t, resolved)
	assert.Equal(t, "123", resolved.TraceID)

	panicking := func(ctx context.Context, ev json.RawMessage) (*Context, error) {
		panic("boom")
	}
	resolved = nil
	assert.NotPanics(t, func() {
		resolved, _ = NewResolver(Config{}, panicking).Resolve(context.Background(), event)
	})
	require.NotNil(t, resolved)
	assert.Equal(t, "123", resolved.TraceID)
}

func clientContextWithCustom(custom map[string]string) context.Context {
	return lambdacontext.NewContext(context.Background(), &lambdacontext.LambdaContext{
		ClientContext: lambdacontext.ClientContext{Custom: custom},
	})
}

func TestResolveFromClientContextFlatKeys(t *testing.T) {
	ctx := clientContextWithCustom(map[string]string{
		TraceIDKey:          "321",
		ParentIDKey:         "654",
		SamplingPriorityKey: "1",
	})

	resolved, _ := NewResolver(Config{}, nil).Resolve(ctx, json.RawMessage(`{}`))
	require.NotNil(t, resolved)
	assert.Equal(t, "321", resolved.TraceID)
	assert.Equal(t, "654", resolved.ParentID)
	assert.Equal(t, AutoKeep, resolved.SamplingPriority)
	assert.Equal(t, SourceEvent, resolved.Source)
}

func TestResolveFromClientContextNestedPayload(t *testing.T) {
	ctx := clientContextWithCustom(map[string]string{
		datadogPayloadKey: datadogPayloadJSON,
	})

	resolved, _ := NewResolver(Config{}, nil).Resolve(ctx, json.RawMessage(`{}`))
	require.NotNil(t, resolved)
	assert.Equal(t, wantEventContext, resolved)
}

func TestResolveFromClientContextMalformedPayload(t *testing.T) {
	ctx := clientContextWithCustom(map[string]string{
		datadogPayloadKey: "{not json",
	})

	resolved, _ := NewResolver(Config{}, nil).Resolve(ctx, json.RawMessage(`{}`))
	assert.Nil(t, resolved)
}

func TestResolveReadsStepFunctionContextAlongsideTrace(t *testing.T) {
	cfg := Config{TraceHeader: sampledHeader}

	resolved, sfnContext := NewResolver(cfg, nil).Resolve(context.Background(), marshalEvent(t, stepFunctionEventFixture()))
	require.NotNil(t, resolved, "a workflow step still resolves the daemon context")
	assert.Equal(t, SourceXray, resolved.Source)
	require.NotNil(t, sfnContext)
	assert.Equal(t, "run-42", sfnContext.ExecutionName)
}

func TestResolveEmitsStepFunctionAndTraceSubsegments(t *testing.T) {
	conn := newUDPListener(t)
	cfg := Config{
		TraceHeader:             sampledHeader,
		DaemonAddress:           conn.LocalAddr().String(),
		DecodeAuthorizerContext: true,
	}

	// An event that is both a workflow step and carries HTTP trace headers.
	event := stepFunctionEventFixture()
	merged := map[string]interface{}{
		"headers": map[string]string{
			TraceIDKey:          "123",
			ParentIDKey:         "456",
			SamplingPriorityKey: "2",
		},
	}
	for key, value := range event {
		merged[key] = value
	}

	resolved, sfnContext := NewResolver(cfg, nil).Resolve(context.Background(), marshalEvent(t, merged))
	require.NotNil(t, resolved)
	require.NotNil(t, sfnContext)

	keys := map[string]bool{}
	for i := 0; i < 2; i++ {
		_, payload := splitDatagram(t, receiveDatagram(t, conn))
		var sent subsegment
		require.NoError(t, json.Unmarshal(payload, &sent))
		require.Contains(t, sent.Metadata, "datadog")
		for key := range sent.Metadata["datadog"] {
			keys[key] = true
		}
	}
	assert.True(t, keys[StepFunctionKey], "step function subsegment missing")
	assert.True(t, keys[TraceContextKey], "trace context subsegment missing")
}
