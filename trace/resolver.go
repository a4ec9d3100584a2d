package trace

import (
	"context"
	"encoding/json"

	"github.com/aws/aws-lambda-go/lambdacontext"
	log "github.com/sirupsen/logrus"
)

// ContextExtractor lets callers supply their own extraction logic, tried
// before the built-in event shapes. Returning nil or an error (or panicking)
// falls through to the built-in path.
type ContextExtractor func(ctx context.Context, event json.RawMessage) (*Context, error)

// Resolver sequences the extraction sources for one invocation: the custom
// extractor, then the event shapes, then the client context, then the
// daemon's own environment header. An explicit upstream trace always
// outranks the daemon segment, which only reflects this single invocation.
type Resolver struct {
	cfg       Config
	extractor ContextExtractor
}

// NewResolver builds a resolver around a per-invocation environment
// snapshot. extractor may be nil.
func NewResolver(cfg Config, extractor ContextExtractor) *Resolver {
	return &Resolver{cfg: cfg, extractor: extractor}
}

// Resolve extracts the trace context of an invocation and republishes it to
// the local daemon as a side effect. It never fails: a nil Context means no
// trace identity could be resolved. The step-function context is read
// unconditionally and returned alongside.
func (r *Resolver) Resolve(ctx context.Context, event json.RawMessage) (*Context, *StepFunctionContext) {
	resolved := r.resolveEventContext(ctx, event)

	sfnContext := ReadStepFunctionContext(event)
	if sfnContext != nil {
		r.cfg.Submit(StepFunctionKey, sfnContext)
	}

	if resolved != nil {
		r.cfg.Submit(TraceContextKey, resolved)
		return resolved, sfnContext
	}

	if r.cfg.TraceHeader == "" {
		log.Debug("No trace context found for the invocation")
		return nil, sfnContext
	}
	fromXray, err := contextFromXray(r.cfg.TraceHeader)
	if err != nil {
		log.WithError(err).Error("Could not parse the daemon trace header")
		return nil, sfnContext
	}
	return fromXray, sfnContext
}

func (r *Resolver) resolveEventContext(ctx context.Context, event json.RawMessage) *Context {
	if r.extractor != nil {
		if resolved := r.runCustomExtractor(ctx, event); resolved != nil {
			return resolved
		}
	}
	if resolved := r.cfg.ExtractFromEvent(event); resolved != nil {
		return resolved
	}
	return contextFromClientContext(ctx)
}

// runCustomExtractor isolates caller-supplied logic; failures of any kind
// degrade to "no context" and extraction continues with built-in sources.
func (r *Resolver) runCustomExtractor(ctx context.Context, event json.RawMessage) (resolved *Context) {
	defer func() {
		if recovered := recover(); recovered != nil {
			log.Debugf("Custom trace extractor panicked: %v", recovered)
			resolved = nil
		}
	}()
	fromCustom, err := r.extractor(ctx, event)
	if err != nil {
		log.WithError(err).Debug("Custom trace extractor failed")
		return nil
	}
	return fromCustom
}

// contextFromClientContext reads trace fields from the invocation's client
// context. Two shapes are accepted: a _datadog entry holding a JSON object,
// or the three trace keys set directly as custom values.
func contextFromClientContext(ctx context.Context) *Context {
	lambdaContext, ok := lambdacontext.FromContext(ctx)
	if !ok || lambdaContext.ClientContext.Custom == nil {
		return nil
	}
	custom := lambdaContext.ClientContext.Custom
	if blob, present := custom[datadogPayloadKey]; present {
		var payload map[string]interface{}
		if err := json.Unmarshal([]byte(blob), &payload); err != nil {
			log.WithError(err).Debug("Could not parse the _datadog client context")
			return nil
		}
		return contextFromDatadogPayload(payload)
	}
	return contextFromCarrier(map[string]string{
		TraceIDKey:          custom[TraceIDKey],
		ParentIDKey:         custom[ParentIDKey],
		SamplingPriorityKey: custom[SamplingPriorityKey],
	})
}
