package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi"
	log "github.com/sirupsen/logrus"

	"github.com/apmtools/lambda-tracecontext/trace"
)

func newInspectServer(address string) *http.Server {
	r := chi.NewRouter()

	r.Post("/extract", ExtractHandler())

	return &http.Server{
		Addr:    address,
		Handler: r,
	}
}

// ExtractHandler resolves the trace context of the posted invocation event.
// The environment is re-read per request, so the handler picks up header and
// daemon address changes without a restart.
func ExtractHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload, err := io.ReadAll(r.Body)
		if err != nil {
			log.WithError(err).Error("Failed to read the event payload")
			http.Error(w, "could not read the request body", http.StatusBadRequest)
			return
		}

		resolved, sfnContext := resolvePayload(r.Context(), payload)

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(extractResult{Context: resolved, StepFunction: sfnContext}); err != nil {
			log.WithError(err).Error("Failed to encode the extraction result")
		}
	}
}

func resolvePayload(ctx context.Context, payload []byte) (*trace.Context, *trace.StepFunctionContext) {
	cfg := trace.LoadConfig()
	return trace.NewResolver(cfg, nil).Resolve(ctx, payload)
}
