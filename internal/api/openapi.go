package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"
	"gopkg.in/yaml.v3"
)

// handleOpenAPIJSON serves the OpenAPI spec as JSON.
func handleOpenAPIJSON(api huma.API) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if api == nil {
			http.Error(w, "OpenAPI spec not available", http.StatusServiceUnavailable)
			return
		}
		spec, err := api.OpenAPI().MarshalJSON()
		if err != nil {
			http.Error(w, fmt.Sprintf("failed to generate OpenAPI spec: %v", err), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(spec)
	}
}

// handleOpenAPIYAML serves the OpenAPI spec as YAML.
func handleOpenAPIYAML(api huma.API) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if api == nil {
			http.Error(w, "OpenAPI spec not available", http.StatusServiceUnavailable)
			return
		}
		yamlBytes, err := yaml.Marshal(api.OpenAPI())
		if err != nil {
			http.Error(w, fmt.Sprintf("failed to generate OpenAPI spec: %v", err), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/x-yaml")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(yamlBytes)
	}
}

// GenerateOpenAPISpec generates the OpenAPI specification without a database
// or billing engine. Handlers are registered but never called.
func GenerateOpenAPISpec() ([]byte, error) {
	humaAPI := RegisterRoutes(chi.NewRouter(), &Services{})
	registerEventsDoc(humaAPI)
	return humaAPI.OpenAPI().MarshalJSON()
}

// registerEventsDoc documents the WebSocket event stream, which is served by
// chi and so absent from the live huma API.
func registerEventsDoc(humaAPI huma.API) {
	huma.Register(humaAPI, huma.Operation{
		OperationID: "streamEvents",
		Method:      http.MethodGet,
		Path:        "/v1/events",
		Summary:     "Stream billing events via WebSocket",
		Description: "Upgrade to WebSocket to receive the caller's billing events as JSON text messages: " +
			"`{\"type\": \"charged|paused|auto_paused|unpaused|refunded|created|deleted\", \"server_id\": \"...\", \"coins\": 5, \"at\": \"...\"}`. " +
			"Client messages are ignored.",
		Tags:     []string{"Servers"},
		Security: securityRequirement,
	}, func(ctx context.Context, input *EventsInput) (*HealthCheckOutput, error) {
		return nil, nil
	})
}
