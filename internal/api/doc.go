// Package api exposes the billing engine over HTTP.
//
// Operations are registered with huma on a chi router, which also generates
// the OpenAPI document served at /openapi.json and /openapi.yaml. Every /v1
// route requires an "Authorization: Bearer <api key>" header; the key is
// looked up in the users table and the user is stored in the request context
// (see GetUser). Routes under /v1/admin additionally require an admin user.
//
// # Errors
//
// Billing engine errors are mapped by mapBillingError:
//   - insufficient balance: 402 with the required and available coins
//   - provisioning gateway failure: 502 with a generic message
//   - unknown or foreign server: 404
//   - already paused, not paused, sweep in progress: 409
//
// The plain chi routes (/v1/events, /metrics) write ErrorResponse bodies
// via WriteError.
package api

import "github.com/danielgtaylor/huma/v2"

// OpenAPIInfo returns the OpenAPI info configuration for the billing API.
func OpenAPIInfo() huma.OpenAPI {
	return huma.OpenAPI{
		OpenAPI: "3.1.0",
		Info: &huma.Info{
			Title:       "Coinhost API",
			Version:     "1.0.0",
			Description: "Prepaid hourly billing for game servers.\n\nServers are charged one hour upfront from a coin balance and paused automatically when the balance runs out.",
		},
		Servers: []*huma.Server{
			{
				URL:         "http://localhost:8080",
				Description: "Local development server",
			},
		},
		Tags: []*huma.Tag{
			{Name: "Account", Description: "Balance and coin history"},
			{Name: "Billing", Description: "Rates and cost estimates"},
			{Name: "Servers", Description: "Create, pause, unpause and delete servers"},
			{Name: "Admin", Description: "Operator endpoints"},
			{Name: "Health", Description: "Health check endpoints"},
		},
	}
}

// SecuritySchemes returns the security scheme definitions.
func SecuritySchemes() map[string]*huma.SecurityScheme {
	return map[string]*huma.SecurityScheme{
		"bearerAuth": {
			Type:        "http",
			Scheme:      "bearer",
			Description: "API key authentication. Provide your API key in the Authorization header as 'Bearer YOUR_API_KEY'.",
		},
	}
}
