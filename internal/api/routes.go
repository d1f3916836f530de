package api

import (
	gocontext "context"
	"crypto/tls"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"github.com/coinhost/billing/internal/billing"
)

// Services holds all the service instances used by the API.
type Services struct {
	Account     *AccountService
	Billing     *BillingService
	Server      *ServerService
	Admin       *AdminService
	DB          DBClient
	RateLimiter *RateLimiter // optional
}

// RegisterRoutes registers all huma routes with their service handlers.
// It sets up the huma API with OpenAPI documentation and security schemes,
// then registers all endpoints with proper middleware.
func RegisterRoutes(router *chi.Mux, services *Services) huma.API {
	config := huma.DefaultConfig("Coinhost API", "1.0.0")
	config.Info = OpenAPIInfo().Info
	config.Tags = OpenAPIInfo().Tags
	config.Servers = OpenAPIInfo().Servers

	humaAPI := humachi.New(router, config)

	if humaAPI.OpenAPI().Components.SecuritySchemes == nil {
		humaAPI.OpenAPI().Components.SecuritySchemes = make(map[string]*huma.SecurityScheme)
	}
	for name, scheme := range SecuritySchemes() {
		humaAPI.OpenAPI().Components.SecuritySchemes[name] = scheme
	}

	// OpenAPI spec endpoints (unauthenticated)
	router.Get("/openapi.json", handleOpenAPIJSON(humaAPI))
	router.Get("/openapi.yaml", handleOpenAPIYAML(humaAPI))

	huma.Register(humaAPI, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
		Description: "Returns server health status. Does not require authentication.",
		Tags:        []string{"Health"},
	}, func(ctx gocontext.Context, input *HealthCheckInput) (*HealthCheckOutput, error) {
		// DB is nil in spec-generation mode
		if services.DB != nil {
			if err := services.DB.Health(ctx); err != nil {
				slog.Error("health check failed", "error", err)
				return nil, huma.Error503ServiceUnavailable("database health check failed")
			}
		}
		out := &HealthCheckOutput{}
		out.Body.Status = "ok"
		return out, nil
	})

	registerAccountRoutes(humaAPI, services)
	registerServerRoutes(humaAPI, services)
	registerAdminRoutes(humaAPI, services)

	return humaAPI
}

var securityRequirement = []map[string][]string{{"bearerAuth": {}}}

func registerAccountRoutes(humaAPI huma.API, services *Services) {
	authMiddleware := humaAuthMiddleware(humaAPI, services.DB)

	huma.Register(humaAPI, huma.Operation{
		OperationID: "getAccount",
		Method:      http.MethodGet,
		Path:        "/v1/account",
		Summary:     "Get account information",
		Description: "Returns the authenticated user and their current coin balance.",
		Tags:        []string{"Account"},
		Security:    securityRequirement,
		Middlewares: huma.Middlewares{authMiddleware},
	}, services.Account.GetAccount)

	huma.Register(humaAPI, huma.Operation{
		OperationID: "listTransactions",
		Method:      http.MethodGet,
		Path:        "/v1/account/transactions",
		Summary:     "List coin transactions",
		Description: "Returns the most recent coin transactions, newest first. Billing debits are negative.",
		Tags:        []string{"Account"},
		Security:    securityRequirement,
		Middlewares: huma.Middlewares{authMiddleware},
	}, services.Account.ListTransactions)

	huma.Register(humaAPI, huma.Operation{
		OperationID: "getBillingRates",
		Method:      http.MethodGet,
		Path:        "/v1/billing/rates",
		Summary:     "Get billing rates",
		Description: "Returns how much RAM, CPU and disk one coin buys per hour, and whether billing is enabled.",
		Tags:        []string{"Billing"},
		Security:    securityRequirement,
		Middlewares: huma.Middlewares{authMiddleware},
	}, services.Billing.GetRates)

	huma.Register(humaAPI, huma.Operation{
		OperationID: "estimateCost",
		Method:      http.MethodGet,
		Path:        "/v1/billing/estimate",
		Summary:     "Estimate hourly cost",
		Description: "Returns the hourly cost of a resource allocation under the current rates.",
		Tags:        []string{"Billing"},
		Security:    securityRequirement,
		Middlewares: huma.Middlewares{authMiddleware},
	}, services.Billing.Estimate)
}

func registerServerRoutes(humaAPI huma.API, services *Services) {
	authMiddleware := humaAuthMiddleware(humaAPI, services.DB)

	// Operations that reach the game panel are rate limited per user
	panelMiddlewares := huma.Middlewares{authMiddleware}
	if services.RateLimiter != nil {
		panelMiddlewares = append(panelMiddlewares, services.RateLimiter.HumaMiddleware(humaAPI))
	}

	huma.Register(humaAPI, huma.Operation{
		OperationID: "listServers",
		Method:      http.MethodGet,
		Path:        "/v1/servers",
		Summary:     "List servers",
		Description: "Returns the servers owned by the authenticated user.",
		Tags:        []string{"Servers"},
		Security:    securityRequirement,
		Middlewares: huma.Middlewares{authMiddleware},
	}, services.Server.ListServers)

	huma.Register(humaAPI, huma.Operation{
		OperationID:   "createServer",
		Method:        http.MethodPost,
		Path:          "/v1/servers",
		Summary:       "Create a server",
		Description:   "Provisions a server on the game panel and charges the first hour upfront. Returns 402 if the balance cannot cover the first hour.",
		Tags:          []string{"Servers"},
		Security:      securityRequirement,
		DefaultStatus: http.StatusCreated,
		Middlewares:   panelMiddlewares,
	}, services.Server.CreateServer)

	huma.Register(humaAPI, huma.Operation{
		OperationID: "getServer",
		Method:      http.MethodGet,
		Path:        "/v1/servers/{id}",
		Summary:     "Get server",
		Description: "Returns a server and its billing window.",
		Tags:        []string{"Servers"},
		Security:    securityRequirement,
		Middlewares: huma.Middlewares{authMiddleware},
	}, services.Server.GetServer)

	huma.Register(humaAPI, huma.Operation{
		OperationID: "pauseServer",
		Method:      http.MethodPost,
		Path:        "/v1/servers/{id}/pause",
		Summary:     "Pause a server",
		Description: "Suspends the server on the game panel and stops billing it.",
		Tags:        []string{"Servers"},
		Security:    securityRequirement,
		Middlewares: panelMiddlewares,
	}, services.Server.PauseServer)

	huma.Register(humaAPI, huma.Operation{
		OperationID: "unpauseServer",
		Method:      http.MethodPost,
		Path:        "/v1/servers/{id}/unpause",
		Summary:     "Unpause a server",
		Description: "Charges the next hour upfront and resumes the server. Returns 402 if the balance is too low and 502 if the panel fails, in which case the charge is refunded.",
		Tags:        []string{"Servers"},
		Security:    securityRequirement,
		Middlewares: panelMiddlewares,
	}, services.Server.UnpauseServer)

	huma.Register(humaAPI, huma.Operation{
		OperationID:   "deleteServer",
		Method:        http.MethodDelete,
		Path:          "/v1/servers/{id}",
		Summary:       "Delete a server",
		Description:   "Deletes the server from the game panel and stops billing it. Prepaid time is not refunded.",
		Tags:          []string{"Servers"},
		Security:      securityRequirement,
		DefaultStatus: http.StatusNoContent,
		Middlewares:   panelMiddlewares,
	}, services.Server.DeleteServer)

	huma.Register(humaAPI, huma.Operation{
		OperationID: "listServerAuditLogs",
		Method:      http.MethodGet,
		Path:        "/v1/servers/{id}/audit",
		Summary:     "List server audit trail",
		Description: "Returns the pause, unpause and billing audit trail of a server.",
		Tags:        []string{"Servers"},
		Security:    securityRequirement,
		Middlewares: huma.Middlewares{authMiddleware},
	}, services.Server.ListAuditLogs)

	// The WebSocket event stream (/v1/events) is registered via chi directly
	// in server.go because WebSocket upgrades don't work with huma's
	// response handling.
}

func registerAdminRoutes(humaAPI huma.API, services *Services) {
	adminMiddlewares := huma.Middlewares{
		humaAuthMiddleware(humaAPI, services.DB),
		humaAdminMiddleware(humaAPI),
	}

	huma.Register(humaAPI, huma.Operation{
		OperationID: "runBillingSweep",
		Method:      http.MethodPost,
		Path:        "/v1/admin/billing/sweep",
		Summary:     "Run a billing sweep",
		Description: "Runs one billing sweep immediately. Returns 409 if a sweep is already running.",
		Tags:        []string{"Admin"},
		Security:    securityRequirement,
		Middlewares: adminMiddlewares,
	}, services.Admin.RunSweep)

	huma.Register(humaAPI, huma.Operation{
		OperationID: "updateBillingRates",
		Method:      http.MethodPut,
		Path:        "/v1/admin/billing/rates",
		Summary:     "Update billing rates",
		Description: "Replaces the billing configuration. Every rate must be positive.",
		Tags:        []string{"Admin"},
		Security:    securityRequirement,
		Middlewares: adminMiddlewares,
	}, services.Admin.UpdateRates)

	huma.Register(humaAPI, huma.Operation{
		OperationID:   "createUser",
		Method:        http.MethodPost,
		Path:          "/v1/admin/users",
		Summary:       "Create a user",
		Description:   "Creates a user with a zero balance and returns their API key.",
		Tags:          []string{"Admin"},
		Security:      securityRequirement,
		DefaultStatus: http.StatusCreated,
		Middlewares:   adminMiddlewares,
	}, services.Admin.CreateUser)

	huma.Register(humaAPI, huma.Operation{
		OperationID: "creditCoins",
		Method:      http.MethodPost,
		Path:        "/v1/admin/users/{id}/coins",
		Summary:     "Credit coins",
		Description: "Adds coins to a user's balance and records the transaction.",
		Tags:        []string{"Admin"},
		Security:    securityRequirement,
		Middlewares: adminMiddlewares,
	}, services.Admin.CreditCoins)
}

// humaAuthMiddleware creates a huma middleware that validates the API key
// and sets the user in the context.
func humaAuthMiddleware(humaAPI huma.API, dbClient DBClient) func(ctx huma.Context, next func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		key, ok := bearerToken(ctx.Header("Authorization"))
		if !ok {
			writeHumaUnauthorized(humaAPI, ctx, "missing or malformed authorization header")
			return
		}

		user, err := dbClient.GetUserByAPIKey(ctx.Context(), key)
		if err != nil {
			if !errors.Is(err, billing.ErrUserNotFound) {
				slog.Error("failed to get user by API key", "error", err)
				_ = huma.WriteErr(humaAPI, ctx, http.StatusInternalServerError, "internal server error")
				return
			}
			writeHumaUnauthorized(humaAPI, ctx, "invalid API key")
			return
		}

		next(&humaContextWrapper{inner: ctx, overrideCtx: WithUser(ctx.Context(), user)})
	}
}

// humaAdminMiddleware rejects callers that are not admins. It must run after
// humaAuthMiddleware.
func humaAdminMiddleware(humaAPI huma.API) func(ctx huma.Context, next func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		user, ok := GetUser(ctx.Context())
		if !ok {
			writeHumaUnauthorized(humaAPI, ctx, "unauthorized")
			return
		}
		if !user.IsAdmin {
			_ = huma.WriteErr(humaAPI, ctx, http.StatusForbidden, "admin access required")
			return
		}
		next(ctx)
	}
}

// writeHumaUnauthorized writes a 401 Unauthorized response for huma middleware.
func writeHumaUnauthorized(humaAPI huma.API, ctx huma.Context, msg string) {
	ctx.SetHeader("WWW-Authenticate", `Bearer realm="coinhost"`)
	_ = huma.WriteErr(humaAPI, ctx, http.StatusUnauthorized, msg)
}

// humaContextWrapper wraps a huma.Context with a custom gocontext.Context.
type humaContextWrapper struct {
	inner       huma.Context
	overrideCtx gocontext.Context //nolint:containedctx // Required to override embedded huma.Context
}

// Implement all huma.Context methods by delegating to inner, except Context()
func (c *humaContextWrapper) Context() gocontext.Context              { return c.overrideCtx }
func (c *humaContextWrapper) Operation() *huma.Operation              { return c.inner.Operation() }
func (c *humaContextWrapper) TLS() *tls.ConnectionState               { return c.inner.TLS() }
func (c *humaContextWrapper) Version() huma.ProtoVersion              { return c.inner.Version() }
func (c *humaContextWrapper) Method() string                          { return c.inner.Method() }
func (c *humaContextWrapper) Host() string                            { return c.inner.Host() }
func (c *humaContextWrapper) RemoteAddr() string                      { return c.inner.RemoteAddr() }
func (c *humaContextWrapper) URL() url.URL                            { return c.inner.URL() }
func (c *humaContextWrapper) Param(name string) string                { return c.inner.Param(name) }
func (c *humaContextWrapper) Query(name string) string                { return c.inner.Query(name) }
func (c *humaContextWrapper) Header(name string) string               { return c.inner.Header(name) }
func (c *humaContextWrapper) EachHeader(cb func(name, value string))  { c.inner.EachHeader(cb) }
func (c *humaContextWrapper) BodyReader() io.Reader                   { return c.inner.BodyReader() }
func (c *humaContextWrapper) GetMultipartForm() (*multipart.Form, error) { return c.inner.GetMultipartForm() }
func (c *humaContextWrapper) SetReadDeadline(t time.Time) error       { return c.inner.SetReadDeadline(t) }
func (c *humaContextWrapper) SetStatus(code int)                      { c.inner.SetStatus(code) }
func (c *humaContextWrapper) Status() int                             { return c.inner.Status() }
func (c *humaContextWrapper) SetHeader(name, value string)            { c.inner.SetHeader(name, value) }
func (c *humaContextWrapper) AppendHeader(name, value string)         { c.inner.AppendHeader(name, value) }
func (c *humaContextWrapper) BodyWriter() io.Writer                   { return c.inner.BodyWriter() }
