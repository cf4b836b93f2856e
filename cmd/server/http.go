package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/linnemanlabs/go-core/httpmw"
	"github.com/linnemanlabs/go-core/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/lynN18he/reviewops/internal/authmw"
	"github.com/lynN18he/reviewops/internal/postgres"
	"github.com/lynN18he/reviewops/internal/reviewapi"
)

const (
	healthyPath = "/-/healthy"
	readyPath   = "/-/ready"

	// maxRequestBody bounds POST bodies; /ask questions are far smaller.
	maxRequestBody = 64 << 10
)

// apiDeps is everything the public listener serves.
type apiDeps struct {
	logger     log.Logger
	api        *reviewapi.API
	apiToken   string
	healthy    http.HandlerFunc
	ready      http.HandlerFunc
	instrument func(http.Handler) http.Handler
	clientIP   httpmw.ClientIPOptions
}

// newAPIHandler builds the router and wraps it in the middleware chain.
// Wrappers applied later sit further out and see the request first.
func newAPIHandler(d apiDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Compress(5, "application/json", "application/x-ndjson"))
	r.Use(httpmw.AnnotateHTTPRoute)
	r.Use(withQueryOrigin)
	r.Use(httpmw.AccessLog())
	r.Use(httpmw.MaxBody(maxRequestBody))

	r.Get(healthyPath, d.healthy)
	r.Get(readyPath, d.ready)

	d.api.RegisterRoutes(r, authmw.BearerToken(d.apiToken))

	var h http.Handler = r
	h = httpmw.WithLogger(d.logger)(h)
	h = httpmw.TraceResponseHeaders("X-Trace-Id", "X-Span-Id")(h)
	h = otelhttp.NewHandler(h, "http.server",
		otelhttp.WithFilter(func(r *http.Request) bool {
			return r.URL.Path != healthyPath && r.URL.Path != readyPath
		}),
		// AnnotateHTTPRoute renames the span to the route pattern
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
		otelhttp.WithPublicEndpointFn(func(_ *http.Request) bool { return true }),
	)
	if d.instrument != nil {
		h = d.instrument(h)
	}
	h = httpmw.ClientIPWithOptions(d.clientIP)(h)
	h = httpmw.RequestID("X-Request-Id")(h)
	h = httpmw.Recover(d.logger, nil)(h)
	h = httpmw.SecurityHeaders(h)
	return h
}

// withQueryOrigin labels DB queries issued while serving a request with its
// HTTP method.
func withQueryOrigin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(postgres.WithHTTPMethod(r.Context(), r.Method)))
	})
}
