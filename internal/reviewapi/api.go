// Package reviewapi exposes the review pipeline over HTTP.
package reviewapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/lynN18he/reviewops/internal/pipeline"
	"github.com/lynN18he/reviewops/internal/rag"
	"github.com/lynN18he/reviewops/internal/review"
)

// PipelineService defines the business operations reviewapi needs.
type PipelineService interface {
	Run(ctx context.Context, onUpdate pipeline.UpdateFunc) (*pipeline.State, error)
	History(ctx context.Context, limit int) ([]review.Entry, error)
	Get(ctx context.Context, id string) (*review.Entry, bool, error)
}

// Asker answers manual questions. It may be nil.
type Asker interface {
	Ask(ctx context.Context, question string) (*rag.Answer, error)
}

// DefaultHistoryLimit applies when ?limit is absent.
const DefaultHistoryLimit = 50

// MaxHistoryLimit caps ?limit.
const MaxHistoryLimit = 1000

// API holds dependencies for HTTP handlers.
type API struct {
	logger log.Logger
	svc    PipelineService
	asker  Asker
}

// New creates a new API handler. asker may be nil, in which case /ask
// reports 503.
func New(logger log.Logger, svc PipelineService, asker Asker) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("pipeline service is required"))
	}
	return &API{
		logger: logger,
		svc:    svc,
		asker:  asker,
	}
}

// RegisterRoutes attaches API endpoints to the router. Middleware such as
// bearer auth is applied by the caller via mw.
func (a *API) RegisterRoutes(r chi.Router, mw ...func(http.Handler) http.Handler) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(mw...)
		r.Post("/runs", a.handleRun)
		r.Get("/records", a.handleHistory)
		r.Get("/records/{id}", a.handleGetRecord)
		r.Post("/ask", a.handleAsk)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// nothing to do with errors here
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
