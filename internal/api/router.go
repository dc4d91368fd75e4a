// Package api exposes the trigger and read surface over HTTP and MCP.
package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/codetix2020-hash/marketingdios-sub000/internal/jobs"
	"github.com/codetix2020-hash/marketingdios-sub000/internal/learning"
	"github.com/codetix2020-hash/marketingdios-sub000/internal/memory"
	"github.com/codetix2020-hash/marketingdios-sub000/internal/orchestrator"
	"github.com/codetix2020-hash/marketingdios-sub000/internal/storage"
	"github.com/codetix2020-hash/marketingdios-sub000/internal/usage"
	"github.com/codetix2020-hash/marketingdios-sub000/internal/worker"
)

type Deps struct {
	Store        *storage.Store
	Memory       *memory.Store
	Guard        *usage.Guard
	Queue        *jobs.Queue
	Pool         *worker.Pool
	Orchestrator *orchestrator.Orchestrator
	Learning     *learning.Loop
	Gatherer     prometheus.Gatherer // nil disables /metrics
	Token        string
	Logger       *slog.Logger
}

func NewRouter(deps Deps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/tenants", handleCreateTenant(deps))
		r.Get("/tenants", handleListTenants(deps))

		r.Route("/tenants/{tenantID}", func(r chi.Router) {
			r.Post("/orchestrate", handleOrchestrate(deps))
			r.Post("/learn", handleLearn(deps))
			r.Get("/usage/{feature}", handleUsage(deps))
			r.Get("/jobs", handleListJobs(deps))
			r.Get("/decisions", handleListDecisions(deps))
			r.Get("/learning", handleListLearning(deps))
			r.Post("/memories", handleSaveMemory(deps))
			r.Get("/memories/search", handleSearchMemory(deps))
		})

		r.Post("/jobs/drain", handleDrain(deps))
		r.Get("/jobs/{jobID}", handleGetJob(deps))
		r.Post("/jobs/{jobID}/execute", handleExecute(deps))
	})
	return r
}
