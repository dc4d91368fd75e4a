package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/codetix2020-hash/marketingdios-sub000/internal/jobs"
	"github.com/codetix2020-hash/marketingdios-sub000/internal/memory"
	"github.com/codetix2020-hash/marketingdios-sub000/internal/storage"
	"github.com/codetix2020-hash/marketingdios-sub000/internal/usage"
)

type CreateTenantRequest struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Plan  string `json:"plan"`
	Units []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"units"`
}

type TenantResponse struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Plan      string         `json:"plan"`
	Units     []UnitResponse `json:"units"`
	CreatedAt time.Time      `json:"createdAt"`
}

type UnitResponse struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func handleCreateTenant(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateTenantRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if strings.TrimSpace(req.Name) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "name is required")
			return
		}
		if req.Plan == "" {
			req.Plan = "free"
		}
		if _, ok := usage.Plans[req.Plan]; !ok {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "unknown plan %q", req.Plan)
			return
		}
		if req.ID == "" {
			req.ID = uuid.New().String()
		}

		t := storage.Tenant{ID: req.ID, Name: req.Name, Plan: req.Plan, CreatedAt: time.Now().UTC()}
		resp := TenantResponse{ID: t.ID, Name: t.Name, Plan: t.Plan, CreatedAt: t.CreatedAt, Units: []UnitResponse{}}
		units := make([]storage.Unit, 0, len(req.Units))
		for _, u := range req.Units {
			if u.ID == "" {
				u.ID = uuid.New().String()
			}
			units = append(units, storage.Unit{ID: u.ID, TenantID: t.ID, Name: u.Name})
			resp.Units = append(resp.Units, UnitResponse{ID: u.ID, Name: u.Name})
		}
		if err := deps.Store.CreateTenant(r.Context(), t, units); err != nil {
			fail(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, resp)
	}
}

func handleListTenants(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenants, err := deps.Store.ListTenants(r.Context())
		if err != nil {
			fail(w, err)
			return
		}
		out := make([]TenantResponse, 0, len(tenants))
		for _, t := range tenants {
			units, err := deps.Store.ListUnits(r.Context(), t.ID)
			if err != nil {
				fail(w, err)
				return
			}
			resp := TenantResponse{ID: t.ID, Name: t.Name, Plan: t.Plan, CreatedAt: t.CreatedAt, Units: make([]UnitResponse, 0, len(units))}
			for _, u := range units {
				resp.Units = append(resp.Units, UnitResponse{ID: u.ID, Name: u.Name})
			}
			out = append(out, resp)
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func handleOrchestrate(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID := chi.URLParam(r, "tenantID")
		reports, err := deps.Orchestrator.RunTenant(r.Context(), tenantID)
		if err != nil && reports == nil {
			fail(w, err)
			return
		}
		if err != nil {
			// Some units failed; report each one so the caller can retry later.
			writeJSON(w, http.StatusBadGateway, map[string]any{
				"cycles": reports,
				"error":  map[string]any{"message": err.Error(), "type": "upstream_error"},
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"cycles": reports})
	}
}

func handleLearn(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID := chi.URLParam(r, "tenantID")
		if _, err := deps.Store.GetTenant(r.Context(), tenantID); err != nil {
			fail(w, err)
			return
		}
		report, err := deps.Learning.Run(r.Context(), tenantID)
		if err != nil {
			httpError(w, http.StatusBadGateway, "upstream_error", "%v", err)
			return
		}
		writeJSON(w, http.StatusOK, report)
	}
}

func handleUsage(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, err := deps.Guard.Check(r.Context(), chi.URLParam(r, "tenantID"), chi.URLParam(r, "feature"))
		if err != nil {
			fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, v)
	}
}

func handleDrain(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report, err := deps.Pool.DrainOnce(r.Context())
		if err != nil {
			fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, report)
	}
}

func handleExecute(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := deps.Pool.Execute(r.Context(), chi.URLParam(r, "jobID"))
		if err != nil && res.JobID == "" {
			fail(w, err)
			return
		}
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, res)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func handleGetJob(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := deps.Queue.Get(r.Context(), chi.URLParam(r, "jobID"))
		if err != nil {
			fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, job)
	}
}

func handleListJobs(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := jobs.Status(r.URL.Query().Get("status"))
		limit := parseIntParam(r, "limit", 50, 500)
		list, err := deps.Queue.List(r.Context(), chi.URLParam(r, "tenantID"), status, limit)
		if err != nil {
			fail(w, err)
			return
		}
		if list == nil {
			list = []jobs.Job{}
		}
		writeJSON(w, http.StatusOK, list)
	}
}

type DecisionResponse struct {
	ID         string          `json:"id"`
	UnitID     string          `json:"unitId,omitempty"`
	AgentType  string          `json:"agentType"`
	Plan       json.RawMessage `json:"rawPlan"`
	Reasoning  string          `json:"reasoning,omitempty"`
	Context    json.RawMessage `json:"context"`
	CreatedAt  time.Time       `json:"createdAt"`
	ExecutedAt *time.Time      `json:"executedAt,omitempty"`
}

func handleListDecisions(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ds, err := deps.Store.ListDecisions(r.Context(), chi.URLParam(r, "tenantID"), parseIntParam(r, "limit", 20, 200))
		if err != nil {
			fail(w, err)
			return
		}
		out := make([]DecisionResponse, 0, len(ds))
		for _, d := range ds {
			out = append(out, DecisionResponse{
				ID:         d.ID,
				UnitID:     d.UnitID,
				AgentType:  d.AgentType,
				Plan:       rawOrNull(d.RawPlan),
				Reasoning:  d.Reasoning,
				Context:    rawOrNull(d.ContextJSON),
				CreatedAt:  d.CreatedAt,
				ExecutedAt: d.ExecutedAt,
			})
		}
		writeJSON(w, http.StatusOK, out)
	}
}

type LearningResponse struct {
	ID          string          `json:"id"`
	EventType   string          `json:"eventType"`
	WindowStart time.Time       `json:"windowStart"`
	WindowEnd   time.Time       `json:"windowEnd"`
	Patterns    json.RawMessage `json:"patterns"`
	Insights    json.RawMessage `json:"insights"`
	Applied     bool            `json:"applied"`
	CreatedAt   time.Time       `json:"createdAt"`
}

func handleListLearning(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		recs, err := deps.Store.RecentLearningRecords(r.Context(), chi.URLParam(r, "tenantID"), parseIntParam(r, "limit", 20, 200))
		if err != nil {
			fail(w, err)
			return
		}
		out := make([]LearningResponse, 0, len(recs))
		for _, l := range recs {
			out = append(out, LearningResponse{
				ID:          l.ID,
				EventType:   l.EventType,
				WindowStart: l.WindowStart,
				WindowEnd:   l.WindowEnd,
				Patterns:    rawOrNull(l.PatternsJSON),
				Insights:    rawOrNull(l.InsightsJSON),
				Applied:     l.Applied,
				CreatedAt:   l.CreatedAt,
			})
		}
		writeJSON(w, http.StatusOK, out)
	}
}

type SaveMemoryRequest struct {
	Kind       string            `json:"kind"`
	Text       string            `json:"text"`
	Metadata   map[string]string `json:"metadata"`
	Importance int               `json:"importance"`
}

func handleSaveMemory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SaveMemoryRequest
		if !decodeBody(w, r, &req) {
			return
		}
		e, err := deps.Memory.Save(r.Context(), chi.URLParam(r, "tenantID"), memory.Kind(req.Kind), req.Text, req.Metadata, req.Importance)
		if err != nil {
			fail(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, e)
	}
}

func handleSearchMemory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := strings.TrimSpace(r.URL.Query().Get("q"))
		if q == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "q is required")
			return
		}
		kind := memory.Kind(r.URL.Query().Get("kind"))
		limit := parseIntParam(r, "limit", 5, 50)
		results, err := deps.Memory.Search(r.Context(), chi.URLParam(r, "tenantID"), q, kind, limit)
		if err != nil {
			fail(w, err)
			return
		}
		if results == nil {
			results = []memory.Result{}
		}
		writeJSON(w, http.StatusOK, results)
	}
}

func rawOrNull(s string) json.RawMessage {
	if s == "" || !json.Valid([]byte(s)) {
		return json.RawMessage("null")
	}
	return json.RawMessage(s)
}
