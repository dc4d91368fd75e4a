package api

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/codetix2020-hash/marketingdios-sub000/internal/engine"
	"github.com/codetix2020-hash/marketingdios-sub000/internal/generation"
	"github.com/codetix2020-hash/marketingdios-sub000/internal/jobs"
	"github.com/codetix2020-hash/marketingdios-sub000/internal/learning"
	"github.com/codetix2020-hash/marketingdios-sub000/internal/memory"
	"github.com/codetix2020-hash/marketingdios-sub000/internal/metrics"
	"github.com/codetix2020-hash/marketingdios-sub000/internal/orchestrator"
	"github.com/codetix2020-hash/marketingdios-sub000/internal/storage"
	"github.com/codetix2020-hash/marketingdios-sub000/internal/usage"
	"github.com/codetix2020-hash/marketingdios-sub000/internal/worker"
)

const testToken = "test-token"

const testPlan = `{"contentPlan":[{"topic":"Launch week","platform":"linkedin"}],"optimizations":[],"experiments":[]}`

func newTestDeps(t *testing.T) Deps {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	embedder := engine.EmbedderFunc(func(ctx context.Context, text string) ([]float32, error) {
		if strings.Contains(text, "launch") {
			return []float32{1, 0}, nil
		}
		return []float32{0, 1}, nil
	})
	reasoner := engine.ReasonerFunc(func(ctx context.Context, prompt string, maxTokens int) (string, error) {
		if strings.Contains(prompt, "marketing analyst") {
			return `{"insights":["Launch posts win"],"recommendations":["Optimize launch timing"]}`, nil
		}
		if strings.Contains(prompt, "Write one") {
			return "Launch week is here.", nil
		}
		return testPlan, nil
	})

	mem := memory.NewStore(store, embedder, nil, memory.Options{Metrics: m})
	guard := usage.NewGuard(store, m, nil)
	queue := jobs.NewQueue(store, nil)
	gen := generation.NewGenerator(reasoner, store, 0, 0, nil)
	pool := worker.NewPool(queue, worker.DefaultHandlers(worker.NewContentHandler(gen, guard, nil)), worker.Options{Metrics: m})

	return Deps{
		Store:        store,
		Memory:       mem,
		Guard:        guard,
		Queue:        queue,
		Pool:         pool,
		Orchestrator: orchestrator.New(store, mem, guard, queue, reasoner, orchestrator.Options{Metrics: m}),
		Learning:     learning.New(store, mem, reasoner, learning.Options{AutoApply: true, Metrics: m}),
		Gatherer:     reg,
		Token:        testToken,
	}
}

func authReq(method, url, body, token string) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, url, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func seedTenant(t *testing.T, deps Deps, id, plan string) {
	t.Helper()
	if err := deps.Store.SaveTenant(context.Background(), storage.Tenant{ID: id, Name: id, Plan: plan}); err != nil {
		t.Fatalf("SaveTenant: %v", err)
	}
}
