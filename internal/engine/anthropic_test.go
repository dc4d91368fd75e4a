package engine

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/anthropics/anthropic-sdk-go/option"
)

func anthropicServer(t *testing.T, status int, body string, captured *map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/messages") {
			http.NotFound(w, r)
			return
		}
		if captured != nil {
			json.NewDecoder(r.Body).Decode(captured)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestAnthropicReasoner_Complete(t *testing.T) {
	var req map[string]any
	srv := anthropicServer(t, http.StatusOK, `{
		"id": "msg_01", "type": "message", "role": "assistant", "model": "claude-haiku-4-5-20251001",
		"content": [{"type": "text", "text": "  {\"contentPlan\": []}  "}],
		"stop_reason": "end_turn", "stop_sequence": null,
		"usage": {"input_tokens": 12, "output_tokens": 5}
	}`, &req)

	r := NewAnthropicReasoner("sk-test", "claude-haiku-4-5-20251001", nil,
		option.WithBaseURL(srv.URL), option.WithMaxRetries(0))

	out, err := r.Complete(context.Background(), "plan the week", 300)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if out != `{"contentPlan": []}` {
		t.Errorf("out = %q", out)
	}
	if req["max_tokens"] != float64(300) {
		t.Errorf("max_tokens = %v, want 300", req["max_tokens"])
	}
	if req["model"] != "claude-haiku-4-5-20251001" {
		t.Errorf("model = %v", req["model"])
	}
}

func TestAnthropicReasoner_NoTextBlock(t *testing.T) {
	srv := anthropicServer(t, http.StatusOK, `{
		"id": "msg_02", "type": "message", "role": "assistant", "model": "m",
		"content": [], "stop_reason": "end_turn", "stop_sequence": null,
		"usage": {"input_tokens": 1, "output_tokens": 0}
	}`, nil)

	r := NewAnthropicReasoner("sk-test", "m", nil, option.WithBaseURL(srv.URL), option.WithMaxRetries(0))
	if _, err := r.Complete(context.Background(), "x", 10); !errors.Is(err, ErrEmptyResponse) {
		t.Errorf("err = %v, want ErrEmptyResponse", err)
	}
}

func TestAnthropicReasoner_APIError(t *testing.T) {
	srv := anthropicServer(t, http.StatusInternalServerError,
		`{"type":"error","error":{"type":"api_error","message":"overloaded"}}`, nil)

	r := NewAnthropicReasoner("sk-test", "m", nil, option.WithBaseURL(srv.URL), option.WithMaxRetries(0))
	if _, err := r.Complete(context.Background(), "x", 10); err == nil {
		t.Fatal("expected error for 500 response")
	}
}
