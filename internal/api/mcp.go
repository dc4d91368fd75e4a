package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/codetix2020-hash/marketingdios-sub000/internal/jobs"
	"github.com/codetix2020-hash/marketingdios-sub000/internal/memory"
	"github.com/codetix2020-hash/marketingdios-sub000/internal/storage"
	"github.com/codetix2020-hash/marketingdios-sub000/internal/usage"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store  *storage.Store
	Memory *memory.Store
	Guard  *usage.Guard
	Queue  *jobs.Queue
}

// NewMCPServer creates an MCP server exposing tenant memory, quota and job
// status to agent clients.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"marketingd",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("marketingd: tenant brand memory, usage quotas and marketing job status."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("memory_search",
			mcp.WithDescription("Semantically search a tenant's marketing memory."),
			mcp.WithString("tenant_id", mcp.Description("Tenant to search"), mcp.Required()),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
			mcp.WithString("kind", mcp.Description("Optional kind: identity, learning, trend or template")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 5)")),
		),
		mcpMemorySearch(deps),
	)

	s.AddTool(
		mcp.NewTool("memory_save",
			mcp.WithDescription("Store a fact in a tenant's marketing memory."),
			mcp.WithString("tenant_id", mcp.Description("Owning tenant"), mcp.Required()),
			mcp.WithString("kind", mcp.Description("identity, learning, trend or template"), mcp.Required()),
			mcp.WithString("text", mcp.Description("The fact to store"), mcp.Required()),
			mcp.WithNumber("importance", mcp.Description("1 to 10 (default 5)")),
		),
		mcpMemorySave(deps),
	)

	s.AddTool(
		mcp.NewTool("usage_check",
			mcp.WithDescription("Check whether a tenant may use a feature this month."),
			mcp.WithString("tenant_id", mcp.Description("Tenant to check"), mcp.Required()),
			mcp.WithString("feature", mcp.Description("content, image, voice or campaign"), mcp.Required()),
		),
		mcpUsageCheck(deps),
	)

	s.AddTool(
		mcp.NewTool("job_status",
			mcp.WithDescription("Look up a job's status, progress and result."),
			mcp.WithString("job_id", mcp.Description("Job id"), mcp.Required()),
		),
		mcpJobStatus(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"marketingd://tenants",
			"Tenants",
			mcp.WithResourceDescription("All tenants with their plans"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceTenants(deps),
	)

	return s
}

func mcpMemorySearch(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		tenantID, err := req.RequireString("tenant_id")
		if err != nil {
			return mcpError("tenant_id is required"), nil
		}
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}
		limit := req.GetInt("limit", 5)
		if limit <= 0 {
			limit = 5
		}
		if limit > 50 {
			limit = 50
		}

		results, err := deps.Memory.Search(ctx, tenantID, query, memory.Kind(req.GetString("kind", "")), limit)
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}
		if results == nil {
			results = []memory.Result{}
		}
		return mcpJSON(results)
	}
}

func mcpMemorySave(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		tenantID, err := req.RequireString("tenant_id")
		if err != nil {
			return mcpError("tenant_id is required"), nil
		}
		kind, err := req.RequireString("kind")
		if err != nil {
			return mcpError("kind is required"), nil
		}
		text, err := req.RequireString("text")
		if err != nil {
			return mcpError("text is required"), nil
		}

		e, err := deps.Memory.Save(ctx, tenantID, memory.Kind(kind), text,
			map[string]string{"source": "mcp"}, req.GetInt("importance", 0))
		if err != nil {
			return mcpError(fmt.Sprintf("failed to save: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Stored memory %s", e.ID)), nil
	}
}

func mcpUsageCheck(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		tenantID, err := req.RequireString("tenant_id")
		if err != nil {
			return mcpError("tenant_id is required"), nil
		}
		feature, err := req.RequireString("feature")
		if err != nil {
			return mcpError("feature is required"), nil
		}
		v, err := deps.Guard.Check(ctx, tenantID, feature)
		if err != nil {
			return mcpError(fmt.Sprintf("check failed: %v", err)), nil
		}
		return mcpJSON(v)
	}
}

func mcpJobStatus(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("job_id")
		if err != nil {
			return mcpError("job_id is required"), nil
		}
		job, err := deps.Queue.Get(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			return mcpError(fmt.Sprintf("job %s not found", id)), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("lookup failed: %v", err)), nil
		}
		return mcpJSON(job)
	}
}

func mcpResourceTenants(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		tenants, err := deps.Store.ListTenants(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list tenants: %w", err)
		}
		type tenantSummary struct {
			ID   string `json:"id"`
			Name string `json:"name"`
			Plan string `json:"plan"`
		}
		out := make([]tenantSummary, 0, len(tenants))
		for _, t := range tenants {
			out = append(out, tenantSummary{ID: t.ID, Name: t.Name, Plan: t.Plan})
		}
		b, err := json.Marshal(out)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal tenants: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcpText(string(b)), nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
