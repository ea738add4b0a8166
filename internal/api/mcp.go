package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/historian/internal/pipeline"
	"github.com/kalambet/historian/internal/records"
	"github.com/kalambet/historian/internal/storage"
	"github.com/kalambet/historian/internal/worker"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store        *storage.Store
	Records      *records.Store
	Orchestrator *pipeline.Orchestrator
}

// NewMCPServer creates an MCP server with all historian tools and resources
// registered.
func NewMCPServer(deps MCPDeps, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"historian",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("historian keeps a chronological timeline of historical events and class notes, each with a generated historical reference."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("list_timeline",
			mcp.WithDescription("List all timeline events in chronological order."),
		),
		mcpListTimeline(deps),
	)

	s.AddTool(
		mcp.NewTool("add_timeline_entry",
			mcp.WithDescription("Add a historical event to the timeline."),
			mcp.WithString("year", mcp.Description("Year between 1 and 9999"), mcp.Required()),
			mcp.WithString("era", mcp.Description("AD or BC (default AD)")),
			mcp.WithString("title", mcp.Description("Event title"), mcp.Required()),
			mcp.WithString("description", mcp.Description("Short description of the event"), mcp.Required()),
		),
		mcpAddTimelineEntry(deps),
	)

	s.AddTool(
		mcp.NewTool("list_learning",
			mcp.WithDescription("List all history class notes in the order they were added."),
		),
		mcpListLearning(deps),
	)

	s.AddTool(
		mcp.NewTool("add_learning_record",
			mcp.WithDescription("Store history class notes. A reference is generated in the background."),
			mcp.WithString("title", mcp.Description("Class title"), mcp.Required()),
			mcp.WithString("year_range", mcp.Description("Period covered, e.g. 1914-1918"), mcp.Required()),
			mcp.WithString("facts", mcp.Description("Facts taken down in class"), mcp.Required()),
		),
		mcpAddLearningRecord(deps),
	)

	s.AddTool(
		mcp.NewTool("get_reference",
			mcp.WithDescription("Return the generated historical reference for a record, generating it if none is stored."),
			mcp.WithString("id", mcp.Description("Record id"), mcp.Required()),
			mcp.WithString("kind", mcp.Description("timeline or learning (default timeline)")),
		),
		mcpReference(deps, false),
	)

	s.AddTool(
		mcp.NewTool("regenerate_reference",
			mcp.WithDescription("Generate a fresh historical reference for a record, replacing the stored one."),
			mcp.WithString("id", mcp.Description("Record id"), mcp.Required()),
			mcp.WithString("kind", mcp.Description("timeline or learning (default timeline)")),
		),
		mcpReference(deps, true),
	)

	s.AddResource(
		mcp.NewResource(
			"historian://timeline",
			"Timeline",
			mcp.WithResourceDescription("All timeline events in chronological order as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceTimeline(deps),
	)

	return s
}

func mcpListTimeline(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		entries, err := deps.Records.Timeline()
		if err != nil {
			return mcpError(fmt.Sprintf("failed to load timeline: %v", err)), nil
		}
		return mcpJSON(entries)
	}
}

func mcpAddTimelineEntry(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		in := records.TimelineInput{
			Year:        records.YearText(req.GetString("year", "")),
			Era:         records.Era(req.GetString("era", "")),
			Title:       req.GetString("title", ""),
			Description: req.GetString("description", ""),
		}
		t, err := deps.Records.CreateTimeline(in)
		var verr *records.ValidationError
		if errors.As(err, &verr) {
			return mcpError(verr.Message), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("failed to save: %v", err)), nil
		}
		return mcpJSON(t)
	}
}

func mcpListLearning(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		items, err := deps.Records.Learning()
		if err != nil {
			return mcpError(fmt.Sprintf("failed to load learning records: %v", err)), nil
		}
		return mcpJSON(items)
	}
}

func mcpAddLearningRecord(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		l, err := deps.Records.CreateLearning(records.LearningInput{
			Title:     req.GetString("title", ""),
			YearRange: req.GetString("year_range", ""),
			Facts:     req.GetString("facts", ""),
		})
		var verr *records.ValidationError
		if errors.As(err, &verr) {
			return mcpError(verr.Message), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("failed to save: %v", err)), nil
		}
		if err := worker.EnqueueLearning(deps.Store, l.ID); err != nil {
			return mcpError(fmt.Sprintf("saved record %s but failed to queue enrichment: %v", l.ID, err)), nil
		}
		return mcpJSON(l)
	}
}

func mcpReference(deps MCPDeps, regenerate bool) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return mcpError("id is required"), nil
		}
		kind, err := records.ParseKind(req.GetString("kind", string(records.KindTimeline)))
		if err != nil {
			return mcpError(err.Error()), nil
		}

		var out pipeline.Outcome
		if regenerate {
			out, err = deps.Orchestrator.Regenerate(ctx, kind, id)
		} else {
			out, err = deps.Orchestrator.View(ctx, kind, id)
		}
		if errors.Is(err, records.ErrNotFound) {
			return mcpError(fmt.Sprintf("%s record %s not found", kind, id)), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("reference unavailable: %v", err)), nil
		}
		if out.State == pipeline.StateFailed {
			return mcpError(out.Result.Error), nil
		}
		return mcpJSON(out)
	}
}

func mcpResourceTimeline(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		entries, err := deps.Records.Timeline()
		if err != nil {
			return nil, fmt.Errorf("failed to load timeline: %w", err)
		}
		if entries == nil {
			entries = []records.Timeline{}
		}
		b, err := json.Marshal(entries)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal timeline: %w", err)
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
