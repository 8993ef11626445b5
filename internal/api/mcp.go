package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/referlane/referlane/internal/engine"
	"github.com/referlane/referlane/internal/interaction"
	"github.com/referlane/referlane/internal/matching"
	"github.com/referlane/referlane/internal/profile"
)

// NewMCPServer creates an MCP server exposing the nudge engine to agent
// clients. It shares Deps with the REST surface.
func NewMCPServer(deps Deps) *server.MCPServer {
	s := server.NewMCPServer(
		"referlane",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("referlane — referral matching and nudge engine: ranked nudges, interaction logging, funnel reports, and budget status."),
		server.WithRecovery(),
	)

	// Tools
	s.AddTool(
		mcp.NewTool("get_nudges",
			mcp.WithDescription("Generate ranked referral nudges for a member and a job."),
			mcp.WithString("member_id", mcp.Description("Member identifier"), mcp.Required()),
			mcp.WithString("job_id", mcp.Description("Job identifier"), mcp.Required()),
		),
		mcpGetNudges(deps),
	)

	s.AddTool(
		mcp.NewTool("log_interaction",
			mcp.WithDescription("Record a member's interaction with a nudge (VIEWED, CLICKED, SHARE_WHATSAPP, ...)."),
			mcp.WithString("member_id", mcp.Description("Member identifier"), mcp.Required()),
			mcp.WithString("job_id", mcp.Description("Job identifier"), mcp.Required()),
			mcp.WithString("nudge_id", mcp.Description("Nudge identifier from get_nudges"), mcp.Required()),
			mcp.WithString("action", mcp.Description("Interaction action"), mcp.Required()),
		),
		mcpLogInteraction(deps),
	)

	s.AddTool(
		mcp.NewTool("funnel_report",
			mcp.WithDescription("Compute the referral funnel (viewed through hired) for a job or all jobs."),
			mcp.WithString("job_id", mcp.Description("Job identifier; empty for all jobs")),
			mcp.WithNumber("days", mcp.Description("Trailing window in days (default 30)")),
		),
		mcpFunnelReport(deps),
	)

	s.AddTool(
		mcp.NewTool("budget_status",
			mcp.WithDescription("Report enrichment budget state: spend, tokens, call counts, and cache size."),
		),
		mcpBudgetStatus(deps),
	)

	// Resources
	s.AddResource(
		mcp.NewResource(
			"referlane://budget",
			"Enrichment Budget",
			mcp.WithResourceDescription("Current enrichment budget and cache state as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceBudget(deps),
	)

	return s
}

func mcpGetNudges(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		memberID, err := req.RequireString("member_id")
		if err != nil {
			return mcpError("member_id is required"), nil
		}
		jobID, err := req.RequireString("job_id")
		if err != nil {
			return mcpError("job_id is required"), nil
		}

		job, err := deps.Jobs.GetJob(ctx, jobID)
		if errors.Is(err, engine.ErrNotFound) {
			return mcpError(fmt.Sprintf("job %q not found", jobID)), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("failed to load job: %v", err)), nil
		}

		p, err := deps.Profiles.GetProfile(ctx, memberID)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to load profile: %v", err)), nil
		}
		if p == nil {
			p = &profile.MemberProfile{MemberID: memberID}
		}

		match := matching.Score(job, *p)
		candidates := deps.Nudges.Generate(ctx, job, *p, match)

		b, err := json.Marshal(NudgesResponse{
			MemberID: memberID,
			JobID:    jobID,
			Score:    match.Score,
			Tier:     match.Tier,
			Nudges:   candidates,
		})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal nudges: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpLogInteraction(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		memberID, err := req.RequireString("member_id")
		if err != nil {
			return mcpError("member_id is required"), nil
		}
		jobID, err := req.RequireString("job_id")
		if err != nil {
			return mcpError("job_id is required"), nil
		}
		nudgeID, err := req.RequireString("nudge_id")
		if err != nil {
			return mcpError("nudge_id is required"), nil
		}
		action, err := req.RequireString("action")
		if err != nil {
			return mcpError("action is required"), nil
		}

		id, err := deps.Recorder.Record(ctx, interaction.NewInteraction{
			MemberID: memberID,
			JobID:    jobID,
			NudgeID:  nudgeID,
			Action:   interaction.Action(action),
		})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to record interaction: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Recorded interaction %s", id)), nil
	}
}

func mcpFunnelReport(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		jobID := req.GetString("job_id", "")
		days := req.GetInt("days", 0)

		snap, err := deps.Funnel.ComputeFunnel(ctx, jobID, days)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to compute funnel: %v", err)), nil
		}

		b, err := json.Marshal(snap)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal funnel: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpBudgetStatus(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		b, err := json.Marshal(deps.Budget.Status())
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal budget status: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceBudget(deps Deps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		b, err := json.Marshal(deps.Budget.Status())
		if err != nil {
			return nil, fmt.Errorf("failed to marshal budget status: %w", err)
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
