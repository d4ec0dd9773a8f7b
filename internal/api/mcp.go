package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/alibi/internal/apperr"
	"github.com/kalambet/alibi/internal/excuse"
	"github.com/kalambet/alibi/internal/proof"
	"github.com/kalambet/alibi/internal/store"
)

// NewMCPServer creates an MCP server exposing excuse generation, proofs,
// feedback and the saved collection. It shares deps with the REST API.
func NewMCPServer(deps Deps) *server.MCPServer {
	s := server.NewMCPServer(
		"alibi",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("alibi generates excuses for everyday scenarios and renders supporting proof artifacts."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("generate_excuse",
			mcp.WithDescription("Generate a short excuse for a scenario."),
			mcp.WithString("scenario", mcp.Description("One of: "+strings.Join(excuse.Scenarios(), ", ")), mcp.Required()),
			mcp.WithString("user_role", mcp.Description("Who is making the excuse")),
			mcp.WithString("recipient", mcp.Description("Who the excuse is for")),
			mcp.WithString("urgency", mcp.Description("low, medium or high")),
			mcp.WithNumber("believability", mcp.Description("1 to 10 (default 5)")),
			mcp.WithString("language", mcp.Description("Language code, e.g. en or fr")),
		),
		mcpGenerateExcuse(deps),
	)

	kinds := make([]string, 0, 3)
	for _, k := range proof.Kinds() {
		kinds = append(kinds, string(k))
	}
	s.AddTool(
		mcp.NewTool("generate_proof",
			mcp.WithDescription("Render a proof artifact for a generated excuse and return its URL."),
			mcp.WithString("excuse_id", mcp.Description("Id returned by generate_excuse"), mcp.Required()),
			mcp.WithString("proof_type", mcp.Description("One of: "+strings.Join(kinds, ", ")+" (default doctor_note)")),
			mcp.WithString("excuse", mcp.Description("Excuse text, if the id is not known to this server")),
			mcp.WithString("scenario", mcp.Description("Scenario, if the id is not known to this server")),
		),
		mcpGenerateProof(deps),
	)

	s.AddTool(
		mcp.NewTool("submit_feedback",
			mcp.WithDescription("Record whether an excuse worked."),
			mcp.WithString("excuse_id", mcp.Description("Excuse id"), mcp.Required()),
			mcp.WithBoolean("effective", mcp.Description("true if the excuse worked"), mcp.Required()),
		),
		mcpSubmitFeedback(deps),
	)

	s.AddTool(
		mcp.NewTool("save_excuse",
			mcp.WithDescription("Keep an excuse in the saved collection."),
			mcp.WithString("excuse_id", mcp.Description("Id of a generated excuse")),
			mcp.WithString("text", mcp.Description("Excuse text; required when excuse_id is unknown")),
			mcp.WithString("scenario", mcp.Description("Scenario of the excuse")),
		),
		mcpSaveExcuse(deps),
	)

	s.AddTool(
		mcp.NewTool("list_saved_excuses",
			mcp.WithDescription("List saved excuses, newest first."),
		),
		mcpListSaved(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"alibi://insights",
			"Excuse Insights",
			mcp.WithResourceDescription("Top excuses, scenario counts and usage prediction as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceInsights(deps),
	)

	return s
}

func mcpGenerateExcuse(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		scenario, err := req.RequireString("scenario")
		if err != nil {
			return mcpError("scenario is required"), nil
		}

		e, err := deps.Excuses.Generate(ctx, excuse.Request{
			Scenario:      scenario,
			UserRole:      req.GetString("user_role", ""),
			Recipient:     req.GetString("recipient", ""),
			Urgency:       req.GetString("urgency", ""),
			Believability: excuse.Believability(req.GetInt("believability", 0)),
			Language:      req.GetString("language", ""),
		})
		if err != nil {
			return mcpFailure(err), nil
		}
		return mcpJSON(e)
	}
}

func mcpGenerateProof(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("excuse_id")
		if err != nil {
			return mcpError("excuse_id is required"), nil
		}
		pr := proof.Request{
			ExcuseID:   id,
			Kind:       proof.Kind(req.GetString("proof_type", string(proof.KindDoctorNote))),
			ExcuseText: req.GetString("excuse", ""),
			Scenario:   req.GetString("scenario", ""),
		}
		if e, err := deps.Registry.Get(id); err == nil {
			if strings.TrimSpace(pr.ExcuseText) == "" {
				pr.ExcuseText = e.Text
			}
			if strings.TrimSpace(pr.Scenario) == "" {
				pr.Scenario = e.Scenario
			}
		}

		a, err := deps.Proofs.Generate(ctx, pr)
		if err != nil {
			return mcpFailure(err), nil
		}
		return mcpJSON(proofResponse{ProofURL: a.URL, Name: a.Name, Kind: a.Kind})
	}
}

func mcpSubmitFeedback(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("excuse_id")
		if err != nil {
			return mcpError("excuse_id is required"), nil
		}
		effective, err := req.RequireBool("effective")
		if err != nil {
			return mcpError("effective is required"), nil
		}

		e, err := deps.Excuses.Feedback(ctx, id, effective)
		if err != nil {
			return mcpFailure(err), nil
		}
		return mcpText(fmt.Sprintf("Feedback recorded. %d of %d reports say %s worked.",
			e.EffectiveCount, e.FeedbackCount, e.ID)), nil
	}
}

func mcpSaveExcuse(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sr := saveRequest{
			ExcuseID: req.GetString("excuse_id", ""),
			Text:     req.GetString("text", ""),
			Scenario: req.GetString("scenario", ""),
		}
		saved, err := deps.Saved.Save(sr.toSaved(deps.Registry))
		if err != nil {
			return mcpFailure(err), nil
		}
		return mcpJSON(saved)
	}
}

func mcpListSaved(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		all, err := deps.Saved.List()
		if err != nil {
			return mcpFailure(err), nil
		}
		if all == nil {
			all = []store.SavedExcuse{}
		}
		return mcpJSON(all)
	}
}

func mcpResourceInsights(deps Deps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		b, err := json.Marshal(deps.Registry.Insights())
		if err != nil {
			return nil, fmt.Errorf("failed to marshal insights: %w", err)
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

// mcpFailure reports err to the client the way writeError does: unclassified
// errors are logged and replaced with a generic message.
func mcpFailure(err error) *mcp.CallToolResult {
	if apperr.KindOf(err) == apperr.KindInternal {
		slog.Error("mcp tool failed", "error", err)
		return mcpError("internal server error")
	}
	return mcpError(apperr.MessageOf(err))
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
