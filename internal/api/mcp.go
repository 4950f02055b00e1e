package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/voxidesk/voxidesk/internal/index"
	"github.com/voxidesk/voxidesk/internal/search"
)

// MCPDeps holds the dependencies the MCP tools call into.
type MCPDeps struct {
	Pipeline *index.Pipeline
	Search   Searcher
	Purger   Purger
}

// Searcher is the retrieval surface the MCP layer needs.
type Searcher interface {
	Search(ctx context.Context, query string, limit int, connectorID, ownerUserID string) (search.Response, error)
}

// Purger removes a connector's documents.
type Purger interface {
	DeleteByConnector(ctx context.Context, connectorID, ownerUserID string) (int64, error)
}

// NewMCPServer creates an MCP server exposing the knowledge base to agent
// clients over stdio.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"voxidesk",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("voxidesk — document knowledge base with keyword and hybrid search."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("search_knowledge",
			mcp.WithDescription("Search indexed documents by keyword or hybrid relevance."),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 5)")),
			mcp.WithString("connector_id", mcp.Description("Restrict to one connector")),
			mcp.WithString("user_id", mcp.Description("Owner scope; omitted means global documents only")),
		),
		mcpSearchKnowledge(deps),
	)

	s.AddTool(
		mcp.NewTool("index_documents",
			mcp.WithDescription("Index a document into the knowledge base."),
			mcp.WithString("connector_id", mcp.Description("Connector the document belongs to"), mcp.Required()),
			mcp.WithString("content", mcp.Description("Document text"), mcp.Required()),
			mcp.WithString("title", mcp.Description("Document title")),
			mcp.WithString("source_type", mcp.Description("Source type label (default text)")),
			mcp.WithString("user_id", mcp.Description("Owner scope; omitted means globally owned")),
		),
		mcpIndexDocuments(deps),
	)

	s.AddTool(
		mcp.NewTool("purge_connector",
			mcp.WithDescription("Delete all documents belonging to a connector. Irreversible."),
			mcp.WithString("connector_id", mcp.Description("Connector to purge"), mcp.Required()),
			mcp.WithString("user_id", mcp.Description("Restrict the purge to one owner's documents")),
		),
		mcpPurgeConnector(deps),
	)

	return s
}

func mcpSearchKnowledge(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
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

		resp, err := deps.Search.Search(ctx, query, limit,
			req.GetString("connector_id", ""), req.GetString("user_id", ""))
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}

		b, err := json.Marshal(map[string]any{
			"results":    toSearchResults(resp),
			"searchType": resp.SearchType,
		})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpIndexDocuments(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		connectorID, err := req.RequireString("connector_id")
		if err != nil {
			return mcpError("connector_id is required"), nil
		}
		content, err := req.RequireString("content")
		if err != nil {
			return mcpError("content is required"), nil
		}

		sourceType := req.GetString("source_type", "text")

		results := deps.Pipeline.IndexBatch(ctx, index.Request{
			ConnectorID: connectorID,
			SourceType:  sourceType,
			OwnerUserID: req.GetString("user_id", ""),
			Documents: []index.RawDocument{{
				Title:   req.GetString("title", ""),
				Content: content,
			}},
		})

		res := results[0]
		if res.Status == index.StatusError {
			return mcpError(fmt.Sprintf("indexing failed: %s", res.Err)), nil
		}
		return mcpText(fmt.Sprintf("%s: %s", res.Status, res.ID)), nil
	}
}

func mcpPurgeConnector(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		connectorID, err := req.RequireString("connector_id")
		if err != nil {
			return mcpError("connector_id is required"), nil
		}

		count, err := deps.Purger.DeleteByConnector(ctx, connectorID, req.GetString("user_id", ""))
		if err != nil {
			return mcpError(fmt.Sprintf("purge failed: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Deleted %d documents from connector %s", count, connectorID)), nil
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
