package api

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/krakenhq/kraken/internal/store"
)

const (
	defaultSearchLimit = 5
	maxSearchLimit     = 20

	// snippetRunes bounds how much of a message body a single result shows.
	snippetRunes = 200
)

// MessageSearcher abstracts semantic search for the MCP layer.
type MessageSearcher interface {
	Query(ctx context.Context, query string, limit int, minSimilarity float64) ([]store.ScoredMessage, error)
}

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Searcher      MessageSearcher
	DefaultLimit  int     // falls back to defaultSearchLimit when zero
	MinSimilarity float64 // similarity floor applied to every search
}

// NewMCPServer creates an MCP server with all kraken tools registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"kraken",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("kraken — semantic search over synced Slack history."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("get_timestamp",
			mcp.WithDescription("Return the current server time, for anchoring relative date references."),
			mcp.WithBoolean("include_timezone", mcp.Description("Return UTC with an explicit offset instead of naive local time")),
		),
		mcpGetTimestamp(),
	)

	s.AddTool(
		mcp.NewTool("search_messages",
			mcp.WithDescription("Semantically search synced Slack messages and return the most relevant ones."),
			mcp.WithString("query", mcp.Description("Natural language search query"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 5, max 20)")),
		),
		mcpSearchMessages(deps),
	)

	return s
}

func mcpGetTimestamp() server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		includeTZ := req.GetBool("include_timezone", false)

		now := time.Now()
		var stamp string
		if includeTZ {
			stamp = now.UTC().Format(time.RFC3339)
		} else {
			stamp = now.Format("2006-01-02 15:04:05")
		}

		return mcpText(fmt.Sprintf("Current server time: %s", stamp)), nil
	}
}

func mcpSearchMessages(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		fallback := deps.DefaultLimit
		if fallback <= 0 {
			fallback = defaultSearchLimit
		}
		limit := req.GetInt("limit", fallback)
		if limit <= 0 {
			limit = fallback
		}
		if limit > maxSearchLimit {
			limit = maxSearchLimit
		}

		results, err := deps.Searcher.Query(ctx, query, limit, deps.MinSimilarity)
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}

		if len(results) == 0 {
			return mcpText(fmt.Sprintf("No relevant messages found for '%s'. Try a broader or differently phrased query.", query)), nil
		}

		var b strings.Builder
		fmt.Fprintf(&b, "Found %d relevant messages for '%s':\n\n", len(results), query)
		for i, r := range results {
			fmt.Fprintf(&b, "**%d. %s** in #%s (relevance: %.0f%%)\n", i+1, r.Author, r.Channel, r.Similarity*100)
			b.WriteString(snippet(r.Content))
			b.WriteString("\n")
			if r.Permalink != "" {
				b.WriteString(r.Permalink)
				b.WriteString("\n")
			}
			b.WriteString("\n")
		}

		return mcpText(strings.TrimRight(b.String(), "\n")), nil
	}
}

// snippet truncates a message body on a rune boundary.
func snippet(content string) string {
	if utf8.RuneCountInString(content) <= snippetRunes {
		return content
	}
	runes := []rune(content)
	return string(runes[:snippetRunes]) + "..."
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
