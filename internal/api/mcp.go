package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/attachd/internal/storage"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store *storage.Store
}

// NewMCPServer creates an MCP server exposing file records to agent clients,
// so a model can pull extracted file content into its context on demand.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"attachd",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("attachd — file attachments for conversations, with extracted text, transcripts, and summaries."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("list_files",
			mcp.WithDescription("List the files attached to a conversation, with their processing status."),
			mcp.WithString("conversation_id", mcp.Description("Conversation to list files for"), mcp.Required()),
		),
		mcpListFiles(deps),
	)

	s.AddTool(
		mcp.NewTool("get_file_content",
			mcp.WithDescription("Return the extracted text content (transcript, document text, or image description) of a processed file."),
			mcp.WithString("file_id", mcp.Description("File to fetch content for"), mcp.Required()),
		),
		mcpGetFileContent(deps),
	)

	s.AddTool(
		mcp.NewTool("annotate_file",
			mcp.WithDescription("Attach a human-readable note to a file."),
			mcp.WithString("file_id", mcp.Description("File to annotate"), mcp.Required()),
			mcp.WithString("annotation", mcp.Description("The note text"), mcp.Required()),
		),
		mcpAnnotateFile(deps),
	)

	return s
}

func mcpListFiles(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		conversationID, err := req.RequireString("conversation_id")
		if err != nil {
			return mcpError("conversation_id is required"), nil
		}

		files, err := deps.Store.ListConversationFiles(conversationID)
		if err != nil {
			return mcpError(fmt.Sprintf("listing files failed: %v", err)), nil
		}
		if len(files) == 0 {
			return mcpText("[]"), nil
		}

		type fileSummary struct {
			ID         string `json:"id"`
			Filename   string `json:"filename"`
			Category   string `json:"category"`
			Status     string `json:"status"`
			UploadDate string `json:"upload_date"`
			Summary    string `json:"summary,omitempty"`
		}

		summaries := make([]fileSummary, len(files))
		for i, f := range files {
			summaries[i] = fileSummary{
				ID:         f.ID,
				Filename:   f.OriginalFilename,
				Category:   string(f.Category),
				Status:     f.Status.String(),
				UploadDate: f.UploadDate.Format(time.RFC3339),
				Summary:    f.AISummary,
			}
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal file list: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpGetFileContent(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		fileID, err := req.RequireString("file_id")
		if err != nil {
			return mcpError("file_id is required"), nil
		}

		f, err := deps.Store.GetFile(fileID)
		if errors.Is(err, storage.ErrNotFound) {
			return mcpError("file not found"), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("loading file failed: %v", err)), nil
		}

		switch f.Status {
		case storage.StatusProcessed:
			return mcpText(f.ExtractedContent), nil
		case storage.StatusFailed:
			return mcpError(fmt.Sprintf("file processing failed: %s", f.FailureReason)), nil
		default:
			return mcpError(fmt.Sprintf("file is not processed yet (status: %s)", f.Status)), nil
		}
	}
}

func mcpAnnotateFile(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		fileID, err := req.RequireString("file_id")
		if err != nil {
			return mcpError("file_id is required"), nil
		}
		annotation, err := req.RequireString("annotation")
		if err != nil {
			return mcpError("annotation is required"), nil
		}

		err = deps.Store.SetAnnotation(fileID, annotation)
		if errors.Is(err, storage.ErrNotFound) {
			return mcpError("file not found"), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("setting annotation failed: %v", err)), nil
		}

		return mcpText(fmt.Sprintf("Annotated file %s", fileID)), nil
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
