package tools

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/procmux/procmux/internal/database"
	sesserr "github.com/procmux/procmux/internal/errors"
)

// createJSONResult creates a JSON result for tool responses
func createJSONResult(data interface{}) *mcp.CallToolResult {
	resultJSON, _ := json.MarshalIndent(data, "", "  ")
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{
				Text: string(resultJSON),
			},
		},
		IsError: false,
	}
}

// createErrorResult creates an error result for tool responses
func createErrorResult(message string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{
				Text: fmt.Sprintf("Error: %s", message),
			},
		},
		IsError: true,
	}
}

// sessionErrorResult renders a structured session error, including its code
// and suggestion when present, so callers can decide whether to retry.
func sessionErrorResult(err error) *mcp.CallToolResult {
	var sessErr *sesserr.SessionError
	if e, ok := err.(*sesserr.SessionError); ok {
		sessErr = e
	}
	if sessErr == nil {
		return createErrorResult(err.Error())
	}

	msg := fmt.Sprintf("[%s] %s", sessErr.Code, sessErr.Message)
	if sessErr.Suggestion != "" {
		msg += " " + sessErr.Suggestion
	}
	return createErrorResult(msg)
}

// validateSessionID validates a session ID format
func validateSessionID(sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session ID cannot be empty")
	}
	if !strings.HasPrefix(sessionID, "proc-") {
		return fmt.Errorf("session ID must start with proc-")
	}
	return nil
}

// summarize converts a durable session row into a tool-facing summary.
func summarize(row *database.SessionRecord) SessionSummary {
	return SessionSummary{
		SessionID:      row.ID,
		Status:         row.Status,
		ExitCode:       row.ExitCode,
		Cmd:            strings.Join(row.Argv, " "),
		Pty:            row.PtyEnabled,
		CreatedAt:      row.CreatedAt.Format(time.RFC3339),
		LastActivityAt: row.LastActivityAt.Format(time.RFC3339),
		OutputBytes:    row.OutputBytes,
	}
}
