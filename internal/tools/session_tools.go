// Package tools exposes the session registry as typed MCP tools.
package tools

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/procmux/procmux/internal/config"
	"github.com/procmux/procmux/internal/logger"
	"github.com/procmux/procmux/internal/proc"
)

// ProcessTools holds the shared dependencies of every session tool.
type ProcessTools struct {
	registry *proc.Registry
	cfg      *config.Config
	logger   *logger.Logger
}

// NewProcessTools creates the tool layer over a session registry.
func NewProcessTools(registry *proc.Registry, cfg *config.Config, log *logger.Logger) *ProcessTools {
	return &ProcessTools{
		registry: registry,
		cfg:      cfg,
		logger:   log.WithComponent("tools"),
	}
}

// StartSession starts a new supervised process session.
func (t *ProcessTools) StartSession(ctx context.Context, req *mcp.CallToolRequest, args StartSessionArgs) (*mcp.CallToolResult, proc.StartResult, error) {
	pty := true
	if args.Pty != nil {
		pty = *args.Pty
	}

	t.logger.Info("Starting session", map[string]interface{}{
		"chat_id": args.ChatID,
		"user_id": args.UserID,
		"pty":     pty,
	})

	result, err := t.registry.StartSession(args.ChatID, args.UserID, args.Command, args.WorkspaceRoot, args.PolicyProfile, pty)
	if err != nil {
		return sessionErrorResult(err), proc.StartResult{}, nil
	}
	return createJSONResult(result), *result, nil
}

// PollSession reads a window of session output from the durable log.
func (t *ProcessTools) PollSession(ctx context.Context, req *mcp.CallToolRequest, args PollSessionArgs) (*mcp.CallToolResult, proc.PollResult, error) {
	if err := validateSessionID(args.SessionID); err != nil {
		return createErrorResult(err.Error()), proc.PollResult{}, nil
	}

	result, err := t.registry.PollSession(args.SessionID, args.Cursor, args.MaxBytes)
	if err != nil {
		return sessionErrorResult(err), proc.PollResult{}, nil
	}
	return createJSONResult(result), *result, nil
}

// WriteSession writes text to a running session's stdin and returns a poll.
func (t *ProcessTools) WriteSession(ctx context.Context, req *mcp.CallToolRequest, args WriteSessionArgs) (*mcp.CallToolResult, proc.PollResult, error) {
	if err := validateSessionID(args.SessionID); err != nil {
		return createErrorResult(err.Error()), proc.PollResult{}, nil
	}
	if args.Text == "" {
		return createErrorResult("text cannot be empty"), proc.PollResult{}, nil
	}

	result, err := t.registry.WriteSession(args.SessionID, args.Text, args.Cursor)
	if err != nil {
		return sessionErrorResult(err), proc.PollResult{}, nil
	}
	return createJSONResult(result), *result, nil
}

// TerminateSession stops a session, cooperatively or unconditionally.
func (t *ProcessTools) TerminateSession(ctx context.Context, req *mcp.CallToolRequest, args TerminateSessionArgs) (*mcp.CallToolResult, proc.TerminateResult, error) {
	if err := validateSessionID(args.SessionID); err != nil {
		return createErrorResult(err.Error()), proc.TerminateResult{}, nil
	}

	t.logger.Info("Terminating session", map[string]interface{}{
		"session_id": args.SessionID,
		"mode":       args.Mode,
	})

	result, err := t.registry.TerminateSession(args.SessionID, args.Mode)
	if err != nil {
		return sessionErrorResult(err), proc.TerminateResult{}, nil
	}
	return createJSONResult(result), *result, nil
}

// SessionStatus reports a session's lifecycle state and counters.
func (t *ProcessTools) SessionStatus(ctx context.Context, req *mcp.CallToolRequest, args SessionStatusArgs) (*mcp.CallToolResult, proc.StatusResult, error) {
	if err := validateSessionID(args.SessionID); err != nil {
		return createErrorResult(err.Error()), proc.StatusResult{}, nil
	}

	result, err := t.registry.Status(args.SessionID)
	if err != nil {
		return sessionErrorResult(err), proc.StatusResult{}, nil
	}
	return createJSONResult(result), *result, nil
}

// ListSessions lists a tenant's sessions, most recently active first.
func (t *ProcessTools) ListSessions(ctx context.Context, req *mcp.CallToolRequest, args ListSessionsArgs) (*mcp.CallToolResult, ListSessionsResult, error) {
	limit := args.Limit
	if limit <= 0 {
		limit = 20
	}

	rows, err := t.registry.ListSessions(args.ChatID, args.UserID, limit)
	if err != nil {
		return sessionErrorResult(err), ListSessionsResult{}, nil
	}

	result := ListSessionsResult{Sessions: make([]SessionSummary, 0, len(rows))}
	for _, row := range rows {
		result.Sessions = append(result.Sessions, summarize(row))
	}
	result.Count = len(result.Sessions)
	return createJSONResult(result), result, nil
}

// GetActiveSession returns the tenant's most recently active running session.
func (t *ProcessTools) GetActiveSession(ctx context.Context, req *mcp.CallToolRequest, args ListSessionsArgs) (*mcp.CallToolResult, ActiveSessionResult, error) {
	row, err := t.registry.GetActiveSession(args.ChatID, args.UserID)
	if err != nil {
		return sessionErrorResult(err), ActiveSessionResult{}, nil
	}
	if row == nil {
		return createJSONResult(ActiveSessionResult{Found: false}), ActiveSessionResult{Found: false}, nil
	}

	summary := summarize(row)
	result := ActiveSessionResult{Found: true, Session: &summary}
	return createJSONResult(result), result, nil
}

// SearchSessionLog searches a session's durable log for a substring.
func (t *ProcessTools) SearchSessionLog(ctx context.Context, req *mcp.CallToolRequest, args SearchLogArgs) (*mcp.CallToolResult, proc.SearchResult, error) {
	if err := validateSessionID(args.SessionID); err != nil {
		return createErrorResult(err.Error()), proc.SearchResult{}, nil
	}
	if args.Query == "" {
		return createErrorResult("query cannot be empty"), proc.SearchResult{}, nil
	}

	result, err := t.registry.SearchLog(args.SessionID, args.Query, args.MaxResults, args.ContextLines, args.Cursor)
	if err != nil {
		return sessionErrorResult(err), proc.SearchResult{}, nil
	}
	return createJSONResult(result), *result, nil
}

// CleanupSessions runs an on-demand sweep and reports how many sessions
// were reaped.
func (t *ProcessTools) CleanupSessions(ctx context.Context, req *mcp.CallToolRequest, args CleanupSessionsArgs) (*mcp.CallToolResult, CleanupSessionsResult, error) {
	reaped := t.registry.CleanupSessions()
	result := CleanupSessionsResult{Reaped: reaped}
	return createJSONResult(result), result, nil
}

// RunCommand executes a one-shot command with a hard timeout and no
// session bookkeeping.
func (t *ProcessTools) RunCommand(ctx context.Context, req *mcp.CallToolRequest, args RunCommandArgs) (*mcp.CallToolResult, proc.ShortResult, error) {
	t.logger.Debug("Running short command", map[string]interface{}{
		"timeout_sec": args.TimeoutSec,
	})

	result, err := proc.RunShortCommand(args.Command, args.WorkspaceRoot, args.TimeoutSec)
	if err != nil {
		return sessionErrorResult(err), proc.ShortResult{}, nil
	}

	// The human-readable rendering mirrors the exit status first.
	text := fmt.Sprintf("exit %d\n%s", result.ReturnCode, result.Output)
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
		IsError: !result.OK,
	}, *result, nil
}
