package tools

// Argument structs for the session tool surface. Field names follow the
// wire casing the schemas declare.

// StartSessionArgs are the arguments for start_session. Pty is a pointer so
// an omitted value defaults to true.
type StartSessionArgs struct {
	ChatID        int64  `json:"chat_id"`
	UserID        int64  `json:"user_id"`
	Command       string `json:"command"`
	WorkspaceRoot string `json:"workspace_root"`
	PolicyProfile string `json:"policy_profile,omitempty"`
	Pty           *bool  `json:"pty,omitempty"`
}

// PollSessionArgs are the arguments for poll_session.
type PollSessionArgs struct {
	SessionID string `json:"session_id"`
	Cursor    *int64 `json:"cursor,omitempty"`
	MaxBytes  int64  `json:"max_bytes,omitempty"`
}

// WriteSessionArgs are the arguments for write_session.
type WriteSessionArgs struct {
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
	Cursor    *int64 `json:"cursor,omitempty"`
}

// TerminateSessionArgs are the arguments for terminate_session.
type TerminateSessionArgs struct {
	SessionID string `json:"session_id"`
	Mode      string `json:"mode,omitempty"`
}

// SessionStatusArgs are the arguments for session_status.
type SessionStatusArgs struct {
	SessionID string `json:"session_id"`
}

// ListSessionsArgs are the arguments for list_sessions.
type ListSessionsArgs struct {
	ChatID int64 `json:"chat_id"`
	UserID int64 `json:"user_id"`
	Limit  int   `json:"limit,omitempty"`
}

// SearchLogArgs are the arguments for search_session_log.
type SearchLogArgs struct {
	SessionID    string `json:"session_id"`
	Query        string `json:"query"`
	MaxResults   int    `json:"max_results,omitempty"`
	ContextLines int    `json:"context_lines,omitempty"`
	Cursor       int64  `json:"cursor,omitempty"`
}

// CleanupSessionsArgs are the arguments for cleanup_sessions.
type CleanupSessionsArgs struct{}

// RunCommandArgs are the arguments for run_command.
type RunCommandArgs struct {
	Command       string `json:"command"`
	WorkspaceRoot string `json:"workspace_root,omitempty"`
	TimeoutSec    int    `json:"timeout_sec,omitempty"`
}

// SessionSummary is one row of a list_sessions result.
type SessionSummary struct {
	SessionID      string `json:"session_id"`
	Status         string `json:"status"`
	ExitCode       *int   `json:"exit_code"`
	Cmd            string `json:"cmd"`
	Pty            bool   `json:"pty"`
	CreatedAt      string `json:"created_at"`
	LastActivityAt string `json:"last_activity_at"`
	OutputBytes    int64  `json:"output_bytes"`
}

// ListSessionsResult is returned by list_sessions.
type ListSessionsResult struct {
	Sessions []SessionSummary `json:"sessions"`
	Count    int              `json:"count"`
}

// ActiveSessionResult is returned by get_active_session.
type ActiveSessionResult struct {
	Found   bool            `json:"found"`
	Session *SessionSummary `json:"session,omitempty"`
}

// CleanupSessionsResult is returned by cleanup_sessions.
type CleanupSessionsResult struct {
	Reaped int `json:"reaped"`
}
