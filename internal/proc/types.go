package proc

import "github.com/procmux/procmux/internal/logindex"

// Session status values.
const (
	StatusRunning    = "running"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusTerminated = "terminated"
)

// Termination modes.
const (
	ModeInterrupt = "interrupt"
	ModeKill      = "kill"
)

// StartResult is returned by StartSession.
type StartResult struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
	Cursor    int64  `json:"cursor"`
	Pty       bool   `json:"pty"`
}

// PollResult is returned by PollSession and WriteSession.
type PollResult struct {
	SessionID  string `json:"session_id"`
	Status     string `json:"status"`
	ExitCode   *int   `json:"exit_code"`
	Cursor     int64  `json:"cursor"`
	CursorNext int64  `json:"cursor_next"`
	Output     string `json:"output"`
	LogPath    string `json:"log_path"`
}

// TerminateResult is returned by TerminateSession.
type TerminateResult struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
	ExitCode  *int   `json:"exit_code"`
}

// StatusResult is returned by Status.
type StatusResult struct {
	SessionID   string `json:"session_id"`
	Status      string `json:"status"`
	ExitCode    *int   `json:"exit_code"`
	AgeSec      int64  `json:"age_sec"`
	IdleSec     int64  `json:"idle_sec"`
	OutputBytes int64  `json:"output_bytes"`
	Pty         bool   `json:"pty"`
	Cmd         string `json:"cmd"`
	Tail        string `json:"tail,omitempty"`
}

// SearchResult is returned by SearchLog.
type SearchResult struct {
	SessionID  string           `json:"session_id"`
	Query      string           `json:"query"`
	Matches    []logindex.Match `json:"matches"`
	Cursor     int64            `json:"cursor"`
	CursorNext int64            `json:"cursor_next"`
	LogPath    string           `json:"log_path"`
}

// ShortResult is returned by RunShortCommand.
type ShortResult struct {
	OK                    bool   `json:"ok"`
	ReturnCode            int    `json:"returncode"`
	Output                string `json:"output"`
	RedactionReplacements int    `json:"redaction_replacements"`
}
