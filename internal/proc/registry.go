// Package proc owns live process sessions: admission control, the spawn
// strategy, the output pipeline, and the public session API.
package proc

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/anmitsu/go-shlex"
	"github.com/google/uuid"
	"github.com/procmux/procmux/internal/config"
	"github.com/procmux/procmux/internal/database"
	sesserr "github.com/procmux/procmux/internal/errors"
	"github.com/procmux/procmux/internal/logger"
	"github.com/procmux/procmux/internal/logindex"
	"github.com/procmux/procmux/internal/policy"
	"github.com/procmux/procmux/internal/redact"
)

const (
	writeSettleDelay = 50 * time.Millisecond
	exitPollInterval = 50 * time.Millisecond
	killSettleWait   = 100 * time.Millisecond
)

// session is the registry-owned runtime state for one live (or, without a
// durable store, historical) process session.
type session struct {
	id            string
	chatID        int64
	userID        int64
	argv          []string
	workspaceRoot string
	ptyEnabled    bool
	status        string

	createdAt      time.Time
	startedAt      time.Time
	lastActivityAt time.Time

	// Monotonic readings for ceiling math, immune to wall-clock adjustment.
	createdMono      time.Time
	lastActivityMono time.Time

	maxWallSec      int
	idleTimeoutSec  int
	maxOutputBytes  int64
	ringBufferBytes int

	logPath   string
	indexPath string

	outputBytes           int64
	redactionReplacements int64
	lastCursor            int64
	exitCode              *int
	errText               string

	// Status a deliberate kill has committed to, recorded before the signal
	// is sent. Whichever caller finalizes first applies it, so a concurrent
	// poll that discovers the exit cannot misclassify the signal exit code.
	pendingStatus string
	pendingReason string

	ring    []byte
	proc    *SpawnedProcess
	indexer *logindex.Indexer
}

// Registry owns the map of live sessions behind one lock. Callers construct
// and own a registry instance; there is no process-wide singleton.
type Registry struct {
	cfg    *config.Config
	logger *logger.Logger
	db     *database.DB // optional durable mirror
	policy *policy.Engine

	mu       sync.Mutex
	sessions map[string]*session
}

// NewRegistry creates a session registry. db may be nil, in which case
// session history only survives as long as the registry does.
func NewRegistry(cfg *config.Config, log *logger.Logger, db *database.DB) *Registry {
	return &Registry{
		cfg:      cfg,
		logger:   log,
		db:       db,
		policy:   policy.NewEngine(cfg.Policy.AllowedBinaries),
		sessions: make(map[string]*session),
	}
}

// StartSession validates, admits, and spawns a new supervised session. The
// session's log and index files exist before the OS process is spawned, so
// a spawn failure is still durably recorded as failed.
func (r *Registry) StartSession(chatID, userID int64, cmd, workspaceRoot, policyProfile string, ptyEnabled bool) (*StartResult, error) {
	if strings.TrimSpace(cmd) == "" {
		return nil, sesserr.CommandEmpty()
	}
	argv, err := shlex.Split(cmd, true)
	if err != nil {
		return nil, sesserr.CommandInvalid(err)
	}
	if len(argv) == 0 {
		return nil, sesserr.CommandEmpty()
	}

	root, err := r.resolveWorkspaceRoot(workspaceRoot)
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(policyProfile) == "" {
		policyProfile = r.cfg.Policy.DefaultProfile
	}
	decision := r.policy.Evaluate(argv, policyProfile)
	if !decision.Allowed {
		return nil, sesserr.PolicyDenied(decision.Reason, decision.RiskTier)
	}

	if count := r.countActiveSessions(chatID, userID); count >= r.cfg.Session.MaxSessionsPerUser {
		return nil, sesserr.SessionCapReached(r.cfg.Session.MaxSessionsPerUser)
	}

	sessionID := "proc-" + strings.ReplaceAll(uuid.New().String(), "-", "")[:16]
	runsDir := filepath.Join(root, "runs")
	logPath := filepath.Join(runsDir, sessionID+".log")
	indexPath := filepath.Join(runsDir, sessionID+".chunks.jsonl")
	if !containedIn(logPath, root) || !containedIn(indexPath, root) {
		return nil, sesserr.WorkspaceEscape(logPath)
	}

	now := time.Now()
	s := &session{
		id:               sessionID,
		chatID:           chatID,
		userID:           userID,
		argv:             argv,
		workspaceRoot:    root,
		ptyEnabled:       ptyEnabled,
		status:           StatusRunning,
		createdAt:        now,
		startedAt:        now,
		lastActivityAt:   now,
		createdMono:      now,
		lastActivityMono: now,
		maxWallSec:       r.cfg.Session.MaxWallSec,
		idleTimeoutSec:   r.cfg.Session.IdleTimeoutSec,
		maxOutputBytes:   r.cfg.Session.MaxOutputBytes,
		ringBufferBytes:  r.cfg.Session.RingBufferBytes,
		logPath:          logPath,
		indexPath:        indexPath,
	}
	s.indexer = logindex.NewIndexer(sessionID, logPath, indexPath, r.cfg.Session.IndexStrideBytes)
	if err := s.indexer.Initialize(); err != nil {
		return nil, sesserr.FileSystemError(err, logPath)
	}

	r.mu.Lock()
	r.sessions[sessionID] = s
	r.persistStart(s)
	r.mu.Unlock()

	onOutput := func(data []byte) {
		r.handleOutput(sessionID, data)
	}

	spawned, spawnErr := Spawn(argv, root, ptyEnabled, onOutput)
	if spawnErr != nil {
		var startErr *sesserr.SessionError
		if isNotFound(spawnErr) {
			startErr = sesserr.CommandNotFound(argv[0])
		} else {
			startErr = sesserr.SpawnFailed(spawnErr)
		}

		// The log files and the row created above are retained and marked
		// failed, preserving the audit trail of the attempt.
		r.mu.Lock()
		s.status = StatusFailed
		s.errText = startErr.Message
		s.lastActivityAt = time.Now()
		if r.db != nil {
			completed := time.Now()
			rec := r.snapshotLocked(s)
			rec.CompletedAt = &completed
			if err := r.db.UpdateSession(rec); err != nil {
				r.logger.Warn("Failed to persist spawn failure", map[string]interface{}{
					"session_id": sessionID,
					"error":      err.Error(),
				})
			}
			delete(r.sessions, sessionID)
		}
		r.mu.Unlock()

		r.logger.Error("Session spawn failed", spawnErr, map[string]interface{}{
			"session_id": sessionID,
			"cmd":        argv[0],
		})
		return nil, startErr
	}

	r.mu.Lock()
	current, ok := r.sessions[sessionID]
	if !ok {
		r.mu.Unlock()
		spawned.Kill()
		spawned.Close()
		return nil, sesserr.InternalError(nil, "session was removed during startup")
	}
	current.proc = spawned
	current.ptyEnabled = spawned.PtyEnabled()
	r.persistRuntime(current, false)
	r.mu.Unlock()

	r.logger.LogSessionEvent("started", sessionID, map[string]interface{}{
		"chat_id": chatID,
		"user_id": userID,
		"pty":     s.ptyEnabled,
		"cmd":     strings.Join(argv, " "),
	})

	return &StartResult{
		SessionID: sessionID,
		Status:    StatusRunning,
		Cursor:    0,
		Pty:       s.ptyEnabled,
	}, nil
}

// PollSession reads a byte window from the session's durable log. A nil
// cursor resumes from the session's last delivered offset and advances it,
// making repeated default polls gap-free and duplicate-free; an explicit
// cursor re-reads without moving the delivery point.
func (r *Registry) PollSession(sessionID string, cursor *int64, maxBytes int64) (*PollResult, error) {
	r.mu.Lock()
	live := r.sessions[sessionID]
	r.mu.Unlock()

	r.finalizeIfExited(sessionID)

	row := r.getSessionRow(sessionID)
	if row == nil && live != nil {
		r.mu.Lock()
		row = r.snapshotLocked(live)
		r.mu.Unlock()
	}
	if row == nil {
		return nil, sesserr.SessionNotFound(sessionID)
	}

	if maxBytes <= 0 {
		maxBytes = r.cfg.Session.PollReadBytes
	}

	cursorStart := row.LastCursor
	if cursor != nil {
		cursorStart = max(0, *cursor)
	}
	cursorNext := cursorStart

	var text string
	f, err := os.Open(row.LogPath)
	if err == nil {
		buf := make([]byte, maxBytes)
		n, _ := f.ReadAt(buf, cursorStart)
		f.Close()
		if n > 0 {
			text = strings.ToValidUTF8(string(buf[:n]), "�")
			cursorNext = cursorStart + int64(n)
		}
	}
	// A transiently missing log degrades to an empty window, never an error.

	if cursor == nil && cursorNext > cursorStart {
		r.mu.Lock()
		if s := r.sessions[sessionID]; s != nil && cursorNext > s.lastCursor {
			s.lastCursor = cursorNext
		}
		r.mu.Unlock()
		if r.db != nil {
			if err := r.db.SetLastCursor(sessionID, cursorNext); err != nil {
				r.logger.Warn("Failed to persist poll cursor", map[string]interface{}{
					"session_id": sessionID,
					"error":      err.Error(),
				})
			}
		}
	}

	return &PollResult{
		SessionID:  sessionID,
		Status:     row.Status,
		ExitCode:   row.ExitCode,
		Cursor:     cursorStart,
		CursorNext: cursorNext,
		Output:     text,
		LogPath:    row.LogPath,
	}, nil
}

// WriteSession writes text to the session's stdin, waits briefly for the
// input to produce output, and returns an immediate poll so one round trip
// yields both the acknowledgement and any resulting output.
func (r *Registry) WriteSession(sessionID, text string, cursor *int64) (*PollResult, error) {
	r.mu.Lock()
	s := r.sessions[sessionID]
	r.mu.Unlock()

	if s == nil {
		if row := r.getSessionRow(sessionID); row != nil {
			return nil, sesserr.SessionNotRunning(sessionID, row.Status)
		}
		return nil, sesserr.SessionNotFound(sessionID)
	}
	if s.status != StatusRunning || s.proc == nil {
		return nil, sesserr.SessionNotRunning(sessionID, s.status)
	}

	if err := s.proc.WriteStdin(text); err != nil {
		return nil, sesserr.StdinWriteFailed(err, sessionID)
	}

	now := time.Now()
	r.mu.Lock()
	s.lastActivityAt = now
	s.lastActivityMono = now
	r.persistRuntime(s, false)
	r.mu.Unlock()

	time.Sleep(writeSettleDelay)
	return r.PollSession(sessionID, cursor, 0)
}

// TerminateSession stops a session. Interrupt mode signals the process
// group and escalates to a hard kill if it has not exited within the grace
// period; kill mode is unconditional. Terminating an already-finalized but
// known session returns its historical status.
func (r *Registry) TerminateSession(sessionID, mode string) (*TerminateResult, error) {
	normalized := strings.ToLower(strings.TrimSpace(mode))
	if normalized != ModeKill {
		normalized = ModeInterrupt
	}

	r.mu.Lock()
	s := r.sessions[sessionID]
	r.mu.Unlock()

	if s == nil || s.proc == nil {
		if row := r.getSessionRow(sessionID); row != nil {
			return &TerminateResult{
				SessionID: sessionID,
				Status:    row.Status,
				ExitCode:  row.ExitCode,
			}, nil
		}
		return nil, sesserr.SessionNotFound(sessionID)
	}

	r.markPendingTermination(sessionID, "terminated via "+normalized)

	proc := s.proc
	if normalized == ModeInterrupt {
		proc.Interrupt()
		r.awaitExit(proc, time.Duration(r.cfg.Session.TerminateGraceSec)*time.Second)
		if proc.Poll() == nil {
			proc.Kill()
			r.awaitExit(proc, killSettleWait)
		}
	} else {
		proc.Kill()
		r.awaitExit(proc, killSettleWait)
	}

	r.finalize(sessionID, StatusTerminated, "terminated via "+normalized)

	row := r.getSessionRow(sessionID)
	if row == nil {
		return &TerminateResult{SessionID: sessionID, Status: StatusTerminated}, nil
	}
	return &TerminateResult{
		SessionID: sessionID,
		Status:    row.Status,
		ExitCode:  row.ExitCode,
	}, nil
}

// Status reports a session's lifecycle state and resource counters.
func (r *Registry) Status(sessionID string) (*StatusResult, error) {
	r.finalizeIfExited(sessionID)

	row := r.getSessionRow(sessionID)
	if row == nil {
		return nil, sesserr.SessionNotFound(sessionID)
	}

	now := time.Now()
	return &StatusResult{
		SessionID:   sessionID,
		Status:      row.Status,
		ExitCode:    row.ExitCode,
		AgeSec:      int64(now.Sub(row.CreatedAt).Seconds()),
		IdleSec:     int64(now.Sub(row.LastActivityAt).Seconds()),
		OutputBytes: row.OutputBytes,
		Pty:         row.PtyEnabled,
		Cmd:         strings.Join(row.Argv, " "),
		Tail:        string(r.Tail(sessionID)),
	}, nil
}

// Tail returns a copy of the session's in-memory ring buffer: the most
// recent output bytes, bounded by the ring ceiling. Empty once the session
// has been evicted.
func (r *Registry) Tail(sessionID string) []byte {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.sessions[sessionID]
	if s == nil || len(s.ring) == 0 {
		return nil
	}
	out := make([]byte, len(s.ring))
	copy(out, s.ring)
	return out
}

// ListSessions returns a tenant's sessions, most recently active first.
func (r *Registry) ListSessions(chatID, userID int64, limit int) ([]*database.SessionRecord, error) {
	if limit < 1 {
		limit = 1
	}
	if r.db != nil {
		rows, err := r.db.ListSessions(chatID, userID, limit)
		if err != nil {
			return nil, sesserr.DatabaseError(err, "list sessions")
		}
		return rows, nil
	}

	r.mu.Lock()
	var rows []*database.SessionRecord
	for _, s := range r.sessions {
		if s.chatID == chatID && s.userID == userID {
			rows = append(rows, r.snapshotLocked(s))
		}
	}
	r.mu.Unlock()

	sort.Slice(rows, func(i, j int) bool {
		return rows[i].LastActivityAt.After(rows[j].LastActivityAt)
	})
	if len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

// GetActiveSession returns the tenant's most recently active running
// session, or nil if none is running.
func (r *Registry) GetActiveSession(chatID, userID int64) (*database.SessionRecord, error) {
	rows, err := r.ListSessions(chatID, userID, 50)
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		if row.Status == StatusRunning {
			return row, nil
		}
	}
	return nil, nil
}

// SearchLog searches the session's durable log for a substring. Passing a
// previous result's CursorNext as cursor resumes the search past matches
// already returned.
func (r *Registry) SearchLog(sessionID, query string, maxResults, contextLines int, cursor int64) (*SearchResult, error) {
	row := r.getSessionRow(sessionID)
	if row == nil {
		return nil, sesserr.SessionNotFound(sessionID)
	}

	if cursor < 0 {
		cursor = 0
	}
	matches, err := logindex.Search(row.LogPath, query, maxResults, contextLines, cursor)
	if err != nil {
		return nil, sesserr.FileSystemError(err, row.LogPath)
	}

	// One past the last match offset, so resuming from it cannot re-return
	// a match already delivered.
	cursorNext := cursor
	for _, m := range matches {
		if m.Offset+1 > cursorNext {
			cursorNext = m.Offset + 1
		}
	}

	return &SearchResult{
		SessionID:  sessionID,
		Query:      query,
		Matches:    matches,
		Cursor:     cursor,
		CursorNext: cursorNext,
		LogPath:    row.LogPath,
	}, nil
}

// CleanupSessions sweeps live sessions and reaps any that have exited
// without being finalized or that violate a resource ceiling. Wall-clock
// and output-byte violations are killed immediately; idle violations are
// interrupted first and escalated like TerminateSession.
func (r *Registry) CleanupSessions() int {
	now := time.Now()

	type candidate struct {
		id     string
		reason string
	}
	var candidates []candidate

	r.mu.Lock()
	for id, s := range r.sessions {
		switch {
		case s.status != StatusRunning:
			if r.db != nil {
				candidates = append(candidates, candidate{id, "stale"})
			}
		case s.proc != nil && s.proc.Poll() != nil:
			candidates = append(candidates, candidate{id, "exited"})
		case now.Sub(s.createdMono) > time.Duration(s.maxWallSec)*time.Second:
			candidates = append(candidates, candidate{id, "wall"})
		case now.Sub(s.lastActivityMono) > time.Duration(s.idleTimeoutSec)*time.Second:
			candidates = append(candidates, candidate{id, "idle"})
		case s.outputBytes >= s.maxOutputBytes:
			candidates = append(candidates, candidate{id, "output"})
		}
	}
	r.mu.Unlock()

	cleaned := 0
	for _, c := range candidates {
		r.mu.Lock()
		s := r.sessions[c.id]
		r.mu.Unlock()
		if s == nil {
			continue
		}

		switch c.reason {
		case "wall":
			r.markPendingTermination(c.id, "max wall time exceeded")
			if s.proc != nil {
				s.proc.Kill()
				r.awaitExit(s.proc, killSettleWait)
			}
			r.finalize(c.id, StatusTerminated, "max wall time exceeded")
		case "idle":
			r.markPendingTermination(c.id, "idle timeout exceeded")
			if s.proc != nil {
				s.proc.Interrupt()
				r.awaitExit(s.proc, time.Duration(r.cfg.Session.TerminateGraceSec)*time.Second)
				if s.proc.Poll() == nil {
					s.proc.Kill()
					r.awaitExit(s.proc, killSettleWait)
				}
			}
			r.finalize(c.id, StatusTerminated, "idle timeout exceeded")
		case "output":
			r.markPendingTermination(c.id, "max output bytes exceeded")
			if s.proc != nil {
				s.proc.Kill()
				r.awaitExit(s.proc, killSettleWait)
			}
			r.finalize(c.id, StatusTerminated, "max output bytes exceeded")
		default:
			r.finalizeIfExited(c.id)
		}
		cleaned++

		r.logger.LogSessionEvent("reaped", c.id, map[string]interface{}{
			"reason": c.reason,
		})
	}
	return cleaned
}

// SessionCount returns the number of sessions currently held in memory.
func (r *Registry) SessionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Shutdown terminates all live sessions. Used on server exit.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	var ids []string
	for id, s := range r.sessions {
		if s.status == StatusRunning && s.proc != nil {
			ids = append(ids, id)
		}
	}
	r.mu.Unlock()

	for _, id := range ids {
		if _, err := r.TerminateSession(id, ModeKill); err != nil {
			r.logger.Warn("Failed to terminate session during shutdown", map[string]interface{}{
				"session_id": id,
				"error":      err.Error(),
			})
		}
	}
}

// handleOutput is the output pipeline. It runs on reader goroutines, once
// per raw chunk, and applies the chunk's derived-state update atomically
// with respect to concurrent poll/terminate calls.
func (r *Registry) handleOutput(sessionID string, data []byte) {
	text := strings.ToValidUTF8(string(data), "�")
	if text == "" {
		return
	}

	shouldKill := false

	r.mu.Lock()
	s := r.sessions[sessionID]
	if s == nil || s.indexer == nil || s.status != StatusRunning {
		r.mu.Unlock()
		return
	}

	res := redact.Redact(text)
	written, chunks, err := s.indexer.Append(res.Text)
	if err != nil {
		r.logger.Warn("Failed to append session output", map[string]interface{}{
			"session_id": sessionID,
			"error":      err.Error(),
		})
	}
	s.outputBytes += written
	s.redactionReplacements += int64(res.Replacements)
	now := time.Now()
	s.lastActivityAt = now
	s.lastActivityMono = now

	s.ring = append(s.ring, res.Text...)
	if len(s.ring) > s.ringBufferBytes {
		s.ring = s.ring[len(s.ring)-s.ringBufferBytes:]
	}

	r.persistRuntime(s, false)
	if r.db != nil {
		for _, chunk := range chunks {
			rec := &database.ChunkRecord{
				SessionID:   chunk.SessionID,
				Seq:         chunk.Seq,
				CreatedAt:   chunk.CreatedAt,
				StartOffset: chunk.StartOffset,
				EndOffset:   chunk.EndOffset,
				Preview:     chunk.Preview,
			}
			if err := r.db.AppendChunk(rec); err != nil {
				r.logger.Warn("Failed to mirror chunk row", map[string]interface{}{
					"session_id": sessionID,
					"seq":        chunk.Seq,
					"error":      err.Error(),
				})
			}
		}
	}

	if s.outputBytes >= s.maxOutputBytes {
		// Committed while still holding the lock: the finalize triggered by
		// the kill below must record terminated even if a concurrent poll
		// observes the exit before TerminateSession does.
		s.pendingStatus = StatusTerminated
		s.pendingReason = "max output bytes exceeded"
		shouldKill = true
	}
	r.mu.Unlock()

	if shouldKill {
		// Unbounded output is a flooding risk: this ceiling is enforced
		// inline rather than waiting for the sweep.
		r.TerminateSession(sessionID, ModeKill)
	}
}

// markPendingTermination commits a still-running session to finalizing as
// terminated before any signal is sent.
func (r *Registry) markPendingTermination(sessionID, reason string) {
	r.mu.Lock()
	if s := r.sessions[sessionID]; s != nil && s.status == StatusRunning {
		s.pendingStatus = StatusTerminated
		s.pendingReason = reason
	}
	r.mu.Unlock()
}

// finalizeIfExited finalizes a session whose process has already exited.
// Exit is discovered lazily, at poll/status/cleanup time.
func (r *Registry) finalizeIfExited(sessionID string) {
	r.mu.Lock()
	s := r.sessions[sessionID]
	if s == nil || s.proc == nil || s.status != StatusRunning || s.proc.Poll() == nil {
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()
	r.finalize(sessionID, "", "")
}

// finalize records the session's terminal status, closes its process, and
// evicts it from the live map when a durable store retains its history.
func (r *Registry) finalize(sessionID, forcedStatus, forcedError string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.sessions[sessionID]
	if s == nil {
		return
	}
	if s.status != StatusRunning && s.proc == nil {
		// Already finalized; retained as in-memory history.
		return
	}

	var exitCode *int
	if s.proc != nil {
		exitCode = s.proc.Poll()
	} else {
		exitCode = s.exitCode
	}
	s.exitCode = exitCode

	// A pending deliberate kill outranks the exit-code mapping, whichever
	// caller reaches here first.
	if forcedStatus == "" && s.pendingStatus != "" {
		forcedStatus = s.pendingStatus
		if forcedError == "" {
			forcedError = s.pendingReason
		}
	}

	switch {
	case forcedStatus != "":
		s.status = forcedStatus
	case exitCode == nil:
		s.status = StatusTerminated
	case *exitCode == 0:
		s.status = StatusCompleted
	default:
		s.status = StatusFailed
	}

	if forcedError != "" {
		s.errText = forcedError
	}
	s.lastActivityAt = time.Now()
	r.persistRuntime(s, true)

	if s.proc != nil {
		s.proc.Close()
		s.proc = nil
	}
	if r.db != nil {
		delete(r.sessions, sessionID)
	}

	r.logger.LogSessionEvent("finalized", sessionID, map[string]interface{}{
		"status": s.status,
	})
}

// countActiveSessions takes the max of the in-memory and persisted running
// counts so a freshly restarted server cannot under-count sessions it has
// not reloaded.
func (r *Registry) countActiveSessions(chatID, userID int64) int {
	r.mu.Lock()
	inMemory := 0
	for _, s := range r.sessions {
		if s.chatID == chatID && s.userID == userID && s.status == StatusRunning {
			inMemory++
		}
	}
	r.mu.Unlock()

	if r.db == nil {
		return inMemory
	}
	persisted, err := r.db.CountRunningSessions(chatID, userID)
	if err != nil {
		r.logger.Warn("Failed to count persisted running sessions", map[string]interface{}{
			"error": err.Error(),
		})
		return inMemory
	}
	return max(inMemory, persisted)
}

// getSessionRow returns the live runtime snapshot if present, otherwise the
// durable row, otherwise nil.
func (r *Registry) getSessionRow(sessionID string) *database.SessionRecord {
	r.mu.Lock()
	if s := r.sessions[sessionID]; s != nil {
		row := r.snapshotLocked(s)
		r.mu.Unlock()
		return row
	}
	r.mu.Unlock()

	if r.db == nil {
		return nil
	}
	row, err := r.db.GetSession(sessionID)
	if err != nil {
		r.logger.Warn("Failed to load session row", map[string]interface{}{
			"session_id": sessionID,
			"error":      err.Error(),
		})
		return nil
	}
	return row
}

// snapshotLocked converts runtime state to a record. Caller holds the lock.
func (r *Registry) snapshotLocked(s *session) *database.SessionRecord {
	argv := make([]string, len(s.argv))
	copy(argv, s.argv)
	return &database.SessionRecord{
		ID:                    s.id,
		ChatID:                s.chatID,
		UserID:                s.userID,
		Argv:                  argv,
		WorkspaceRoot:         s.workspaceRoot,
		PtyEnabled:            s.ptyEnabled,
		Status:                s.status,
		ExitCode:              s.exitCode,
		CreatedAt:             s.createdAt,
		StartedAt:             s.startedAt,
		LastActivityAt:        s.lastActivityAt,
		MaxWallSec:            s.maxWallSec,
		IdleTimeoutSec:        s.idleTimeoutSec,
		MaxOutputBytes:        s.maxOutputBytes,
		RingBufferBytes:       s.ringBufferBytes,
		OutputBytes:           s.outputBytes,
		RedactionReplacements: s.redactionReplacements,
		LogPath:               s.logPath,
		IndexPath:             s.indexPath,
		LastCursor:            s.lastCursor,
		Error:                 s.errText,
	}
}

// persistStart mirrors a freshly admitted session. Caller holds the lock.
func (r *Registry) persistStart(s *session) {
	if r.db == nil {
		return
	}
	if err := r.db.CreateSession(r.snapshotLocked(s)); err != nil {
		r.logger.Warn("Failed to persist session start", map[string]interface{}{
			"session_id": s.id,
			"error":      err.Error(),
		})
	}
}

// persistRuntime mirrors mutable session state. Caller holds the lock.
func (r *Registry) persistRuntime(s *session, completed bool) {
	if r.db == nil {
		return
	}
	rec := r.snapshotLocked(s)
	if completed {
		now := time.Now()
		rec.CompletedAt = &now
	}
	if err := r.db.UpdateSession(rec); err != nil {
		r.logger.Warn("Failed to persist session state", map[string]interface{}{
			"session_id": s.id,
			"error":      err.Error(),
		})
	}
}

// awaitExit polls the process's exit status until it exits or the deadline
// passes.
func (r *Registry) awaitExit(p *SpawnedProcess, grace time.Duration) {
	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		if p.Poll() != nil {
			return
		}
		time.Sleep(exitPollInterval)
	}
}

func (r *Registry) resolveWorkspaceRoot(workspaceRoot string) (string, error) {
	if strings.TrimSpace(workspaceRoot) == "" {
		return "", sesserr.New(sesserr.ErrCodeMissingRequired, "workspace root is required")
	}
	root, err := filepath.Abs(workspaceRoot)
	if err != nil {
		return "", sesserr.FileSystemError(err, workspaceRoot)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return "", sesserr.FileSystemError(err, root)
	}
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return "", sesserr.New(sesserr.ErrCodeWorkspaceUnusable,
			fmt.Sprintf("workspace root is not a directory: %s", root))
	}
	return root, nil
}

// containedIn reports whether path resolves strictly inside root.
func containedIn(path, root string) bool {
	rel, err := filepath.Rel(root, filepath.Clean(path))
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func isNotFound(err error) bool {
	return errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist)
}
