package tools

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/procmux/procmux/internal/config"
	"github.com/procmux/procmux/internal/logger"
	"github.com/procmux/procmux/internal/proc"
)

func newTestTools(t *testing.T) *ProcessTools {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Session.TerminateGraceSec = 1

	log, err := logger.NewLogger(&config.LoggingConfig{
		Level:  "error",
		Format: "json",
		Output: "stderr",
	}, "test")
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}

	registry := proc.NewRegistry(cfg, log, nil)
	return NewProcessTools(registry, cfg, log)
}

func textOf(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("empty tool result content")
	}
	text, ok := result.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("unexpected content type %T", result.Content[0])
	}
	return text.Text
}

func TestStartPollTerminateFlow(t *testing.T) {
	pt := newTestTools(t)
	ctx := context.Background()

	callResult, start, err := pt.StartSession(ctx, nil, StartSessionArgs{
		ChatID:        1,
		UserID:        1,
		Command:       "sleep 10",
		WorkspaceRoot: t.TempDir(),
		PolicyProfile: "trusted",
	})
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	if callResult.IsError {
		t.Fatalf("unexpected error result: %s", textOf(t, callResult))
	}
	if start.Status != proc.StatusRunning {
		t.Errorf("expected running, got %s", start.Status)
	}

	_, poll, err := pt.PollSession(ctx, nil, PollSessionArgs{SessionID: start.SessionID})
	if err != nil {
		t.Fatal(err)
	}
	if poll.Status != proc.StatusRunning {
		t.Errorf("expected running on poll, got %s", poll.Status)
	}

	_, term, err := pt.TerminateSession(ctx, nil, TerminateSessionArgs{
		SessionID: start.SessionID,
		Mode:      "kill",
	})
	if err != nil {
		t.Fatal(err)
	}
	if term.Status != proc.StatusTerminated {
		t.Errorf("expected terminated, got %s", term.Status)
	}
}

func TestToolErrorsAreResultsNotFailures(t *testing.T) {
	pt := newTestTools(t)
	ctx := context.Background()

	t.Run("start with empty command", func(t *testing.T) {
		result, _, err := pt.StartSession(ctx, nil, StartSessionArgs{
			ChatID: 1, UserID: 1, Command: " ", WorkspaceRoot: t.TempDir(),
		})
		if err != nil {
			t.Fatalf("expected in-band error, got %v", err)
		}
		if !result.IsError {
			t.Error("expected error result")
		}
		if !strings.Contains(textOf(t, result), "COMMAND_EMPTY") {
			t.Errorf("expected error code in text: %s", textOf(t, result))
		}
	})

	t.Run("poll unknown session", func(t *testing.T) {
		result, _, err := pt.PollSession(ctx, nil, PollSessionArgs{SessionID: "proc-missing"})
		if err != nil {
			t.Fatalf("expected in-band error, got %v", err)
		}
		if !result.IsError {
			t.Error("expected error result")
		}
		if !strings.Contains(textOf(t, result), "SESSION_NOT_FOUND") {
			t.Errorf("expected error code in text: %s", textOf(t, result))
		}
	})

	t.Run("malformed session id", func(t *testing.T) {
		result, _, err := pt.SessionStatus(ctx, nil, SessionStatusArgs{SessionID: "not-a-session"})
		if err != nil {
			t.Fatal(err)
		}
		if !result.IsError {
			t.Error("expected error result for malformed id")
		}
	})
}

func TestListSessionsTool(t *testing.T) {
	pt := newTestTools(t)
	ctx := context.Background()

	_, start, err := pt.StartSession(ctx, nil, StartSessionArgs{
		ChatID: 7, UserID: 8, Command: "echo listed", WorkspaceRoot: t.TempDir(),
		PolicyProfile: "trusted",
	})
	if err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		_, status, err := pt.SessionStatus(ctx, nil, SessionStatusArgs{SessionID: start.SessionID})
		if err != nil {
			t.Fatal(err)
		}
		if status.Status != proc.StatusRunning {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}

	_, list, err := pt.ListSessions(ctx, nil, ListSessionsArgs{ChatID: 7, UserID: 8})
	if err != nil {
		t.Fatal(err)
	}
	if list.Count != 1 {
		t.Fatalf("expected 1 session, got %d", list.Count)
	}
	if list.Sessions[0].Cmd != "echo listed" {
		t.Errorf("unexpected cmd %q", list.Sessions[0].Cmd)
	}

	_, active, err := pt.GetActiveSession(ctx, nil, ListSessionsArgs{ChatID: 7, UserID: 8})
	if err != nil {
		t.Fatal(err)
	}
	if active.Found {
		t.Error("finished session should not be active")
	}
}

func TestRunCommandTool(t *testing.T) {
	pt := newTestTools(t)
	ctx := context.Background()

	result, short, err := pt.RunCommand(ctx, nil, RunCommandArgs{
		Command:    "echo quick",
		TimeoutSec: 10,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !short.OK || short.ReturnCode != 0 {
		t.Errorf("unexpected result: %+v", short)
	}
	if !strings.Contains(textOf(t, result), "exit 0") {
		t.Errorf("expected exit status in text: %s", textOf(t, result))
	}

	_, timedOut, err := pt.RunCommand(ctx, nil, RunCommandArgs{
		Command:    "sleep 10",
		TimeoutSec: 1,
	})
	if err != nil {
		t.Fatal(err)
	}
	if timedOut.ReturnCode != 124 {
		t.Errorf("expected 124, got %d", timedOut.ReturnCode)
	}
}

func TestCleanupSessionsTool(t *testing.T) {
	pt := newTestTools(t)

	_, result, err := pt.CleanupSessions(context.Background(), nil, CleanupSessionsArgs{})
	if err != nil {
		t.Fatal(err)
	}
	if result.Reaped != 0 {
		t.Errorf("expected 0 reaped on empty registry, got %d", result.Reaped)
	}
}
