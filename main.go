package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/procmux/procmux/internal/config"
	"github.com/procmux/procmux/internal/database"
	"github.com/procmux/procmux/internal/logger"
	"github.com/procmux/procmux/internal/monitoring"
	"github.com/procmux/procmux/internal/proc"
	"github.com/procmux/procmux/internal/tools"
)

func main() {
	// Parse command line flags
	configFile := flag.String("config", "", "Path to configuration file")
	debugMode := flag.Bool("debug", false, "Enable debug mode")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if *debugMode {
		cfg.Server.Debug = true
		cfg.Logging.Level = "debug"
	}

	// Log to stderr so stdout stays clean for JSON-RPC traffic
	log.SetOutput(os.Stderr)

	appLogger, err := logger.NewLogger(&cfg.Logging, "procmux")
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting procmux session server", map[string]interface{}{
		"version": cfg.Server.Version,
		"debug":   cfg.Server.Debug,
	})

	// Initialize the durable store if enabled
	var db *database.DB
	if cfg.Database.Enable {
		db, err = database.NewDB(cfg.Database.DataDir)
		if err != nil {
			log.Fatalf("Failed to initialize database: %v", err)
		}
		defer db.Close()

		// Rows still marked running belong to a previous server process.
		orphaned, err := db.MarkOrphanedSessions()
		if err != nil {
			appLogger.Warn("Failed to reconcile orphaned sessions", map[string]interface{}{
				"error": err.Error(),
			})
		} else if orphaned > 0 {
			appLogger.Info("Reconciled orphaned sessions", map[string]interface{}{
				"count": orphaned,
			})
		}

		appLogger.Info("Database initialized successfully", map[string]interface{}{
			"data_dir": cfg.Database.DataDir,
		})
	}

	registry := proc.NewRegistry(cfg, appLogger, db)
	processTools := tools.NewProcessTools(registry, cfg, appLogger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sweeper := monitoring.NewSweeper(appLogger, registry, cfg.Session.CleanupInterval)
	sweeper.Start(ctx)
	defer sweeper.Stop()

	server := mcp.NewServer(&mcp.Implementation{
		Name:    cfg.Server.Name,
		Version: cfg.Server.Version,
	}, nil)

	registerTools(server, processTools)

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		appLogger.Info("Received shutdown signal, terminating live sessions...")
		registry.Shutdown()
		cancel()
	}()

	appLogger.Info("procmux session server is running on stdio transport")

	if err := server.Run(ctx, &mcp.StdioTransport{}); err != nil {
		appLogger.Error("Server error", err)
		os.Exit(1)
	}

	appLogger.Info("procmux session server shutdown completed")
}

func registerTools(server *mcp.Server, t *tools.ProcessTools) {
	sessionIDSchema := &jsonschema.Schema{
		Type:        "string",
		Description: "Session ID returned by start_session (proc-...).",
	}
	tenantProps := map[string]*jsonschema.Schema{
		"chat_id": {
			Type:        "integer",
			Description: "Tenant chat scope. Sessions are isolated per (chat_id, user_id).",
		},
		"user_id": {
			Type:        "integer",
			Description: "Tenant user scope.",
		},
	}

	mcp.AddTool(server, &mcp.Tool{
		Name:        "start_session",
		Description: "Start a long-running command as a supervised session. The command runs behind a pseudo-terminal when pty is true (falling back to pipes if PTY allocation fails), its output is redacted and appended to a durable log, and the session is subject to wall-time, idle-time, and output-byte ceilings. Returns the session ID to use with poll_session and write_session.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"chat_id": tenantProps["chat_id"],
				"user_id": tenantProps["user_id"],
				"command": {
					Type:        "string",
					Description: "Command line to run, parsed with shell-style word splitting. No shell interpretation beyond quoting.",
				},
				"workspace_root": {
					Type:        "string",
					Description: "Directory the command runs in. Log files are created under its runs/ subdirectory.",
				},
				"policy_profile": {
					Type:        "string",
					Description: "Execution policy profile: strict, balanced, or trusted. Unknown values are treated as balanced.",
				},
				"pty": {
					Type:        "boolean",
					Description: "Request a pseudo-terminal so interactive programs see a TTY. Defaults to true.",
				},
			},
			Required: []string{"chat_id", "user_id", "command", "workspace_root"},
		},
	}, t.StartSession)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "poll_session",
		Description: "Read a window of session output from its durable log. Omitting cursor resumes from the last delivered offset and advances it, so repeated polls are gap-free and duplicate-free; passing an explicit cursor re-reads from that offset without moving the delivery point. Also reports the session's current status and exit code.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"session_id": sessionIDSchema,
				"cursor": {
					Type:        "integer",
					Description: "Optional byte offset to read from. Omit to resume from the last delivered position.",
				},
				"max_bytes": {
					Type:        "integer",
					Description: "Maximum bytes to return. Defaults to the server's poll window.",
				},
			},
			Required: []string{"session_id"},
		},
	}, t.PollSession)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "write_session",
		Description: "Write text to a running session's stdin, then return an immediate poll so the response carries any output the input produced. Include a trailing newline to submit a line to line-buffered programs.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"session_id": sessionIDSchema,
				"text": {
					Type:        "string",
					Description: "Text to write verbatim to stdin.",
				},
				"cursor": {
					Type:        "integer",
					Description: "Optional byte offset for the follow-up poll.",
				},
			},
			Required: []string{"session_id", "text"},
		},
	}, t.WriteSession)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "terminate_session",
		Description: "Stop a session. Mode interrupt sends SIGINT to the process group and escalates to SIGKILL if the process has not exited within the grace period; mode kill sends SIGKILL immediately. Terminating an already-finished session returns its historical status.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"session_id": sessionIDSchema,
				"mode": {
					Type:        "string",
					Description: "interrupt (default) or kill.",
				},
			},
			Required: []string{"session_id"},
		},
	}, t.TerminateSession)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "session_status",
		Description: "Report a session's lifecycle status, exit code, age, idle time, output byte count, and the most recent output tail from the in-memory ring buffer.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"session_id": sessionIDSchema,
			},
			Required: []string{"session_id"},
		},
	}, t.SessionStatus)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_sessions",
		Description: "List a tenant's sessions, most recently active first, including finished sessions retained as history.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"chat_id": tenantProps["chat_id"],
				"user_id": tenantProps["user_id"],
				"limit": {
					Type:        "integer",
					Description: "Maximum rows to return. Defaults to 20.",
				},
			},
			Required: []string{"chat_id", "user_id"},
		},
	}, t.ListSessions)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_active_session",
		Description: "Return the tenant's most recently active running session, if any. Useful for resuming work without tracking session IDs.",
		InputSchema: &jsonschema.Schema{
			Type:       "object",
			Properties: tenantProps,
			Required:   []string{"chat_id", "user_id"},
		},
	}, t.GetActiveSession)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "search_session_log",
		Description: "Search a session's durable log for a case-insensitive substring and return matching lines with byte offsets and surrounding context. Pass a previous result's cursor_next as cursor to resume past matches already seen.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"session_id": sessionIDSchema,
				"query": {
					Type:        "string",
					Description: "Substring to search for, matched case-insensitively.",
				},
				"max_results": {
					Type:        "integer",
					Description: "Maximum matches to return, 1-20. Defaults to 5.",
				},
				"context_lines": {
					Type:        "integer",
					Description: "Lines of context around each match, 0-6. Defaults to 0.",
				},
				"cursor": {
					Type:        "integer",
					Description: "Minimum byte offset; matches before it are skipped.",
				},
			},
			Required: []string{"session_id", "query"},
		},
	}, t.SearchSessionLog)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "cleanup_sessions",
		Description: "Run an on-demand sweep that finalizes exited sessions and terminates sessions violating their wall-time, idle-time, or output-byte ceilings. The same sweep also runs periodically in the background.",
		InputSchema: &jsonschema.Schema{
			Type:       "object",
			Properties: map[string]*jsonschema.Schema{},
		},
	}, t.CleanupSessions)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "run_command",
		Description: "Execute a short command and wait for it to finish, with a hard timeout. Captures combined stdout/stderr with redaction applied. A timeout reports exit code 124 and a missing binary reports 127. Use start_session instead for anything long-running or interactive.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"command": {
					Type:        "string",
					Description: "Command line to run, parsed with shell-style word splitting.",
				},
				"workspace_root": {
					Type:        "string",
					Description: "Directory to run in. Defaults to the server's working directory.",
				},
				"timeout_sec": {
					Type:        "integer",
					Description: "Hard timeout in seconds, 1-300. Defaults to 30.",
				},
			},
			Required: []string{"command"},
		},
	}, t.RunCommand)
}
