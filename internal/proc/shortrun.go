package proc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/anmitsu/go-shlex"
	sesserr "github.com/procmux/procmux/internal/errors"
	"github.com/procmux/procmux/internal/redact"
)

const (
	defaultShortTimeoutSec = 30
	maxShortTimeoutSec     = 300

	// Conventional shell exit codes for timeout and command-not-found.
	exitTimeout  = 124
	exitNotFound = 127
)

// RunShortCommand executes a one-shot command with a hard timeout and no
// session bookkeeping. Stdout and stderr are captured separately and folded
// into one redacted output string. A timeout reports exit 124 and a missing
// binary reports exit 127, without returning an error: the outcome is in
// the result.
func RunShortCommand(cmd, workspaceRoot string, timeoutSec int) (*ShortResult, error) {
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

	cwd := workspaceRoot
	if strings.TrimSpace(cwd) != "" {
		abs, err := filepath.Abs(cwd)
		if err != nil {
			return nil, sesserr.FileSystemError(err, cwd)
		}
		if info, err := os.Stat(abs); err != nil || !info.IsDir() {
			return nil, sesserr.New(sesserr.ErrCodeWorkspaceUnusable,
				"workspace root is not a directory: "+abs)
		}
		cwd = abs
	}

	if timeoutSec <= 0 {
		timeoutSec = defaultShortTimeoutSec
	}
	if timeoutSec > maxShortTimeoutSec {
		timeoutSec = maxShortTimeoutSec
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeoutSec)*time.Second)
	defer cancel()

	c := exec.CommandContext(ctx, argv[0], argv[1:]...)
	c.Dir = cwd
	c.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	c.Cancel = func() error {
		// On timeout, kill the whole group so pipelines do not outlive us.
		if c.Process == nil {
			return nil
		}
		syscall.Kill(-c.Process.Pid, syscall.SIGKILL)
		return c.Process.Kill()
	}

	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	runErr := c.Run()

	output := stdout.String()
	if stderr.Len() > 0 {
		output += "\nstderr:\n" + stderr.String()
	}
	res := redact.Redact(strings.ToValidUTF8(output, "�"))

	result := &ShortResult{
		Output:                res.Text,
		RedactionReplacements: res.Replacements,
	}

	switch {
	case runErr == nil:
		result.OK = true
		result.ReturnCode = 0
	case ctx.Err() == context.DeadlineExceeded:
		result.ReturnCode = exitTimeout
		result.Output = appendNote(result.Output, fmt.Sprintf("timed out after %ds", timeoutSec))
	case errors.Is(runErr, exec.ErrNotFound) || errors.Is(runErr, os.ErrNotExist):
		result.ReturnCode = exitNotFound
		result.Output = appendNote(result.Output, "command not found: "+argv[0])
	default:
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			result.ReturnCode = exitErr.ExitCode()
		} else {
			result.ReturnCode = -1
			result.Output = appendNote(result.Output, runErr.Error())
		}
	}

	return result, nil
}

func appendNote(output, note string) string {
	if output == "" {
		return note
	}
	return output + "\n" + note
}
