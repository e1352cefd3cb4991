package proc

import (
	"errors"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
)

// OutputFunc receives raw output chunks in the order a reader observed them.
// It is invoked from reader goroutines.
type OutputFunc func(data []byte)

const (
	readChunkBytes   = 4096
	readPollInterval = 200 * time.Millisecond
	drainInterval    = 50 * time.Millisecond
	closeJoinWait    = 100 * time.Millisecond
)

// SpawnedProcess wraps one OS process together with its reader goroutines
// and a synchronized stdin writer. PTY mode carries a single combined
// stream; pipe mode carries separate stdout and stderr streams with no
// cross-stream ordering guarantee.
type SpawnedProcess struct {
	cmd        *exec.Cmd
	ptyEnabled bool
	onOutput   OutputFunc

	ptyFile *os.File // pty mode: combined output stream and stdin
	stdin   *os.File // pipe mode
	stdout  *os.File
	stderr  *os.File

	stdinMu  sync.Mutex
	stop     chan struct{}
	stopOnce sync.Once

	readerDone []chan struct{}

	waitDone chan struct{}
	exitCode int // valid only after waitDone is closed
}

// Spawn starts argv in cwd and streams its output to onOutput. When
// ptyEnabled, a pseudo-terminal spawn is attempted first and any failure
// falls back to a pipe-backed spawn: PTY allocation is a best-effort
// enhancement, not a requirement. In both modes the child runs in its own
// process group so signals reach descendants.
func Spawn(argv []string, cwd string, ptyEnabled bool, onOutput OutputFunc) (*SpawnedProcess, error) {
	if ptyEnabled {
		if p, err := spawnPTY(argv, cwd, onOutput); err == nil {
			return p, nil
		}
	}
	return spawnPipes(argv, cwd, onOutput)
}

func spawnPTY(argv []string, cwd string, onOutput OutputFunc) (*SpawnedProcess, error) {
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = cwd

	// pty.Start places the child in a new session, which also gives it a
	// fresh process group for group signaling.
	ptmx, err := pty.Start(cmd)
	if err != nil {
		return nil, err
	}

	p := &SpawnedProcess{
		cmd:        cmd,
		ptyEnabled: true,
		onOutput:   onOutput,
		ptyFile:    ptmx,
		stop:       make(chan struct{}),
		waitDone:   make(chan struct{}),
	}
	p.startWait()
	p.startReader(ptmx)
	return p, nil
}

func spawnPipes(argv []string, cwd string, onOutput OutputFunc) (*SpawnedProcess, error) {
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = cwd
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdinR, stdinW, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		stdinR.Close()
		stdinW.Close()
		return nil, err
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		stdinR.Close()
		stdinW.Close()
		stdoutR.Close()
		stdoutW.Close()
		return nil, err
	}

	cmd.Stdin = stdinR
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	if err := cmd.Start(); err != nil {
		stdinR.Close()
		stdinW.Close()
		stdoutR.Close()
		stdoutW.Close()
		stderrR.Close()
		stderrW.Close()
		return nil, err
	}

	// The child owns its ends now.
	stdinR.Close()
	stdoutW.Close()
	stderrW.Close()

	p := &SpawnedProcess{
		cmd:      cmd,
		onOutput: onOutput,
		stdin:    stdinW,
		stdout:   stdoutR,
		stderr:   stderrR,
		stop:     make(chan struct{}),
		waitDone: make(chan struct{}),
	}
	p.startWait()
	p.startReader(stdoutR)
	p.startReader(stderrR)
	return p, nil
}

// PtyEnabled reports whether the process runs behind a pseudo-terminal.
func (p *SpawnedProcess) PtyEnabled() bool {
	return p.ptyEnabled
}

// Pid returns the OS process id.
func (p *SpawnedProcess) Pid() int {
	return p.cmd.Process.Pid
}

// Poll returns the exit code if the process has exited, or nil while it is
// still running. Exit is discovered, never pushed.
func (p *SpawnedProcess) Poll() *int {
	select {
	case <-p.waitDone:
		code := p.exitCode
		return &code
	default:
		return nil
	}
}

// Wait blocks until the process exits or the timeout elapses. A timeout of
// zero or less waits indefinitely.
func (p *SpawnedProcess) Wait(timeout time.Duration) (int, error) {
	if timeout <= 0 {
		<-p.waitDone
		return p.exitCode, nil
	}
	select {
	case <-p.waitDone:
		return p.exitCode, nil
	case <-time.After(timeout):
		return 0, errors.New("timeout waiting for process exit")
	}
}

// WriteStdin writes text to the process's stdin. Writes are serialized by a
// dedicated lock so concurrent callers cannot interleave payloads.
func (p *SpawnedProcess) WriteStdin(text string) error {
	if text == "" {
		return nil
	}
	p.stdinMu.Lock()
	defer p.stdinMu.Unlock()

	if p.ptyEnabled {
		if p.ptyFile == nil {
			return nil
		}
		_, err := p.ptyFile.WriteString(text)
		return err
	}
	if p.stdin == nil {
		return nil
	}
	_, err := p.stdin.WriteString(text)
	return err
}

// Interrupt sends SIGINT to the process group.
func (p *SpawnedProcess) Interrupt() {
	p.signalGroup(syscall.SIGINT)
}

// Terminate sends SIGTERM to the process group.
func (p *SpawnedProcess) Terminate() {
	p.signalGroup(syscall.SIGTERM)
}

// Kill sends SIGKILL to the process group.
func (p *SpawnedProcess) Kill() {
	p.signalGroup(syscall.SIGKILL)
}

// Close signals readers to stop, closes the process's file handles, and
// waits briefly for reader goroutines to finish. Waits are bounded so Close
// is safe to call from inside an output callback running on a reader
// goroutine.
func (p *SpawnedProcess) Close() {
	p.stopOnce.Do(func() {
		close(p.stop)
	})

	if p.ptyFile != nil {
		p.ptyFile.Close()
	}
	if p.stdin != nil {
		p.stdin.Close()
	}
	if p.stdout != nil {
		p.stdout.Close()
	}
	if p.stderr != nil {
		p.stderr.Close()
	}

	for _, done := range p.readerDone {
		select {
		case <-done:
		case <-time.After(closeJoinWait):
		}
	}
}

func (p *SpawnedProcess) startWait() {
	go func() {
		err := p.cmd.Wait()
		code := 0
		if err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				code = exitErr.ExitCode()
			} else {
				code = -1
			}
		} else if p.cmd.ProcessState != nil {
			code = p.cmd.ProcessState.ExitCode()
		}
		p.exitCode = code
		close(p.waitDone)
	}()
}

func (p *SpawnedProcess) startReader(f *os.File) {
	done := make(chan struct{})
	p.readerDone = append(p.readerDone, done)
	go p.readStream(f, done)
}

// readStream polls one output stream with short read deadlines so it can
// observe the stop flag, forwarding each chunk to the output callback. On
// process exit it performs one final drain read before declaring
// end-of-stream, so a last chunk racing with exit is not lost.
func (p *SpawnedProcess) readStream(f *os.File, done chan struct{}) {
	defer close(done)

	buf := make([]byte, readChunkBytes)
	for {
		select {
		case <-p.stop:
			return
		default:
		}

		f.SetReadDeadline(time.Now().Add(readPollInterval))
		n, err := f.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			p.onOutput(chunk)
		}
		if err == nil {
			continue
		}
		if errors.Is(err, os.ErrDeadlineExceeded) {
			if p.Poll() == nil {
				continue
			}
			f.SetReadDeadline(time.Now().Add(drainInterval))
			n, _ := f.Read(buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				p.onOutput(chunk)
				continue
			}
			return
		}
		// EOF, EIO from a closed pty, or a closed descriptor: the stream
		// is finished.
		return
	}
}

func (p *SpawnedProcess) signalGroup(sig syscall.Signal) {
	pid := p.cmd.Process.Pid
	if err := syscall.Kill(-pid, sig); err != nil {
		// Group signaling can fail if the group is already gone; fall back
		// to the direct child.
		p.cmd.Process.Signal(sig)
	}
}
