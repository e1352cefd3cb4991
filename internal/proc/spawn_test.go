package proc

import (
	"strings"
	"sync"
	"testing"
	"time"
)

// outputSink collects callback chunks thread-safely.
type outputSink struct {
	mu  sync.Mutex
	buf strings.Builder
}

func (s *outputSink) write(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf.Write(data)
}

func (s *outputSink) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

func (s *outputSink) waitFor(t *testing.T, substr string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if strings.Contains(s.String(), substr) {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("output %q never contained %q", s.String(), substr)
}

func TestSpawnPipesEcho(t *testing.T) {
	sink := &outputSink{}
	p, err := Spawn([]string{"echo", "hello"}, t.TempDir(), false, sink.write)
	if err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}
	defer p.Close()

	if p.PtyEnabled() {
		t.Error("expected pipe mode")
	}

	code, err := p.Wait(5 * time.Second)
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if code != 0 {
		t.Errorf("expected exit 0, got %d", code)
	}

	sink.waitFor(t, "hello", 2*time.Second)
}

func TestSpawnPTYEcho(t *testing.T) {
	sink := &outputSink{}
	p, err := Spawn([]string{"echo", "hello"}, t.TempDir(), true, sink.write)
	if err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}
	defer p.Close()

	if _, err := p.Wait(5 * time.Second); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	sink.waitFor(t, "hello", 2*time.Second)
}

func TestSpawnNotFound(t *testing.T) {
	_, err := Spawn([]string{"definitely-not-a-binary-xyz"}, t.TempDir(), false, func([]byte) {})
	if err == nil {
		t.Fatal("expected spawn error for missing binary")
	}
}

func TestPollBeforeAndAfterExit(t *testing.T) {
	sink := &outputSink{}
	p, err := Spawn([]string{"sleep", "0.2"}, t.TempDir(), false, sink.write)
	if err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}
	defer p.Close()

	if code := p.Poll(); code != nil {
		t.Errorf("expected nil exit while running, got %d", *code)
	}

	if _, err := p.Wait(5 * time.Second); err != nil {
		t.Fatal(err)
	}
	code := p.Poll()
	if code == nil {
		t.Fatal("expected exit code after exit")
	}
	if *code != 0 {
		t.Errorf("expected exit 0, got %d", *code)
	}
}

func TestNonZeroExit(t *testing.T) {
	p, err := Spawn([]string{"sh", "-c", "exit 3"}, t.TempDir(), false, func([]byte) {})
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	code, err := p.Wait(5 * time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if code != 3 {
		t.Errorf("expected exit 3, got %d", code)
	}
}

func TestWriteStdinPipeMode(t *testing.T) {
	sink := &outputSink{}
	p, err := Spawn([]string{"cat"}, t.TempDir(), false, sink.write)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	if err := p.WriteStdin("ping\n"); err != nil {
		t.Fatalf("WriteStdin failed: %v", err)
	}
	sink.waitFor(t, "ping", 2*time.Second)

	p.Kill()
	if _, err := p.Wait(5 * time.Second); err != nil {
		t.Fatal(err)
	}
}

func TestWriteStdinPTYMode(t *testing.T) {
	sink := &outputSink{}
	p, err := Spawn([]string{"cat"}, t.TempDir(), true, sink.write)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	if err := p.WriteStdin("ping\n"); err != nil {
		t.Fatalf("WriteStdin failed: %v", err)
	}
	sink.waitFor(t, "ping", 2*time.Second)

	p.Kill()
	p.Wait(5 * time.Second)
}

func TestInterruptStopsProcess(t *testing.T) {
	p, err := Spawn([]string{"sleep", "30"}, t.TempDir(), false, func([]byte) {})
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	p.Interrupt()
	if _, err := p.Wait(5 * time.Second); err != nil {
		t.Fatalf("process did not exit after interrupt: %v", err)
	}
}

func TestKillReachesProcessGroup(t *testing.T) {
	// The shell spawns sleep as a child; the group signal must take down both.
	p, err := Spawn([]string{"sh", "-c", "sleep 30"}, t.TempDir(), false, func([]byte) {})
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	p.Kill()
	if _, err := p.Wait(5 * time.Second); err != nil {
		t.Fatalf("process group did not exit after kill: %v", err)
	}
}

func TestCloseFromOutputCallback(t *testing.T) {
	// Closing from inside the callback must not deadlock on the reader join.
	var p *SpawnedProcess
	var once sync.Once
	ready := make(chan struct{})
	done := make(chan struct{})

	proc, err := Spawn([]string{"echo", "trigger"}, t.TempDir(), false, func(data []byte) {
		once.Do(func() {
			<-ready
			p.Kill()
			p.Close()
			close(done)
		})
	})
	if err != nil {
		t.Fatal(err)
	}
	p = proc
	close(ready)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Close from output callback deadlocked")
	}
}

func TestSeparateStderrStream(t *testing.T) {
	sink := &outputSink{}
	p, err := Spawn([]string{"sh", "-c", "echo out; echo err >&2"}, t.TempDir(), false, sink.write)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	p.Wait(5 * time.Second)
	sink.waitFor(t, "out", 2*time.Second)
	sink.waitFor(t, "err", 2*time.Second)
}
