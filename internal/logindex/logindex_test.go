package logindex

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestIndexer(t *testing.T, stride int64) *Indexer {
	t.Helper()
	dir := t.TempDir()
	ix := NewIndexer("proc-test", filepath.Join(dir, "s.log"), filepath.Join(dir, "s.chunks.jsonl"), stride)
	if err := ix.Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	return ix
}

func TestInitializeCreatesFiles(t *testing.T) {
	ix := newTestIndexer(t, 1024)

	if _, err := os.Stat(ix.LogPath()); err != nil {
		t.Errorf("log file not created: %v", err)
	}
	if ix.Offset() != 0 {
		t.Errorf("expected offset 0, got %d", ix.Offset())
	}
}

func TestInitializeResumesOffset(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "s.log")
	chunksPath := filepath.Join(dir, "s.chunks.jsonl")
	if err := os.WriteFile(logPath, []byte("previous output\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	ix := NewIndexer("proc-test", logPath, chunksPath, 1024)
	if err := ix.Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	if ix.Offset() != 16 {
		t.Errorf("expected resumed offset 16, got %d", ix.Offset())
	}
}

func TestAppendTracksOffset(t *testing.T) {
	ix := newTestIndexer(t, 1024)

	n, chunks, err := ix.Append("hello\n")
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if n != 6 {
		t.Errorf("expected 6 bytes written, got %d", n)
	}
	if len(chunks) != 0 {
		t.Errorf("expected no chunks below stride, got %d", len(chunks))
	}
	if ix.Offset() != 6 {
		t.Errorf("expected offset 6, got %d", ix.Offset())
	}

	data, err := os.ReadFile(ix.LogPath())
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "hello\n" {
		t.Errorf("log content mismatch: %q", data)
	}
}

func TestAppendEmitsChunksAtStride(t *testing.T) {
	ix := newTestIndexer(t, 1024)

	payload := strings.Repeat("x", 2500)
	_, chunks, err := ix.Append(payload)
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks for 2500 bytes at stride 1024, got %d", len(chunks))
	}
	if chunks[0].StartOffset != 0 || chunks[0].EndOffset != 1024 {
		t.Errorf("first chunk range wrong: %d-%d", chunks[0].StartOffset, chunks[0].EndOffset)
	}
	if chunks[1].StartOffset != 1024 || chunks[1].EndOffset != 2048 {
		t.Errorf("second chunk range wrong: %d-%d", chunks[1].StartOffset, chunks[1].EndOffset)
	}
	if chunks[0].Seq != 1 || chunks[1].Seq != 2 {
		t.Errorf("chunk seq wrong: %d, %d", chunks[0].Seq, chunks[1].Seq)
	}

	// Chunk records land in the JSONL sidecar, one per line.
	data, err := os.ReadFile(filepath.Join(filepath.Dir(ix.LogPath()), "s.chunks.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Errorf("expected 2 chunk records, got %d", len(lines))
	}
}

func TestPreviewCollapsesWhitespace(t *testing.T) {
	ix := newTestIndexer(t, 1024)

	payload := "line one\nline  two\t\tthree" + strings.Repeat(" pad", 400)
	_, chunks, err := ix.Append(payload)
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if len(chunks) == 0 {
		t.Fatal("expected at least one chunk")
	}
	preview := chunks[0].Preview
	if strings.ContainsAny(preview, "\n\t") {
		t.Errorf("preview contains raw whitespace: %q", preview)
	}
	if len(preview) > 180 {
		t.Errorf("preview exceeds 180 chars: %d", len(preview))
	}
	if !strings.HasPrefix(preview, "line one line two three") {
		t.Errorf("preview not collapsed: %q", preview)
	}
}

func TestSearchBasics(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "s.log")
	content := "alpha start\nerror: file missing\nbeta\nERROR: again\ngamma end\n"
	if err := os.WriteFile(logPath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Run("case insensitive match", func(t *testing.T) {
		matches, err := Search(logPath, "ERROR", 10, 0, 0)
		if err != nil {
			t.Fatalf("Search failed: %v", err)
		}
		if len(matches) != 2 {
			t.Fatalf("expected 2 matches, got %d", len(matches))
		}
		if matches[0].Line != 2 || matches[1].Line != 4 {
			t.Errorf("match lines wrong: %d, %d", matches[0].Line, matches[1].Line)
		}
	})

	t.Run("offsets are byte accurate", func(t *testing.T) {
		matches, err := Search(logPath, "error", 10, 0, 0)
		if err != nil {
			t.Fatal(err)
		}
		wantFirst := int64(len("alpha start\n"))
		if matches[0].Offset != wantFirst {
			t.Errorf("expected first offset %d, got %d", wantFirst, matches[0].Offset)
		}
	})

	t.Run("min offset resumes past earlier matches", func(t *testing.T) {
		all, err := Search(logPath, "error", 10, 0, 0)
		if err != nil {
			t.Fatal(err)
		}
		resumed, err := Search(logPath, "error", 10, 0, all[0].Offset+1)
		if err != nil {
			t.Fatal(err)
		}
		if len(resumed) != 1 {
			t.Fatalf("expected 1 resumed match, got %d", len(resumed))
		}
		if resumed[0].Offset != all[1].Offset {
			t.Errorf("resumed at wrong offset: %d", resumed[0].Offset)
		}
	})

	t.Run("context lines included", func(t *testing.T) {
		matches, err := Search(logPath, "beta", 10, 1, 0)
		if err != nil {
			t.Fatal(err)
		}
		if len(matches) != 1 {
			t.Fatalf("expected 1 match, got %d", len(matches))
		}
		excerpt := matches[0].Excerpt
		if !strings.Contains(excerpt, "error: file missing") || !strings.Contains(excerpt, "ERROR: again") {
			t.Errorf("context lines missing from excerpt: %q", excerpt)
		}
	})

	t.Run("max results clamps", func(t *testing.T) {
		matches, err := Search(logPath, "a", 1, 0, 0)
		if err != nil {
			t.Fatal(err)
		}
		if len(matches) != 1 {
			t.Errorf("expected 1 match with maxResults 1, got %d", len(matches))
		}
	})
}

func TestSearchMissingFile(t *testing.T) {
	matches, err := Search(filepath.Join(t.TempDir(), "absent.log"), "anything", 5, 0, 0)
	if err != nil {
		t.Fatalf("expected nil error for missing log, got %v", err)
	}
	if matches != nil {
		t.Errorf("expected no matches, got %v", matches)
	}
}

func TestSearchEmptyQuery(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "s.log")
	os.WriteFile(logPath, []byte("content\n"), 0o644)

	matches, err := Search(logPath, "   ", 5, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if matches != nil {
		t.Errorf("expected no matches for blank query, got %v", matches)
	}
}
