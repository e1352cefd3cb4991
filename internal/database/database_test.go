package database

import (
	"testing"
	"time"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(t.TempDir())
	if err != nil {
		t.Fatalf("NewDB failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func testRecord(id string) *SessionRecord {
	now := time.Now()
	return &SessionRecord{
		ID:              id,
		ChatID:          100,
		UserID:          200,
		Argv:            []string{"sleep", "60"},
		WorkspaceRoot:   "/tmp/ws",
		PtyEnabled:      true,
		Status:          "running",
		CreatedAt:       now,
		StartedAt:       now,
		LastActivityAt:  now,
		MaxWallSec:      21600,
		IdleTimeoutSec:  1200,
		MaxOutputBytes:  5 * 1024 * 1024,
		RingBufferBytes: 64 * 1024,
		LogPath:         "/tmp/ws/runs/" + id + ".log",
		IndexPath:       "/tmp/ws/runs/" + id + ".chunks.jsonl",
	}
}

func TestCreateAndGetSession(t *testing.T) {
	db := newTestDB(t)

	rec := testRecord("proc-aaaa")
	if err := db.CreateSession(rec); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	got, err := db.GetSession("proc-aaaa")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected a session row")
	}
	if got.ID != rec.ID || got.ChatID != rec.ChatID || got.UserID != rec.UserID {
		t.Errorf("identity fields mismatch: %+v", got)
	}
	if len(got.Argv) != 2 || got.Argv[0] != "sleep" || got.Argv[1] != "60" {
		t.Errorf("argv round trip failed: %v", got.Argv)
	}
	if !got.PtyEnabled {
		t.Error("pty_enabled not persisted")
	}
	if got.Status != "running" {
		t.Errorf("expected running, got %s", got.Status)
	}
	if got.ExitCode != nil {
		t.Errorf("expected nil exit code, got %d", *got.ExitCode)
	}
}

func TestGetSessionNotFound(t *testing.T) {
	db := newTestDB(t)

	got, err := db.GetSession("proc-missing")
	if err != nil {
		t.Fatalf("expected nil error for missing row, got %v", err)
	}
	if got != nil {
		t.Errorf("expected nil row, got %+v", got)
	}
}

func TestUpdateSession(t *testing.T) {
	db := newTestDB(t)

	rec := testRecord("proc-bbbb")
	if err := db.CreateSession(rec); err != nil {
		t.Fatal(err)
	}

	exit := 0
	completed := time.Now()
	rec.Status = "completed"
	rec.ExitCode = &exit
	rec.CompletedAt = &completed
	rec.OutputBytes = 1234
	rec.RedactionReplacements = 2
	rec.Error = ""
	if err := db.UpdateSession(rec); err != nil {
		t.Fatalf("UpdateSession failed: %v", err)
	}

	got, err := db.GetSession("proc-bbbb")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != "completed" {
		t.Errorf("expected completed, got %s", got.Status)
	}
	if got.ExitCode == nil || *got.ExitCode != 0 {
		t.Errorf("exit code not persisted: %v", got.ExitCode)
	}
	if got.CompletedAt == nil {
		t.Error("completed_at not persisted")
	}
	if got.OutputBytes != 1234 {
		t.Errorf("expected output_bytes 1234, got %d", got.OutputBytes)
	}
	if got.RedactionReplacements != 2 {
		t.Errorf("expected 2 redaction replacements, got %d", got.RedactionReplacements)
	}
}

func TestSetLastCursor(t *testing.T) {
	db := newTestDB(t)

	rec := testRecord("proc-cccc")
	if err := db.CreateSession(rec); err != nil {
		t.Fatal(err)
	}
	if err := db.SetLastCursor("proc-cccc", 4096); err != nil {
		t.Fatalf("SetLastCursor failed: %v", err)
	}

	got, _ := db.GetSession("proc-cccc")
	if got.LastCursor != 4096 {
		t.Errorf("expected last_cursor 4096, got %d", got.LastCursor)
	}
}

func TestListSessionsOrderAndScope(t *testing.T) {
	db := newTestDB(t)

	older := testRecord("proc-old")
	older.LastActivityAt = time.Now().Add(-time.Hour)
	newer := testRecord("proc-new")
	other := testRecord("proc-other")
	other.ChatID = 999

	for _, rec := range []*SessionRecord{older, newer, other} {
		if err := db.CreateSession(rec); err != nil {
			t.Fatal(err)
		}
	}

	rows, err := db.ListSessions(100, 200, 10)
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows for tenant, got %d", len(rows))
	}
	if rows[0].ID != "proc-new" || rows[1].ID != "proc-old" {
		t.Errorf("rows not ordered by last activity: %s, %s", rows[0].ID, rows[1].ID)
	}

	limited, err := db.ListSessions(100, 200, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 1 {
		t.Errorf("expected limit to cap rows, got %d", len(limited))
	}
}

func TestCountRunningSessions(t *testing.T) {
	db := newTestDB(t)

	running := testRecord("proc-r1")
	running2 := testRecord("proc-r2")
	done := testRecord("proc-d1")
	done.Status = "completed"
	otherTenant := testRecord("proc-r3")
	otherTenant.UserID = 777

	for _, rec := range []*SessionRecord{running, running2, done, otherTenant} {
		if err := db.CreateSession(rec); err != nil {
			t.Fatal(err)
		}
	}

	count, err := db.CountRunningSessions(100, 200)
	if err != nil {
		t.Fatalf("CountRunningSessions failed: %v", err)
	}
	if count != 2 {
		t.Errorf("expected 2 running sessions, got %d", count)
	}
}

func TestMarkOrphanedSessions(t *testing.T) {
	db := newTestDB(t)

	running := testRecord("proc-orphan")
	done := testRecord("proc-done")
	done.Status = "completed"
	for _, rec := range []*SessionRecord{running, done} {
		if err := db.CreateSession(rec); err != nil {
			t.Fatal(err)
		}
	}

	n, err := db.MarkOrphanedSessions()
	if err != nil {
		t.Fatalf("MarkOrphanedSessions failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 orphaned session, got %d", n)
	}

	got, _ := db.GetSession("proc-orphan")
	if got.Status != "failed" {
		t.Errorf("expected failed status, got %s", got.Status)
	}
	if got.Error == "" {
		t.Error("expected orphan error text")
	}

	unchanged, _ := db.GetSession("proc-done")
	if unchanged.Status != "completed" {
		t.Errorf("completed session was touched: %s", unchanged.Status)
	}
}

func TestChunkRows(t *testing.T) {
	db := newTestDB(t)

	rec := testRecord("proc-chunks")
	if err := db.CreateSession(rec); err != nil {
		t.Fatal(err)
	}

	for seq := int64(1); seq <= 3; seq++ {
		chunk := &ChunkRecord{
			SessionID:   "proc-chunks",
			Seq:         seq,
			CreatedAt:   time.Now().UTC().Format(time.RFC3339Nano),
			StartOffset: (seq - 1) * 8192,
			EndOffset:   seq * 8192,
			Preview:     "preview text",
		}
		if err := db.AppendChunk(chunk); err != nil {
			t.Fatalf("AppendChunk failed: %v", err)
		}
	}

	chunks, err := db.ListChunks("proc-chunks", 10)
	if err != nil {
		t.Fatalf("ListChunks failed: %v", err)
	}
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	if chunks[0].Seq != 1 || chunks[2].Seq != 3 {
		t.Errorf("chunks not ordered by seq: %d, %d", chunks[0].Seq, chunks[2].Seq)
	}
	if chunks[1].StartOffset != 8192 || chunks[1].EndOffset != 16384 {
		t.Errorf("chunk offsets wrong: %d-%d", chunks[1].StartOffset, chunks[1].EndOffset)
	}
}

func TestHealthCheck(t *testing.T) {
	db := newTestDB(t)
	if err := db.HealthCheck(); err != nil {
		t.Errorf("HealthCheck failed: %v", err)
	}
}
