// Package logindex maintains a session's append-only output log together
// with a lightweight chunk index, and provides offset-bounded substring
// search over the log.
package logindex

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DefaultStrideBytes is the spacing between chunk markers in the index.
const DefaultStrideBytes = 8 * 1024

const previewMaxChars = 180

// Chunk is one coarse marker over a byte range of the log file. Chunks are
// appended to a JSONL sidecar and may also be mirrored into the durable store.
type Chunk struct {
	SessionID   string `json:"session_id"`
	Seq         int64  `json:"seq"`
	CreatedAt   string `json:"created_at"`
	StartOffset int64  `json:"start_offset"`
	EndOffset   int64  `json:"end_offset"`
	Preview     string `json:"preview"`
}

// Match is a single search hit with its byte offset and surrounding context.
type Match struct {
	Offset  int64  `json:"offset"`
	Line    int    `json:"line"`
	Excerpt string `json:"excerpt"`
}

// Indexer appends text to a log file and emits chunk markers every stride.
// It is not safe for concurrent use; the registry serializes calls.
type Indexer struct {
	sessionID   string
	logPath     string
	chunksPath  string
	strideBytes int64

	offset      int64
	seq         int64
	lastChunkAt int64
}

// NewIndexer creates an indexer for one session's log and chunk files.
func NewIndexer(sessionID, logPath, chunksPath string, strideBytes int64) *Indexer {
	if strideBytes < 1024 {
		strideBytes = 1024
	}
	return &Indexer{
		sessionID:   sessionID,
		logPath:     logPath,
		chunksPath:  chunksPath,
		strideBytes: strideBytes,
	}
}

// Offset returns the current end-of-log byte offset.
func (ix *Indexer) Offset() int64 {
	return ix.offset
}

// LogPath returns the path of the log file.
func (ix *Indexer) LogPath() string {
	return ix.logPath
}

// Initialize creates the log and chunk files if absent and resumes the
// offset from the existing log size. The files exist after Initialize
// returns, even if the session's process never spawns.
func (ix *Indexer) Initialize() error {
	if err := os.MkdirAll(filepath.Dir(ix.logPath), 0o755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	for _, path := range []string{ix.logPath, ix.chunksPath} {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", path, err)
		}
		f.Close()
	}
	info, err := os.Stat(ix.logPath)
	if err != nil {
		return err
	}
	ix.offset = info.Size()
	ix.lastChunkAt = ix.offset
	return nil
}

// Append writes text to the log and returns the number of bytes written
// plus any chunk markers completed by this write.
func (ix *Indexer) Append(text string) (int64, []Chunk, error) {
	if text == "" {
		return 0, nil, nil
	}
	payload := []byte(text)

	f, err := os.OpenFile(ix.logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to open log: %w", err)
	}
	if _, err := f.Write(payload); err != nil {
		f.Close()
		return 0, nil, fmt.Errorf("failed to append to log: %w", err)
	}
	f.Close()

	ix.offset += int64(len(payload))

	var created []Chunk
	for ix.offset-ix.lastChunkAt >= ix.strideBytes {
		ix.seq++
		chunk := Chunk{
			SessionID:   ix.sessionID,
			Seq:         ix.seq,
			CreatedAt:   time.Now().UTC().Format(time.RFC3339Nano),
			StartOffset: ix.lastChunkAt,
			EndOffset:   min(ix.offset, ix.lastChunkAt+ix.strideBytes),
			Preview:     previewText(text),
		}
		if err := ix.appendChunkRecord(chunk); err != nil {
			return int64(len(payload)), created, err
		}
		created = append(created, chunk)
		ix.lastChunkAt = chunk.EndOffset
	}

	return int64(len(payload)), created, nil
}

func (ix *Indexer) appendChunkRecord(chunk Chunk) error {
	data, err := json.Marshal(chunk)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(ix.chunksPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open chunk index: %w", err)
	}
	defer f.Close()
	_, err = f.Write(append(data, '\n'))
	return err
}

// Search scans the log file for a case-insensitive substring and returns
// offset-addressable excerpts with surrounding lines. Matches at byte
// offsets below minOffset are skipped, so callers can resume a search from
// a previous result's offset the same way polling resumes from a cursor.
func Search(logPath, query string, maxResults, contextLines int, minOffset int64) ([]Match, error) {
	needle := strings.ToLower(strings.TrimSpace(query))
	if needle == "" {
		return nil, nil
	}

	raw, err := os.ReadFile(logPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	if len(raw) == 0 {
		return nil, nil
	}

	if maxResults < 1 {
		maxResults = 5
	} else if maxResults > 20 {
		maxResults = 20
	}
	if contextLines < 0 {
		contextLines = 0
	} else if contextLines > 6 {
		contextLines = 6
	}
	if minOffset < 0 {
		minOffset = 0
	}

	lines := strings.Split(string(raw), "\n")
	starts := make([]int64, len(lines))
	var off int64
	for i, line := range lines {
		starts[i] = off
		off += int64(len(line)) + 1
	}

	var found []Match
	for i, line := range lines {
		pos := strings.Index(strings.ToLower(line), needle)
		if pos < 0 {
			continue
		}
		offset := starts[i] + int64(pos)
		if offset < minOffset {
			continue
		}

		lo := max(0, i-contextLines)
		hi := min(len(lines), i+contextLines+1)
		found = append(found, Match{
			Offset:  offset,
			Line:    i + 1,
			Excerpt: strings.TrimSpace(strings.Join(lines[lo:hi], "\n")),
		})
		if len(found) >= maxResults {
			break
		}
	}

	return found, nil
}

func previewText(text string) string {
	oneLine := strings.Join(strings.Fields(text), " ")
	if len(oneLine) > previewMaxChars {
		return oneLine[:previewMaxChars]
	}
	return oneLine
}
