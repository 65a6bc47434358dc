// ABOUTME: Writes one JSON file per completed reply and prunes the oldest files
// ABOUTME: File names sort chronologically so retention keeps the newest max_files

package convlog

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Record is the content of one conversation log file.
type Record struct {
	Time         time.Time `json:"time"`
	SessionID    string    `json:"session_id"`
	OpenID       string    `json:"open_id"`
	MessageID    string    `json:"message_id,omitempty"`
	ReplyID      string    `json:"reply_id,omitempty"`
	Provider     string    `json:"provider"`
	Query        string    `json:"query"`
	Reply        string    `json:"reply"`
	Reasoning    string    `json:"reasoning,omitempty"`
	HistoryTurns int       `json:"history_turns"`
	State        string    `json:"state"`
	Error        string    `json:"error,omitempty"`
	Stats        any       `json:"stats,omitempty"`
}

const timestampLayout = "20060102_150405.000"

// maxNameAttempts bounds the numbered variants tried when a name is taken.
const maxNameAttempts = 100

// Writer stores records under dir, keeping at most maxFiles (0 keeps all).
type Writer struct {
	dir      string
	maxFiles int
	logger   *slog.Logger
	now      func() time.Time

	mu sync.Mutex
}

// NewWriter creates dir if needed and returns a writer for it.
func NewWriter(dir string, maxFiles int, logger *slog.Logger) (*Writer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating conversation log dir: %w", err)
	}
	logger = logger.With("component", "convlog")
	logger.Info("conversation log enabled", "dir", dir, "max_files", maxFiles)

	return &Writer{dir: dir, maxFiles: maxFiles, logger: logger, now: time.Now}, nil
}

// FileName returns the file name used for a record written at t.
func FileName(t time.Time, openID string) string {
	ts := strings.Replace(t.Format(timestampLayout), ".", "_", 1)
	suffix := openID
	if len(suffix) > 6 {
		suffix = suffix[len(suffix)-6:]
	}
	if suffix == "" {
		suffix = "unknown"
	}
	return ts + "_" + suffix + ".json"
}

// Save writes rec and prunes old files.
func (w *Writer) Save(rec *Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if rec.Time.IsZero() {
		rec.Time = w.now()
	}
	name := FileName(rec.Time, rec.OpenID)

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding conversation log: %w", err)
	}
	f, path, err := w.create(name)
	if err != nil {
		return fmt.Errorf("creating conversation log %s: %w", name, err)
	}
	_, err = f.Write(data)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("writing conversation log %s: %w", path, err)
	}
	w.logger.Debug("conversation log saved", "file", path)

	w.prune()
	return nil
}

// create opens name exclusively. When it already exists, numbered variants
// (name_2.json, name_3.json, ...) are tried so an earlier record is never
// overwritten. The variants sort after the original.
func (w *Writer) create(name string) (*os.File, string, error) {
	base := strings.TrimSuffix(name, ".json")
	for i := 1; i <= maxNameAttempts; i++ {
		candidate := name
		if i > 1 {
			candidate = fmt.Sprintf("%s_%d.json", base, i)
		}
		path := filepath.Join(w.dir, candidate)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return f, path, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, "", err
		}
	}
	return nil, "", fmt.Errorf("no free file name after %d attempts", maxNameAttempts)
}

// Must be called with mu held.
func (w *Writer) prune() {
	if w.maxFiles <= 0 {
		return
	}

	entries, err := os.ReadDir(w.dir)
	if err != nil {
		w.logger.Warn("listing conversation logs failed", "error", err)
		return
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			names = append(names, e.Name())
		}
	}
	if len(names) <= w.maxFiles {
		return
	}

	sort.Strings(names)
	for _, name := range names[:len(names)-w.maxFiles] {
		if err := os.Remove(filepath.Join(w.dir, name)); err != nil && !os.IsNotExist(err) {
			w.logger.Warn("removing old conversation log failed", "file", name, "error", err)
			continue
		}
		w.logger.Debug("old conversation log removed", "file", name)
	}
}
