package trace

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// header is the first JSONL line: run metadata without the rounds.
type header struct {
	ID        string `json:"id"`
	Seed      int64  `json:"seed"`
	Status    string `json:"status"`
	StartedAt string `json:"started_at"`
}

// JSONLWriter streams a run to a JSONL file: one metadata line, then one
// line per round as rounds complete. Safe for concurrent use. A nil
// JSONLWriter is safe; all methods are no-ops on nil receiver.
type JSONLWriter struct {
	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
}

// NewJSONLWriter creates the file (truncating an existing one, creating
// parent directories as needed) and writes the metadata line.
func NewJSONLWriter(path string, run Run) (*JSONLWriter, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("creating trace directory: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("creating trace file: %w", err)
	}
	w := &JSONLWriter{file: f, enc: json.NewEncoder(f)}
	h := header{ID: run.ID, Seed: run.Seed, Status: run.Status, StartedAt: run.StartedAt.Format("2006-01-02T15:04:05.000Z07:00")}
	if err := w.enc.Encode(h); err != nil {
		f.Close()
		return nil, fmt.Errorf("writing trace header: %w", err)
	}
	return w, nil
}

// WriteRound appends one round snapshot line. Safe on nil receiver.
func (w *JSONLWriter) WriteRound(s RoundSnapshot) error {
	if w == nil || w.file == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.enc.Encode(s)
}

// Close closes the file. Safe on nil receiver and safe to call twice.
func (w *JSONLWriter) Close() error {
	if w == nil || w.file == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	err := w.file.Close()
	w.file = nil
	return err
}

// WriteJSONL writes a complete run to w in the same layout the streaming
// writer produces.
func WriteJSONL(w io.Writer, run Run) error {
	enc := json.NewEncoder(w)
	h := header{ID: run.ID, Seed: run.Seed, Status: run.Status, StartedAt: run.StartedAt.Format("2006-01-02T15:04:05.000Z07:00")}
	if err := enc.Encode(h); err != nil {
		return err
	}
	for _, s := range run.Rounds {
		if err := enc.Encode(s); err != nil {
			return err
		}
	}
	return nil
}

// ReadJSONL parses a trace file written by JSONLWriter or WriteJSONL.
func ReadJSONL(r io.Reader) (Run, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 1<<20), 64<<20)

	var run Run
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return run, err
		}
		return run, fmt.Errorf("empty trace file")
	}
	var h header
	if err := json.Unmarshal(sc.Bytes(), &h); err != nil {
		return run, fmt.Errorf("parsing trace header: %w", err)
	}
	run.ID = h.ID
	run.Seed = h.Seed
	run.Status = h.Status

	line := 1
	for sc.Scan() {
		line++
		if len(sc.Bytes()) == 0 {
			continue
		}
		var s RoundSnapshot
		if err := json.Unmarshal(sc.Bytes(), &s); err != nil {
			return run, fmt.Errorf("parsing trace line %d: %w", line, err)
		}
		run.Rounds = append(run.Rounds, s)
	}
	return run, sc.Err()
}

// ReadFile reads a trace file from disk.
func ReadFile(path string) (Run, error) {
	f, err := os.Open(path)
	if err != nil {
		return Run{}, err
	}
	defer f.Close()
	return ReadJSONL(f)
}
