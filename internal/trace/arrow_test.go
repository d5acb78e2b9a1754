package trace

import (
	"bytes"
	"testing"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/ipc"
	"github.com/apache/arrow/go/v17/arrow/memory"
)

func readStream(t *testing.T, data []byte) []arrow.Record {
	t.Helper()
	r, err := ipc.NewReader(bytes.NewReader(data), ipc.WithAllocator(memory.DefaultAllocator))
	if err != nil {
		t.Fatalf("opening export: %v", err)
	}
	defer r.Release()

	var recs []arrow.Record
	for r.Next() {
		rec := r.Record()
		rec.Retain()
		t.Cleanup(rec.Release)
		recs = append(recs, rec)
	}
	if err := r.Err(); err != nil {
		t.Fatalf("reading export: %v", err)
	}
	return recs
}

func TestExportArrow(t *testing.T) {
	tr := New(42)
	tr.Append(sampleSnapshot(1))
	tr.Append(sampleSnapshot(2))
	run := tr.Run()

	var buf bytes.Buffer
	if err := ExportArrow(&buf, run); err != nil {
		t.Fatalf("ExportArrow: %v", err)
	}

	recs := readStream(t, buf.Bytes())
	if len(recs) != 2 {
		t.Fatalf("record batches = %d, want one per round", len(recs))
	}

	rec := recs[0]
	// Per round: resident has 2 attributes, government 1, environment
	// contributes service_availability + system_load + 1 area row + 1
	// policy row
	wantRows := int64(2 + 1 + 2 + 1 + 1)
	if rec.NumRows() != wantRows {
		t.Errorf("rows = %d, want %d", rec.NumRows(), wantRows)
	}
	if rec.NumCols() != 6 {
		t.Errorf("cols = %d, want 6", rec.NumCols())
	}
	if name := rec.Schema().Field(0).Name; name != "round" {
		t.Errorf("first column = %q, want round", name)
	}
}

func TestExportArrow_Deterministic(t *testing.T) {
	tr := New(42)
	tr.Append(sampleSnapshot(1))
	run := tr.Run()

	var a, b bytes.Buffer
	if err := ExportArrow(&a, run); err != nil {
		t.Fatalf("first export: %v", err)
	}
	if err := ExportArrow(&b, run); err != nil {
		t.Fatalf("second export: %v", err)
	}
	if !bytes.Equal(a.Bytes(), b.Bytes()) {
		t.Error("exports of the same run should be byte-identical")
	}
}

func TestExportArrow_EmptyRun(t *testing.T) {
	var buf bytes.Buffer
	if err := ExportArrow(&buf, New(1).Run()); err != nil {
		t.Fatalf("ExportArrow on empty run: %v", err)
	}
	if recs := readStream(t, buf.Bytes()); len(recs) != 0 {
		t.Errorf("record batches = %d, want 0", len(recs))
	}
}
