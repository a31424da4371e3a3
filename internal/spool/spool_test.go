package spool

import (
	"path/filepath"
	"testing"
	"time"
)

func TestFileWriter_AppendAndRead(t *testing.T) {
	dir := t.TempDir()
	w, err := NewFileWriter(dir, "ingest.jsonl")
	if err != nil {
		t.Fatalf("NewFileWriter: %v", err)
	}

	e1 := Entry{Time: time.Unix(1, 0).UTC(), Source: SourceIngest, Reason: "publish failed", Payload: `{"client_id":1}`}
	e2 := Entry{Source: SourceLoader, Reason: "decode", ID: "m-2", Payload: "!!"}
	if err := w.Append(e1); err != nil {
		t.Fatalf("append1: %v", err)
	}
	if err := w.Append(e2); err != nil {
		t.Fatalf("append2: %v", err)
	}

	got, err := ReadFile(filepath.Join(dir, "ingest.jsonl"))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("want 2 entries, got %d", len(got))
	}
	if !got[0].Time.Equal(e1.Time) || got[0].Source != e1.Source || got[0].Reason != e1.Reason || got[0].Payload != e1.Payload {
		t.Fatalf("entry 0 mismatch: %+v vs %+v", got[0], e1)
	}
	if got[1].Time.IsZero() || got[1].ID != "m-2" || got[1].Payload != "!!" {
		t.Fatalf("entry 1: %+v", got[1])
	}
}

func TestReadFile_Missing(t *testing.T) {
	got, err := ReadFile(filepath.Join(t.TempDir(), "nope.jsonl"))
	if err != nil || len(got) != 0 {
		t.Fatalf("missing spool should be empty: %v %v", got, err)
	}
}
