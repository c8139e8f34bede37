package journal

import (
	"bytes"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/saworbit/hostprobe/pkg/store"
)

func openTestDB(t *testing.T) *pebble.DB {
	t.Helper()

	db, err := pebble.Open(t.TempDir(), &pebble.Options{})
	if err != nil {
		t.Fatalf("Failed to open pebble: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	return db
}

func TestLogResultWritesTimeOrderedEntry(t *testing.T) {
	db := openTestDB(t)
	j := NewJournal(db)

	if err := j.LogResult("file", "pass", "", "/tmp/test_file.txt", []byte("Hello from test program\n")); err != nil {
		t.Fatalf("LogResult failed: %v", err)
	}

	iter, err := store.NewPrefixIter(db, store.PrefixLog)
	if err != nil {
		t.Fatalf("Failed to create iterator: %v", err)
	}
	defer iter.Close()

	count := 0
	for iter.First(); iter.Valid(); iter.Next() {
		count++

		var entry Entry
		if err := json.Unmarshal(iter.Value(), &entry); err != nil {
			t.Fatalf("Failed to decode entry: %v", err)
		}

		if entry.Probe != "file" {
			t.Errorf("Expected probe 'file', got '%s'", entry.Probe)
		}
		if entry.Outcome != "pass" {
			t.Errorf("Expected outcome 'pass', got '%s'", entry.Outcome)
		}
		if !bytes.Equal(entry.Data, []byte("Hello from test program\n")) {
			t.Errorf("Unexpected captured data: %q", entry.Data)
		}
	}

	if count != 1 {
		t.Fatalf("Expected 1 journal entry, got %d", count)
	}
}

func TestProcessorDrainsJournalIntoMetadata(t *testing.T) {
	db := openTestDB(t)

	cas, err := store.NewStore(db, "sha256")
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	j := NewJournal(db)
	stop := StartProcessor(db, cas)
	defer stop()

	payload := []byte("shell output line\n")
	if err := j.LogResult("shell", "pass", "exit status 0", "", payload); err != nil {
		t.Fatalf("LogResult failed: %v", err)
	}

	// The processor polls every 100ms; give it a few cycles.
	deadline := time.Now().Add(2 * time.Second)
	var meta *MetadataRecord
	for time.Now().Before(deadline) {
		meta = findMetadata(t, db, "shell")
		if meta != nil {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}

	if meta == nil {
		t.Fatal("Processor never produced a metadata record")
	}

	if meta.CID == "" {
		t.Fatal("Expected metadata record to reference a CAS object")
	}

	stored, err := cas.Get(meta.CID)
	if err != nil {
		t.Fatalf("Failed to load CAS object: %v", err)
	}
	if !bytes.Equal(stored, payload) {
		t.Errorf("CAS content mismatch.\nExpected: %q\nGot: %q", payload, stored)
	}

	// The journal entry itself must be consumed.
	iter, err := store.NewPrefixIter(db, store.PrefixLog)
	if err != nil {
		t.Fatalf("Failed to create iterator: %v", err)
	}
	defer iter.Close()

	if iter.First(); iter.Valid() {
		t.Error("Expected journal prefix to be drained")
	}
}

func findMetadata(t *testing.T, db *pebble.DB, probe string) *MetadataRecord {
	t.Helper()

	iter, err := store.NewPrefixIter(db, store.PrefixMeta)
	if err != nil {
		t.Fatalf("Failed to create iterator: %v", err)
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		var meta MetadataRecord
		if err := json.Unmarshal(iter.Value(), &meta); err != nil {
			t.Fatalf("Failed to decode metadata: %v", err)
		}
		if meta.Probe == probe {
			return &meta
		}
	}

	return nil
}

func TestLatestCapture(t *testing.T) {
	db := openTestDB(t)

	cas, err := store.NewStore(db, "sha256")
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	writeMeta := func(ts int64, path, content string) {
		t.Helper()

		cid, err := cas.Put([]byte(content))
		if err != nil {
			t.Fatalf("Put failed: %v", err)
		}

		meta := MetadataRecord{
			Probe:     "file",
			Outcome:   "pass",
			Path:      path,
			Timestamp: ts,
			CID:       cid,
			Size:      len(content),
		}

		raw, err := json.Marshal(meta)
		if err != nil {
			t.Fatalf("Marshal failed: %v", err)
		}

		key := []byte(fmt.Sprintf("%sfile:%020d", store.PrefixMeta, ts))
		if err := db.Set(key, raw, pebble.Sync); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
	}

	writeMeta(100, "/tmp/test_file.txt", "first run")
	writeMeta(200, "/tmp/test_file.txt", "second run")
	writeMeta(300, "/tmp/other.txt", "unrelated")

	latest, err := LatestCapture(db, "/tmp/test_file.txt")
	if err != nil {
		t.Fatalf("LatestCapture failed: %v", err)
	}
	if latest == nil {
		t.Fatal("Expected a capture record")
	}
	if latest.Timestamp != 200 {
		t.Errorf("Expected latest timestamp 200, got %d", latest.Timestamp)
	}

	missing, err := LatestCapture(db, "/tmp/never_seen.txt")
	if err != nil {
		t.Fatalf("LatestCapture failed: %v", err)
	}
	if missing != nil {
		t.Error("Expected nil for a path with no captures")
	}
}
