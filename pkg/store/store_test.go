package store

import (
	"bytes"
	"testing"

	"github.com/cockroachdb/pebble"
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

func TestPutGetRoundTrip(t *testing.T) {
	db := openTestDB(t)

	cas, err := NewStore(db, "sha256")
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	payload := []byte("Hello from test program\n")

	cid, err := cas.Put(payload)
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if cid == "" {
		t.Fatal("Expected non-empty CID")
	}

	got, err := cas.Get(cid)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("Round trip mismatch.\nExpected: %q\nGot: %q", payload, got)
	}
}

func TestPutDeduplicates(t *testing.T) {
	db := openTestDB(t)

	cas, err := NewStore(db, "sha256")
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	payload := []byte("same content both times")

	cid1, stored1, err := cas.PutWithSize(payload)
	if err != nil {
		t.Fatalf("First put failed: %v", err)
	}
	if stored1 == 0 {
		t.Error("Expected first put to write bytes")
	}

	cid2, stored2, err := cas.PutWithSize(payload)
	if err != nil {
		t.Fatalf("Second put failed: %v", err)
	}

	if cid1 != cid2 {
		t.Errorf("Expected identical CIDs, got %s and %s", cid1, cid2)
	}
	if stored2 != 0 {
		t.Errorf("Expected dedup to write zero bytes, wrote %d", stored2)
	}
}

func TestHas(t *testing.T) {
	db := openTestDB(t)

	cas, err := NewStore(db, "sha256")
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	cid, err := cas.Put([]byte("present"))
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	exists, err := cas.Has(cid)
	if err != nil {
		t.Fatalf("Has failed: %v", err)
	}
	if !exists {
		t.Error("Expected stored CID to exist")
	}

	exists, err = cas.Has("QmMissing")
	if err != nil {
		t.Fatalf("Has failed for missing CID: %v", err)
	}
	if exists {
		t.Error("Expected missing CID to be absent")
	}
}

func TestGetMissingCID(t *testing.T) {
	db := openTestDB(t)

	cas, err := NewStore(db, "sha256")
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	if _, err := cas.Get("QmMissing"); err == nil {
		t.Error("Expected error for missing CID")
	}
}

func TestBlake3CIDsDifferFromSha256(t *testing.T) {
	db := openTestDB(t)

	sha, err := NewStore(db, "sha256")
	if err != nil {
		t.Fatalf("Failed to create sha256 store: %v", err)
	}

	blake, err := NewStore(db, "blake3")
	if err != nil {
		t.Fatalf("Failed to create blake3 store: %v", err)
	}

	payload := []byte("algo sensitive")

	shaCID, err := sha.ComputeCID(payload)
	if err != nil {
		t.Fatalf("sha256 CID failed: %v", err)
	}

	blakeCID, err := blake.ComputeCID(payload)
	if err != nil {
		t.Fatalf("blake3 CID failed: %v", err)
	}

	if shaCID == blakeCID {
		t.Error("Expected different CIDs for different hash algorithms")
	}
}

func TestNewStoreRejectsUnknownAlgo(t *testing.T) {
	db := openTestDB(t)

	if _, err := NewStore(db, "md5"); err == nil {
		t.Error("Expected error for unsupported hash algorithm")
	}
}

func TestGetStats(t *testing.T) {
	db := openTestDB(t)

	cas, err := NewStore(db, "sha256")
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	if _, err := cas.Put([]byte("object one")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if _, err := cas.Put([]byte("object two")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	stats, err := cas.GetStats()
	if err != nil {
		t.Fatalf("GetStats failed: %v", err)
	}

	if stats.TotalObjects != 2 {
		t.Errorf("Expected 2 objects, got %d", stats.TotalObjects)
	}
	if stats.TotalSize <= 0 {
		t.Errorf("Expected positive total size, got %d", stats.TotalSize)
	}
}
