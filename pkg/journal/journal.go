package journal

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/saworbit/hostprobe/pkg/store"
)

// Entry represents a raw probe observation captured for later processing.
type Entry struct {
	Timestamp int64  `json:"ts"` // Nanoseconds
	Probe     string `json:"probe"`
	Outcome   string `json:"outcome"`
	Detail    string `json:"detail,omitempty"`
	Path      string `json:"path,omitempty"`
	Data      []byte `json:"data,omitempty"` // Captured payload or command output
}

// Journal appends raw entries to Pebble using a time-ordered prefix.
type Journal struct {
	db *pebble.DB
}

// NewJournal creates a journal writer bound to the provided Pebble instance.
func NewJournal(db *pebble.DB) *Journal {
	return &Journal{db: db}
}

// LogResult writes a journal entry for a completed probe.
func (j *Journal) LogResult(probe, outcome, detail, path string, data []byte) error {
	if j == nil || j.db == nil {
		return fmt.Errorf("pebble database is not initialized")
	}

	entry := Entry{
		Timestamp: time.Now().UnixNano(),
		Probe:     probe,
		Outcome:   outcome,
		Detail:    detail,
		Path:      path,
		Data:      data,
	}

	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal journal entry: %w", err)
	}

	keySuffix, err := randomSuffix()
	if err != nil {
		return fmt.Errorf("generate journal key: %w", err)
	}

	key := []byte(fmt.Sprintf("%s%020d:%s", store.PrefixLog, entry.Timestamp, keySuffix))

	batch := j.db.NewBatch()
	defer batch.Close()

	if err := batch.Set(key, payload, pebble.NoSync); err != nil {
		return fmt.Errorf("write journal entry: %w", err)
	}

	if err := batch.Commit(pebble.NoSync); err != nil {
		return fmt.Errorf("commit journal entry: %w", err)
	}

	return nil
}

func randomSuffix() (string, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf[:]), nil
}
