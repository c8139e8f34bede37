package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/saworbit/hostprobe/pkg/store"
)

// MetadataRecord links a probe observation to a CAS object at a point in time.
type MetadataRecord struct {
	Probe     string `json:"probe"`
	Outcome   string `json:"outcome"`
	Detail    string `json:"detail,omitempty"`
	Path      string `json:"path,omitempty"`
	Timestamp int64  `json:"ts"`
	CID       string `json:"cid,omitempty"`
	Size      int    `json:"size"`
}

// StartProcessor launches a background worker that drains journal entries into
// CAS and metadata records.
func StartProcessor(db *pebble.DB, cas *store.Store) context.CancelFunc {
	ctx, cancel := context.WithCancel(context.Background())
	go processorLoop(ctx, db, cas)
	return cancel
}

func processorLoop(ctx context.Context, db *pebble.DB, cas *store.Store) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		processed := false
		iter, err := store.NewPrefixIter(db, store.PrefixLog)
		if err != nil {
			log.Printf("[processor] iterator init error: %v", err)
			time.Sleep(100 * time.Millisecond)
			continue
		}

		for iter.First(); iter.Valid(); iter.Next() {
			processed = true

			logKey := append([]byte(nil), iter.Key()...)
			payload := append([]byte(nil), iter.Value()...)

			if err := processEntry(db, cas, logKey, payload); err != nil {
				log.Printf("[processor] failed to handle journal %s: %v", string(logKey), err)
			}
		}

		if err := iter.Close(); err != nil {
			log.Printf("[processor] iterator close error: %v", err)
		}

		if !processed {
			select {
			case <-ctx.Done():
				return
			case <-time.After(100 * time.Millisecond):
			}
		}
	}
}

func processEntry(db *pebble.DB, cas *store.Store, logKey, payload []byte) error {
	if db == nil || cas == nil {
		return fmt.Errorf("processor requires db and store")
	}

	var entry Entry
	if err := json.Unmarshal(payload, &entry); err != nil {
		return fmt.Errorf("decode journal entry: %w", err)
	}

	var cid string
	if len(entry.Data) > 0 {
		var err error
		cid, err = cas.Put(entry.Data)
		if err != nil {
			return fmt.Errorf("store CAS object: %w", err)
		}
	}

	meta := MetadataRecord{
		Probe:     entry.Probe,
		Outcome:   entry.Outcome,
		Detail:    entry.Detail,
		Path:      entry.Path,
		Timestamp: entry.Timestamp,
		CID:       cid,
		Size:      len(entry.Data),
	}

	metaBytes, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	metaKey := []byte(fmt.Sprintf("%s%s:%020d", store.PrefixMeta, entry.Probe, entry.Timestamp))

	if err := db.Set(metaKey, metaBytes, pebble.Sync); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}

	if err := db.Delete(logKey, pebble.Sync); err != nil {
		return fmt.Errorf("delete journal key: %w", err)
	}

	return nil
}

// LatestCapture returns the newest metadata record for the given path, or nil
// when no prior run captured it. Used to seed delta computation.
func LatestCapture(db *pebble.DB, path string) (*MetadataRecord, error) {
	iter, err := store.NewPrefixIter(db, store.PrefixMeta)
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var latest *MetadataRecord
	for iter.First(); iter.Valid(); iter.Next() {
		var meta MetadataRecord
		if err := json.Unmarshal(iter.Value(), &meta); err != nil {
			log.Printf("[journal] skip corrupt metadata %s: %v", string(iter.Key()), err)
			continue
		}

		if meta.Path != path || meta.CID == "" {
			continue
		}

		if latest == nil || meta.Timestamp > latest.Timestamp {
			m := meta
			latest = &m
		}
	}

	if err := iter.Error(); err != nil {
		return nil, err
	}

	return latest, nil
}
