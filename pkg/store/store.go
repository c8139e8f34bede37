package store

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/klauspost/compress/zstd"
	"github.com/multiformats/go-multihash"
)

// Key prefixes shared by the CAS, the journal and the run records. Keeping
// them in one place guarantees prefix iteration never crosses record kinds.
const (
	PrefixCAS  = "cas:"
	PrefixLog  = "log:"
	PrefixMeta = "meta:"
	PrefixRun  = "run:"
)

const compressionMagic = "HPZ1"

// Store implements content-addressable storage on top of Pebble
type Store struct {
	db       *pebble.DB
	hashAlgo string
}

// NewStore creates a content-addressable storage instance bound to db
func NewStore(db *pebble.DB, hashAlgo string) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("pebble database is not initialized")
	}

	switch hashAlgo {
	case "sha256", "blake3":
	default:
		return nil, fmt.Errorf("unsupported hash algorithm: %s", hashAlgo)
	}

	return &Store{
		db:       db,
		hashAlgo: hashAlgo,
	}, nil
}

// ComputeCID computes a content identifier for the given data
func (s *Store) ComputeCID(data []byte) (string, error) {
	var hashType uint64

	switch s.hashAlgo {
	case "sha256":
		hashType = multihash.SHA2_256
	case "blake3":
		hashType = multihash.BLAKE3
	default:
		return "", fmt.Errorf("unsupported hash algorithm: %s", s.hashAlgo)
	}

	mh, err := multihash.Sum(data, hashType, -1)
	if err != nil {
		return "", fmt.Errorf("failed to compute multihash: %w", err)
	}

	return mh.B58String(), nil
}

// PutWithSize stores data in CAS and returns its CID along with the compressed
// bytes written. If the CID already exists, storedBytes will be zero.
func (s *Store) PutWithSize(data []byte) (string, int, error) {
	cid, err := s.ComputeCID(data)
	if err != nil {
		return "", 0, err
	}

	exists, err := s.Has(cid)
	if err != nil {
		return "", 0, err
	}

	if exists {
		return cid, 0, nil
	}

	compressed, err := compressForStorage(data)
	if err != nil {
		return "", 0, fmt.Errorf("failed to compress object: %w", err)
	}

	if err := s.db.Set(casKey(cid), compressed, pebble.Sync); err != nil {
		return "", 0, fmt.Errorf("failed to store in CAS: %w", err)
	}

	return cid, len(compressed), nil
}

// Put stores data in CAS and returns its CID
// If the data already exists (same CID), it's deduplicated
func (s *Store) Put(data []byte) (string, error) {
	cid, _, err := s.PutWithSize(data)
	return cid, err
}

// Get retrieves data from CAS by CID
func (s *Store) Get(cid string) ([]byte, error) {
	value, closer, err := s.db.Get(casKey(cid))
	if err != nil {
		if err == pebble.ErrNotFound {
			return nil, fmt.Errorf("CID not found: %s", cid)
		}
		return nil, fmt.Errorf("failed to read CID %s: %w", cid, err)
	}
	defer closer.Close()

	data, err := decompressFromStorage(value)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress CID %s: %w", cid, err)
	}

	return data, nil
}

// Has checks if a CID exists in CAS
func (s *Store) Has(cid string) (bool, error) {
	_, closer, err := s.db.Get(casKey(cid))
	if err != nil {
		if err == pebble.ErrNotFound {
			return false, nil
		}
		return false, err
	}
	closer.Close()
	return true, nil
}

// Stats summarizes the CAS footprint
type Stats struct {
	TotalObjects int
	TotalSize    int64
}

// GetStats walks the CAS prefix and reports object count and compressed size
func (s *Store) GetStats() (Stats, error) {
	var stats Stats

	iter, err := NewPrefixIter(s.db, PrefixCAS)
	if err != nil {
		return stats, err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		stats.TotalObjects++
		stats.TotalSize += int64(len(iter.Value()))
	}

	if err := iter.Error(); err != nil {
		return stats, err
	}

	return stats, nil
}

// NewPrefixIter returns an iterator bounded to a single key prefix
func NewPrefixIter(db *pebble.DB, prefix string) (*pebble.Iterator, error) {
	upper := append([]byte(prefix), 0xff)
	return db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefix),
		UpperBound: upper,
	})
}

func casKey(cid string) []byte {
	return []byte(PrefixCAS + cid)
}

var (
	zstdEncoderOnce sync.Once
	zstdDecoderOnce sync.Once
	zstdEncoder     *zstd.Encoder
	zstdDecoder     *zstd.Decoder
	zstdInitErr     error
)

func getZstdEncoder() (*zstd.Encoder, error) {
	zstdEncoderOnce.Do(func() {
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			zstdInitErr = err
			return
		}
		zstdEncoder = enc
	})
	return zstdEncoder, zstdInitErr
}

func getZstdDecoder() (*zstd.Decoder, error) {
	zstdDecoderOnce.Do(func() {
		dec, err := zstd.NewReader(nil)
		if err != nil {
			zstdInitErr = err
			return
		}
		zstdDecoder = dec
	})
	return zstdDecoder, zstdInitErr
}

func compressForStorage(data []byte) ([]byte, error) {
	enc, err := getZstdEncoder()
	if err != nil {
		return nil, err
	}
	dst := enc.EncodeAll(data, nil)
	return append([]byte(compressionMagic), dst...), nil
}

func decompressFromStorage(data []byte) ([]byte, error) {
	if len(data) < len(compressionMagic) || !bytes.Equal(data[:len(compressionMagic)], []byte(compressionMagic)) {
		out := make([]byte, len(data))
		copy(out, data)
		return out, nil
	}

	dec, err := getZstdDecoder()
	if err != nil {
		return nil, err
	}
	return dec.DecodeAll(data[len(compressionMagic):], nil)
}
