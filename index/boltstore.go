package index

import (
	"fmt"
	"time"

	"go.etcd.io/bbolt"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/nfscache/nfscache/entry"
)

// BoltStore is the opt-in alternative to Journal: a single mmap-backed
// bbolt file (idx/index.bolt) holding the full fingerprint -> EntryMeta
// map. Every Append runs inside its own bbolt write transaction, so it
// is durable on commit at the cost of a bolt transaction per mutation;
// deployments that want many small segment files instead use Journal.
type BoltStore struct {
	db *bbolt.DB
}

var indexBucket = []byte("index")

var _ Store = (*BoltStore)(nil)

// OpenBoltStore opens (creating if necessary) the bolt-backed index file at path.
func OpenBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("index: open bolt store %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(indexBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("index: create bucket: %w", err)
	}
	return &BoltStore{db: db}, nil
}

// Append upserts or deletes one fingerprint's metadata in a single bolt transaction.
func (s *BoltStore) Append(op RecordOp, fp entry.Fingerprint, meta entry.EntryMeta) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(indexBucket)
		switch op {
		case RecordPut:
			return b.Put(fp[:], encodeMetaValue(meta))
		case RecordDelete:
			return b.Delete(fp[:])
		default:
			return fmt.Errorf("index: unknown record op %d", op)
		}
	})
}

// Load reconstructs the full fingerprint -> EntryMeta map from the bolt file.
func (s *BoltStore) Load() (map[entry.Fingerprint]entry.EntryMeta, error) {
	live := make(map[entry.Fingerprint]entry.EntryMeta)
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(indexBucket)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			if len(k) != entry.FingerprintSize {
				return nil
			}
			var fp entry.Fingerprint
			copy(fp[:], k)
			meta, err := decodeMetaValue(v)
			if err != nil {
				return fmt.Errorf("index: decode %x: %w", k, err)
			}
			live[fp] = meta
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return live, nil
}

// Compact rewrites the bucket to exactly match live, dropping anything
// bbolt still holds that is no longer current (e.g. after an external
// reconciliation pass).
func (s *BoltStore) Compact(live map[entry.Fingerprint]entry.EntryMeta) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket(indexBucket); err != nil && err != bbolt.ErrBucketNotFound {
			return err
		}
		b, err := tx.CreateBucket(indexBucket)
		if err != nil {
			return err
		}
		for fp, meta := range live {
			if err := b.Put(fp[:], encodeMetaValue(meta)); err != nil {
				return err
			}
		}
		return nil
	})
}

// Close closes the underlying bbolt database.
func (s *BoltStore) Close() error { return s.db.Close() }

// encodeMetaValue and decodeMetaValue encode an EntryMeta as bolt's value
// bytes, reusing the same protowire field tags as the journal (fingerprint
// and op are omitted since both are implicit from the bucket key and the
// call in Append).
func encodeMetaValue(meta entry.EntryMeta) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldSizeOnDisk, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(meta.SizeOnDisk))
	b = protowire.AppendTag(b, fieldExpiresAt, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(timeToNanos(meta.ExpiresAt)))
	b = protowire.AppendTag(b, fieldLastAccessAt, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(timeToNanos(meta.LastAccessAt)))
	b = protowire.AppendTag(b, fieldAccessCount, protowire.VarintType)
	b = protowire.AppendVarint(b, meta.AccessCount)
	b = protowire.AppendTag(b, fieldFilePathSuffix, protowire.BytesType)
	b = protowire.AppendBytes(b, []byte(meta.FilePathSuffix))
	b = protowire.AppendTag(b, fieldFlags, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(meta.Flags))
	return b
}

func decodeMetaValue(data []byte) (entry.EntryMeta, error) {
	_, _, meta, err := decodeRecord(data)
	return meta, err
}
