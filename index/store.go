package index

import "github.com/nfscache/nfscache/entry"

// RecordOp identifies the kind of mutation a journal record represents.
type RecordOp uint8

const (
	// RecordPut records an insert or update of a fingerprint's metadata.
	RecordPut RecordOp = 1
	// RecordDelete records the removal of a fingerprint.
	RecordDelete RecordOp = 2
)

// Store is the durability contract an Index can optionally sit on top of.
// Implementations are append-mostly: Append records a single mutation,
// Load replays the full current state back into memory at startup.
type Store interface {
	// Append durably records a single Put or Delete.
	Append(op RecordOp, fp entry.Fingerprint, meta entry.EntryMeta) error
	// Load returns the full reconstructed fingerprint -> EntryMeta map.
	Load() (map[entry.Fingerprint]entry.EntryMeta, error)
	// Compact folds the store's history into its most compact durable
	// representation (a fresh segment/snapshot, or a bbolt rewrite).
	Compact(live map[entry.Fingerprint]entry.EntryMeta) error
	// Close releases any held file handles.
	Close() error
}
