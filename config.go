package nfscache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/nfscache/nfscache/diskio"
	"github.com/nfscache/nfscache/eviction"
	"github.com/nfscache/nfscache/index"
)

// metaSchemaVersion is the current meta.json schema. Open aborts if an
// existing meta.json carries a different value.
const metaSchemaVersion = 1

// Config configures a cache opened with Open. The zero value is not
// usable; Directory must be set, everything else defaults per DefaultConfig.
type Config struct {
	// Directory is the cache's root path, created if absent.
	Directory string

	// MaxSize caps total bytes across the disk tier. Zero means unbounded.
	MaxSize int64
	// MaxEntries caps the number of live entries. Zero means unbounded.
	MaxEntries int
	// MaxValueSize rejects oversized writes with ErrTooLarge. Default 256 MiB.
	MaxValueSize int64

	// EvictionPolicy selects the trim ordering. Default lru_ttl.
	EvictionPolicy eviction.Policy
	// Compression selects the value-payload compression kind. Default
	// CompressionFast.
	Compression Compression
	// HashAlgo names the key/content hash algorithm. Reserved; only
	// "blake3" is implemented.
	HashAlgo string

	// MmapThreshold is the file size at which reads memory-map. Default 64 KiB.
	MmapThreshold int64

	// HotMaxBytes, HotMaxEntries, HotItemCap size the in-memory hot tier.
	HotMaxBytes   int64
	HotMaxEntries int
	HotItemCap    int64

	// VacuumInterval is the period between background vacuum sweeps.
	// Default 3600s.
	VacuumInterval time.Duration

	// JournalCompactSegments is defaulted to 4 but not consulted: Open
	// compacts the index into a fresh snapshot every time, whatever the
	// number of journal segments.
	JournalCompactSegments int

	// DisableFsync skips fsyncing entry writes, trading crash durability
	// for throughput. Not recommended; matches the spec's
	// fsync_on_write=false option, inverted so the zero value keeps the
	// safe default.
	DisableFsync bool

	// IndexBackend selects the index's durable store. Default "journal".
	IndexBackend index.Backend

	// Logger receives structured logs from every background-worker-owning
	// component. Defaults to slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns a Config with every optional field at its
// documented default, rooted at dir.
func DefaultConfig(dir string) Config {
	return Config{
		Directory:              dir,
		MaxValueSize:           256 << 20,
		EvictionPolicy:         eviction.DefaultPolicy,
		Compression:            CompressionFast,
		HashAlgo:               "blake3",
		MmapThreshold:          64 << 10,
		HotMaxBytes:            64 << 20,
		HotMaxEntries:          0,
		HotItemCap:             4 << 10,
		VacuumInterval:         3600 * time.Second,
		JournalCompactSegments: 4,
		IndexBackend:           index.BackendJournal,
		Logger:                 slog.Default(),
	}
}

// withDefaults fills in zero-valued optional fields, leaving explicit
// caller choices (including an explicit false/0) untouched where that
// distinction matters.
func (c Config) withDefaults() Config {
	def := DefaultConfig(c.Directory)
	if c.MaxValueSize <= 0 {
		c.MaxValueSize = def.MaxValueSize
	}
	if c.EvictionPolicy == "" {
		c.EvictionPolicy = def.EvictionPolicy
	}
	if c.HashAlgo == "" {
		c.HashAlgo = def.HashAlgo
	}
	if c.MmapThreshold <= 0 {
		c.MmapThreshold = def.MmapThreshold
	}
	if c.HotMaxBytes <= 0 {
		c.HotMaxBytes = def.HotMaxBytes
	}
	if c.HotItemCap <= 0 {
		c.HotItemCap = def.HotItemCap
	}
	if c.VacuumInterval <= 0 {
		c.VacuumInterval = def.VacuumInterval
	}
	if c.JournalCompactSegments <= 0 {
		c.JournalCompactSegments = def.JournalCompactSegments
	}
	if c.IndexBackend == "" {
		c.IndexBackend = def.IndexBackend
	}
	if c.Logger == nil {
		c.Logger = def.Logger
	}
	return c
}

// configHash returns a short, stable hash of the fields that affect
// on-disk layout, stored in meta.json so Open can detect an incompatible
// reconfiguration of an existing directory.
func (c Config) configHash() string {
	h := sha256.New()
	fmt.Fprintf(h, "policy=%s|compression=%d|hash=%s|backend=%s",
		c.EvictionPolicy, c.Compression, c.HashAlgo, c.IndexBackend)
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// metaFile is the on-disk schema of meta.json.
type metaFile struct {
	Schema     int    `json:"schema"`
	CreatedAt  string `json:"created_at"`
	ConfigHash string `json:"config_hash"`
}

// loadOrCreateMeta reads dir/meta.json, creating it (with the current
// config hash and timestamp) if absent. A schema mismatch or a config
// hash that no longer matches an on-disk layout built under a different
// configuration both abort with ErrConfig.
func loadOrCreateMeta(dir string, cfg Config) error {
	path := filepath.Join(dir, "meta.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("%w: read meta.json: %v", ErrConfig, err)
		}
		return writeMeta(path, cfg)
	}

	var m metaFile
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("%w: parse meta.json: %v", ErrConfig, err)
	}
	if m.Schema != metaSchemaVersion {
		return fmt.Errorf("%w: meta.json schema %d, want %d", ErrConfig, m.Schema, metaSchemaVersion)
	}
	if m.ConfigHash != cfg.configHash() {
		return fmt.Errorf("%w: directory %s was built with a different configuration", ErrConfig, dir)
	}
	return nil
}

func writeMeta(path string, cfg Config) error {
	m := metaFile{
		Schema:     metaSchemaVersion,
		CreatedAt:  time.Now().UTC().Format(time.RFC3339),
		ConfigHash: cfg.configHash(),
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: marshal meta.json: %v", ErrConfig, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("%w: create directory: %v", ErrConfig, err)
	}
	if err := diskio.WriteSmallFile(path, data); err != nil {
		return fmt.Errorf("%w: write meta.json: %v", ErrConfig, err)
	}
	return nil
}
