package nfscache

import "github.com/nfscache/nfscache/entry"

// ErrNotFound is returned when a key does not exist, or reported internally
// as a miss; Get/Exists never return it to callers, they simply report
// absence.
var ErrNotFound = entry.ErrNotFound

// ErrCorruptEntry is returned internally when codec verification fails.
// The controller treats it as a miss and schedules the file for removal.
var ErrCorruptEntry = entry.ErrCorruptEntry

// ErrTooLarge is returned by Set when the value exceeds MaxValueSize.
var ErrTooLarge = entry.ErrTooLarge

// ErrConfig is returned by Open when Directory is empty or cannot be
// created, or when an existing meta.json is unreadable, carries an
// incompatible schema version, or was written under a different
// configuration. A missing meta.json is created, not an error.
var ErrConfig = entry.ErrConfig

// ErrClosed is returned by any operation called after Close.
var ErrClosed = entry.ErrClosed

// IoErrorKind classifies an IoError for caller-side retry/backoff decisions.
type IoErrorKind = entry.IoErrorKind

const (
	// IoUnknown is an unclassified I/O failure.
	IoUnknown = entry.IoUnknown
	// IoPermission indicates a permissions failure.
	IoPermission = entry.IoPermission
	// IoSpace indicates the filesystem is out of space.
	IoSpace = entry.IoSpace
	// IoTransient indicates a retryable failure (EAGAIN, SMB/NFS
	// timeouts, sharing violations).
	IoTransient = entry.IoTransient
)

// IoError wraps a filesystem failure with a classification used to decide
// whether the operation was retried and whether it ultimately surfaced to
// the caller.
type IoError = entry.IoError

// NewIoError builds an IoError, classifying the underlying error.
func NewIoError(op, path string, err error) *IoError { return entry.NewIoError(op, path, err) }
