package diskio

import (
	"bytes"
	"fmt"

	natomic "github.com/natefinch/atomic"
)

// WriteSmallFile atomically writes small, infrequently-updated files such as
// meta.json. It delegates to github.com/natefinch/atomic, which already
// implements the temp+rename contract; entry files and compacted index
// snapshots, which need the same-directory temp name and directory fsync,
// use WriteAtomic instead.
func WriteSmallFile(path string, data []byte) error {
	if err := natomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("diskio: write %s: %w", path, err)
	}
	return nil
}
