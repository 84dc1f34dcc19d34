package exchange

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Writer deposits trigger payloads into the shared exchange directory. The
// file write is the only signal the automation tool receives; there is no
// other handshake.
type Writer struct {
	dir string
}

func NewWriter(dir string) *Writer {
	return &Writer{dir: dir}
}

// WriteTrigger writes payload to dir/filename, overwriting any previous
// trigger of the same name. The returned start time is captured before the
// write and anchors the result watcher's stale-file rejection; reordering
// the two would let the watcher match leftovers from an earlier run.
func (w *Writer) WriteTrigger(filename string, payload []byte) (time.Time, error) {
	start := time.Now()
	if err := os.MkdirAll(w.dir, 0o750); err != nil {
		return start, fmt.Errorf("ensure exchange dir: %w", err)
	}
	dest := filepath.Join(w.dir, filename)
	// Write to a temp name then rename so a rewrite never leaves the
	// automation tool a half-written trigger.
	tmp := dest + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o644); err != nil { // #nosec G306 - shared folder, tool needs read access
		return start, fmt.Errorf("write trigger: %w", err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		_ = os.Remove(tmp)
		return start, fmt.Errorf("publish trigger: %w", err)
	}
	return start, nil
}
