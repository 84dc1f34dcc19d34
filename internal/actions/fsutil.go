package actions

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// copyFile copies src to dest, creating the destination directory if
// missing. Existing files are overwritten. On a failed copy the partial
// destination is removed.
func copyFile(src, dest string) (err error) {
	in, openErr := os.Open(src) // #nosec G304 - paths come from the job descriptor
	if openErr != nil {
		return fmt.Errorf("open source: %w", openErr)
	}
	defer func() { _ = in.Close() }()

	if mkErr := os.MkdirAll(filepath.Dir(dest), 0o750); mkErr != nil {
		return fmt.Errorf("ensure dir for %s: %w", dest, mkErr)
	}
	out, createErr := os.Create(dest) // #nosec G304 - paths come from the job descriptor
	if createErr != nil {
		return fmt.Errorf("create %s: %w", dest, createErr)
	}
	defer func() {
		_ = out.Close()
		if err != nil {
			_ = os.Remove(dest)
		}
	}()

	if _, copyErr := io.Copy(out, in); copyErr != nil {
		err = fmt.Errorf("copy to %s: %w", dest, copyErr)
		return err
	}
	return nil
}

// fileExists reports whether path exists and is a regular file.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
