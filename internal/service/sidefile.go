package service

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// sideFile moves an unparseable file into the error directory so it stops
// matching the watch pattern and can be inspected later. The destination
// name is prefixed with the source ID to keep files from different GFX PCs
// apart.
func sideFile(srcPath, sourceID, errorDir string) (string, error) {
	if strings.TrimSpace(errorDir) == "" {
		return "", fmt.Errorf("error directory is empty")
	}
	if err := os.MkdirAll(errorDir, 0o755); err != nil {
		return "", err
	}
	base := fmt.Sprintf("%s_%s", sourceID, filepath.Base(srcPath))
	dstPath := filepath.Join(errorDir, base)
	if _, err := os.Stat(dstPath); err == nil {
		ext := filepath.Ext(base)
		name := strings.TrimSuffix(base, ext)
		dstPath = filepath.Join(errorDir, fmt.Sprintf("%s-%d%s", name, time.Now().UnixNano(), ext))
	}

	// Try fast rename first.
	if err := os.Rename(srcPath, dstPath); err == nil {
		return dstPath, nil
	}

	// Fallback: copy + remove (handles cross-device moves, NAS mounts).
	in, err := os.Open(srcPath)
	if err != nil {
		return "", err
	}
	defer in.Close()

	out, err := os.Create(dstPath)
	if err != nil {
		return "", err
	}
	_, copyErr := io.Copy(out, in)
	closeErr := out.Close()
	if copyErr != nil {
		_ = os.Remove(dstPath)
		return "", copyErr
	}
	if closeErr != nil {
		_ = os.Remove(dstPath)
		return "", closeErr
	}
	if err := os.Remove(srcPath); err != nil {
		return "", err
	}
	return dstPath, nil
}
