package httpfront

import (
	"os"
	"path/filepath"
	"time"
)

func nowMillis() int64 { return time.Now().UnixMilli() }

func writePcapFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func pathBase(path string) string { return filepath.Base(path) }

func pathDir(path string) string { return filepath.Dir(path) }
