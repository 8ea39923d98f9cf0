package intent

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// DefaultCatalog holds greeting, weather, time, day, date and stop, all bound
// to built-in actions.
//
//go:embed default_catalog.yaml
var DefaultCatalog []byte

// InstallDefaultCatalog writes DefaultCatalog to path unless a file is
// already there. It reports whether it wrote one.
func InstallDefaultCatalog(path string) (bool, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, fmt.Errorf("install catalog: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if errors.Is(err, fs.ErrExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("install catalog: %w", err)
	}
	if _, err := f.Write(DefaultCatalog); err != nil {
		f.Close()
		return false, fmt.Errorf("install catalog: %w", err)
	}
	return true, f.Close()
}

// ParseDefaultCatalog parses the embedded catalog.
func ParseDefaultCatalog() (*Catalog, error) {
	return ParseCatalog(bytes.NewReader(DefaultCatalog))
}
