package ingest

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/attacklens/attacklens/taskerr"
)

// StoreUpload writes an uploaded document under root as
// <uuid>_<sanitizedName> and returns the stored path. The root is created
// if missing.
func StoreUpload(root, originalName string, r io.Reader) (string, error) {
	const op = "ingest.StoreUpload"

	name := sanitizeFilename(originalName)
	if name == "" {
		return "", taskerr.NewInvalidInput(op, fmt.Errorf("empty file name"))
	}

	if err := os.MkdirAll(root, 0o755); err != nil {
		return "", taskerr.NewInternal(op, err)
	}

	path := filepath.Join(root, uuid.New().String()+"_"+name)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", taskerr.NewInternal(op, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(path)
		return "", taskerr.NewInternal(op, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", taskerr.NewInternal(op, err)
	}
	return path, nil
}

// ResolveUpload confines a stored file name to the uploads root and returns
// its absolute path. Names resolving outside the root are InvalidInput.
func ResolveUpload(root, name string) (string, error) {
	const op = "ingest.ResolveUpload"

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", taskerr.NewInvalidInput(op, err)
	}
	path := filepath.Join(absRoot, name)
	if path != absRoot && !strings.HasPrefix(path, absRoot+string(filepath.Separator)) {
		return "", taskerr.NewInvalidInput(op, fmt.Errorf("%w: %q", ErrPathTraversal, name))
	}
	if path == absRoot {
		return "", taskerr.NewInvalidInput(op, fmt.Errorf("%w: %q", ErrPathTraversal, name))
	}
	return path, nil
}

// sanitizeFilename strips directories and characters that have no business
// in a stored file name.
func sanitizeFilename(name string) string {
	name = filepath.Base(strings.TrimSpace(name))
	if name == "." || name == string(filepath.Separator) {
		return ""
	}
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return strings.Trim(b.String(), "._")
}
