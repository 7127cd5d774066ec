// Package uploads archives raw uploads under generated names. The claimed
// filename only contributes a whitelisted extension.
package uploads

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

var allowedExt = map[string]string{
	".jpg":  ".jpg",
	".jpeg": ".jpg",
	".png":  ".png",
	".gif":  ".gif",
	".webp": ".webp",
	".bmp":  ".bmp",
	".tif":  ".tiff",
	".tiff": ".tiff",
}

type Store struct {
	dir string
}

// New creates dir if needed.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("could not create upload directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) Dir() string { return s.dir }

// Ext returns the normalized image extension of a claimed filename, or
// ".bin".
func Ext(claimed string) string {
	base := filepath.Base(strings.ReplaceAll(claimed, "\\", "/"))
	if ext, ok := allowedExt[strings.ToLower(filepath.Ext(base))]; ok {
		return ext
	}
	return ".bin"
}

// Save writes data to <id><ext> and returns the full path.
func (s *Store) Save(id uuid.UUID, claimed string, data []byte) (string, error) {
	path := filepath.Join(s.dir, id.String()+Ext(claimed))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("could not save upload: %w", err)
	}
	return path, nil
}
