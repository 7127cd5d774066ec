package uploads

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExt(t *testing.T) {
	tests := map[string]string{
		"apple.JPG":             ".jpg",
		"apple.jpeg":            ".jpg",
		"../../etc/passwd":      ".bin",
		"..\\..\\evil.png":      ".png",
		"photo.tif":             ".tiff",
		"noext":                 ".bin",
		"shell.php.png":         ".png",
		"archive.tar.gz":        ".bin",
		"/abs/path/banana.webp": ".webp",
		"":                      ".bin",
	}
	for in, want := range tests {
		assert.Equal(t, want, Ext(in), in)
	}
}

func TestSave(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "static")
	s, err := New(dir)
	require.NoError(t, err)
	assert.Equal(t, dir, s.Dir())

	id := uuid.New()
	path, err := s.Save(id, "../../../tmp/x.png", []byte("bytes"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, id.String()+".png"), path)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("bytes"), got)
}
