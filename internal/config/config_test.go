package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	for _, k := range []string{
		"PORT", "MODEL_PATH", "MODEL_METADATA", "ONNX_LIB", "INTERPOLATION", "REQUEST_TIMEOUT",
		"UPLOAD_DIR", "DATABASE_URL", "TELEGRAM_BOT_TOKEN", "TFLITE_THREADS", "MAX_IMAGE_PIXELS",
		"MAX_UPLOAD_BYTES", "HISTORY_RETENTION",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, ":8080", cfg.Addr())
	assert.Equal(t, "models/fruit_classifier.onnx", cfg.ModelPath)
	assert.Equal(t, "nearest", cfg.Interpolation)
	assert.EqualValues(t, 10<<20, cfg.MaxUploadBytes)

	d, err := cfg.Timeout()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, d)
}

func TestLoadFileThenEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "freshness.toml")
	body := `
port = "9000"
model_path = "/srv/models/fruit.tflite"
interpolation = "bilinear"
request_timeout = "5s"
upload_dir = "/tmp/uploads"
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	t.Setenv("PORT", "7000")
	t.Setenv("TFLITE_THREADS", "4")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "7000", cfg.Port)
	assert.Equal(t, "/srv/models/fruit.tflite", cfg.ModelPath)
	assert.Equal(t, "bilinear", cfg.Interpolation)
	assert.Equal(t, "/tmp/uploads", cfg.UploadDir)
	assert.Equal(t, 4, cfg.TFLiteThreads)
	assert.Equal(t, "models/model_metadata.json", cfg.MetadataPath)

	d, err := cfg.Timeout()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, d)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultPort, cfg.Port)
}

func TestLoadInvalid(t *testing.T) {
	tests := map[string]map[string]string{
		"bad timeout":    {"REQUEST_TIMEOUT": "soon"},
		"zero timeout":   {"REQUEST_TIMEOUT": "0s"},
		"bad threads":    {"TFLITE_THREADS": "many"},
		"negative limit": {"MAX_UPLOAD_BYTES": "-1"},
		"bad retention":  {"HISTORY_RETENTION": "a week"},
	}
	for name, env := range tests {
		t.Run(name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := Load("")
			assert.Error(t, err)
		})
	}
}

func TestLoadBrokenFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "broken.toml")
	require.NoError(t, os.WriteFile(path, []byte("port = "), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestRetention(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	require.NoError(t, err)
	d, err := cfg.Retention()
	require.NoError(t, err)
	assert.Zero(t, d)

	t.Setenv("HISTORY_RETENTION", "720h")
	cfg, err = Load("")
	require.NoError(t, err)
	d, err = cfg.Retention()
	require.NoError(t, err)
	assert.Equal(t, 720*time.Hour, d)
}
