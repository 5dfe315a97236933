package media

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/computeruse/agentd/internal/common/config"
	"github.com/computeruse/agentd/internal/common/logger"
)

func setupStore(t *testing.T) *Store {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "text"})
	require.NoError(t, err)
	store, err := New(config.MediaConfig{Dir: t.TempDir(), BaseURL: "/media/"}, log)
	require.NoError(t, err)
	return store
}

func TestSavePNG(t *testing.T) {
	store := setupStore(t)

	payload := []byte("fake png bytes")
	ref, err := store.SavePNG(base64.StdEncoding.EncodeToString(payload))
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(ref.URL, "/media/"), "url %q missing base prefix", ref.URL)
	assert.True(t, strings.HasSuffix(ref.URL, ".png"))

	sum := sha256.Sum256(payload)
	assert.Equal(t, hex.EncodeToString(sum[:]), ref.Hash)

	written, err := os.ReadFile(ref.Path)
	require.NoError(t, err)
	assert.Equal(t, payload, written)
}

func TestSavePNG_InvalidBase64(t *testing.T) {
	store := setupStore(t)

	_, err := store.SavePNG("not base64!!!")
	assert.Error(t, err)
}

func TestSavePNG_UniqueNames(t *testing.T) {
	store := setupStore(t)
	b64 := base64.StdEncoding.EncodeToString([]byte("same bytes"))

	first, err := store.SavePNG(b64)
	require.NoError(t, err)
	second, err := store.SavePNG(b64)
	require.NoError(t, err)

	assert.NotEqual(t, first.URL, second.URL, "identical content still gets distinct names")
	assert.Equal(t, first.Hash, second.Hash)
}
