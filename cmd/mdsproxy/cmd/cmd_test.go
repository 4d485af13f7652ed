package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iderikon/mediastorage-proxy/pkg/auth"
	"github.com/iderikon/mediastorage-proxy/pkg/client"
	"github.com/iderikon/mediastorage-proxy/pkg/config"
	"github.com/iderikon/mediastorage-proxy/pkg/logging"
	"github.com/iderikon/mediastorage-proxy/pkg/models"
	"github.com/iderikon/mediastorage-proxy/pkg/server"
	"github.com/iderikon/mediastorage-proxy/pkg/store"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeTestConfig(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "meta.db")
	cfgPath := filepath.Join(dir, "mdsproxy.yaml")

	content := fmt.Sprintf(`
storage:
  backend: memory
database:
  type: sqlite
  dsn: %q
auth:
  api_keys: ["top-secret"]
namespaces:
  - name: media
`, dbPath)
	require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0o644))
	return cfgPath, dbPath
}

func TestConfigShowMasksKeys(t *testing.T) {
	cfgPath, _ := writeTestConfig(t)

	out, err := execute(t, "config", "show", "--config", cfgPath)
	require.NoError(t, err)
	assert.NotContains(t, out, "top-secret")
	assert.Contains(t, out, "********")
	assert.Contains(t, out, "name: media")

	out, err = execute(t, "config", "validate", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "configuration OK")
}

func TestObjectsCommands(t *testing.T) {
	cfgPath, dbPath := writeTestConfig(t)

	s, err := store.NewSQLiteStore(dbPath)
	require.NoError(t, err)
	for i, key := range []string{"a.jpg", "b.jpg"} {
		_, err := s.PutObject(context.Background(), &models.Object{
			ID:        fmt.Sprintf("id-%d", i),
			Namespace: "media",
			Key:       key,
			Size:      int64(2048 * (i + 1)),
			Checksum:  strings.Repeat("ab", 32),
		}, true)
		require.NoError(t, err)
	}
	require.NoError(t, s.Close())

	out, err := execute(t, "objects", "list", "media", "-o", "json", "--config", cfgPath)
	require.NoError(t, err)
	var objects []models.Object
	require.NoError(t, json.Unmarshal([]byte(out), &objects), out)
	assert.Len(t, objects, 2)

	out, err = execute(t, "objects", "stats", "-o", "table", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Total: 2 objects, 6.0 KiB")

	out, err = execute(t, "objects", "stats", "-o", "prom", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, `mdsproxy_objects{namespace="media"} 2`)
}

func TestKeysHash(t *testing.T) {
	out, err := execute(t, "keys", "hash", "client-key")
	require.NoError(t, err)

	hash := strings.TrimSpace(out)
	assert.NoError(t, auth.NewVerifier(hash).Verify("client-key"))
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 B", formatBytes(512))
	assert.Equal(t, "1.5 KiB", formatBytes(1536))
	assert.Equal(t, "2.0 MiB", formatBytes(2<<20))
}

func TestClientCommands(t *testing.T) {
	cfgPath, _ := writeTestConfig(t)
	cfg, err := config.Load(cfgPath)
	require.NoError(t, err)
	cfg.Database.Type = "memory"

	s, err := server.New(context.Background(), cfg, logging.Discard())
	require.NoError(t, err)
	defer s.Close()
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	file := filepath.Join(t.TempDir(), "note.json")
	require.NoError(t, os.WriteFile(file, []byte(`[1,2,3]`), 0o644))

	out, err := execute(t, "client", "upload", "media", "note", file, "--server", srv.URL, "--api-key", "top-secret")
	require.NoError(t, err, out)
	var result models.UploadResult
	require.NoError(t, json.Unmarshal([]byte(out), &result), out)
	assert.Equal(t, int64(7), result.Size)

	out, err = execute(t, "client", "download", "media", "note")
	require.NoError(t, err)
	assert.Equal(t, `[1,2,3]`, out)

	out, err = execute(t, "client", "info", "media", "note")
	require.NoError(t, err)
	assert.Contains(t, out, `"content_type": "application/json"`)

	_, err = execute(t, "client", "delete", "media", "note")
	require.NoError(t, err)

	_, err = execute(t, "client", "info", "media", "note")
	assert.True(t, client.IsNotFound(err), "got %v", err)
}
