package updater

import (
	"archive/tar"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/razumnyak/infractl/config"
	"github.com/razumnyak/infractl/logger"
)

func TestComputeChecksumAndLookup(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "infractl-linux-amd64.tar.gz")
	require.NoError(t, os.WriteFile(path, []byte("release bytes"), 0o644))

	sum, err := ComputeChecksum(path)
	require.NoError(t, err)
	require.Len(t, sum, 64)

	manifest := []byte(
		"deadbeef  other-file\n" +
			sum + "  ./dist/infractl-linux-amd64.tar.gz\n",
	)

	got, ok := LookupChecksum(manifest, "infractl-linux-amd64.tar.gz")
	require.True(t, ok)
	assert.Equal(t, sum, got)

	_, ok = LookupChecksum(manifest, "missing.tar.gz")
	assert.False(t, ok)
}

func writeTarGz(t *testing.T, path string, files map[string][]byte) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)
	for name, content := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name: name,
			Mode: 0o755,
			Size: int64(len(content)),
		}))
		_, err = tw.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
}

func TestExtractBinary(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "release.tar.gz")
	writeTarGz(t, archive, map[string][]byte{
		"README.md":     []byte("docs"),
		"dist/infractl": []byte("#!/bin/sh\necho new binary\n"),
	})

	out, err := ExtractBinary(archive, "infractl", dir)
	require.NoError(t, err)

	content, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(content), "new binary")

	info, err := os.Stat(out)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())
}

func TestExtractBinaryMissing(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "release.tar.gz")
	writeTarGz(t, archive, map[string][]byte{"README.md": []byte("docs")})

	_, err := ExtractBinary(archive, "infractl", dir)
	require.Error(t, err)
}

func TestExtractBinaryRawPassthrough(t *testing.T) {
	dir := t.TempDir()
	raw := filepath.Join(dir, "infractl-linux-amd64")
	require.NoError(t, os.WriteFile(raw, []byte("raw"), 0o644))

	out, err := ExtractBinary(raw, "infractl", dir)
	require.NoError(t, err)
	assert.Equal(t, raw, out)
}

func TestSwapperReplaceAndPrune(t *testing.T) {
	dir := t.TempDir()
	binary := filepath.Join(dir, "infractl")
	require.NoError(t, os.WriteFile(binary, []byte("old"), 0o755))

	s := NewSwapper(binary, logger.Discard)

	for i, ver := range []string{"0.1.0", "0.2.0", "0.3.0", "0.4.0", "0.5.0"} {
		newBin := filepath.Join(dir, "new")
		require.NoError(t, os.WriteFile(newBin, []byte("v"+ver), 0o644))
		require.NoError(t, s.Replace(newBin, ver))

		content, err := os.ReadFile(binary)
		require.NoError(t, err)
		assert.Equal(t, "v"+ver, string(content), "swap %d", i)
	}

	entries, err := os.ReadDir(s.BackupDir)
	require.NoError(t, err)

	var backups []string
	for _, e := range entries {
		backups = append(backups, e.Name())
	}
	assert.Len(t, backups, keepBackups)

	info, err := os.Stat(binary)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())
}

func TestValidateConfigBytes(t *testing.T) {
	good := []byte("mode: agent\nauth:\n  jwt_secret: 0123456789abcdef0123456789abcdef\n")
	require.NoError(t, validateConfigBytes(good))

	assert.Error(t, validateConfigBytes([]byte("short")))
	assert.Error(t, validateConfigBytes([]byte("no mode here but definitely more than fifty bytes of text")))
	assert.Error(t, validateConfigBytes([]byte("mode: agent\n\t\tbad: [unclosed\n  - yaml that cannot parse: {{{{\n")))
}

func TestConfigSync(t *testing.T) {
	remote := "mode: agent\nauth:\n  jwt_secret: 0123456789abcdef0123456789abcdef\n"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(remote))
	}))
	defer srv.Close()

	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("mode: agent\nauth:\n  jwt_secret: oldsecretoldsecretoldsecretold00\n"), 0o600))

	c := NewConfigSync(srv.URL, configPath, true, logger.Discard)

	updated, err := c.Sync(context.Background())
	require.NoError(t, err)
	assert.True(t, updated)

	content, err := os.ReadFile(configPath)
	require.NoError(t, err)
	assert.Equal(t, remote, string(content))

	backups, err := os.ReadDir(filepath.Join(dir, ".config-backup"))
	require.NoError(t, err)
	require.Len(t, backups, 1)

	// Second sync is a no-op.
	updated, err = c.Sync(context.Background())
	require.NoError(t, err)
	assert.False(t, updated)
}

func TestConfigSyncRefusesInvalidRemote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("garbage"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	local := "mode: agent\nauth:\n  jwt_secret: 0123456789abcdef0123456789abcdef\n"
	require.NoError(t, os.WriteFile(configPath, []byte(local), 0o600))

	c := NewConfigSync(srv.URL, configPath, true, logger.Discard)
	_, err := c.Sync(context.Background())
	require.Error(t, err)

	// Local file untouched.
	content, err := os.ReadFile(configPath)
	require.NoError(t, err)
	assert.Equal(t, local, string(content))
}

func TestNeedsUpdate(t *testing.T) {
	newer, err := NeedsUpdate("0.4.0", "0.5.0")
	require.NoError(t, err)
	assert.True(t, newer)

	newer, err = NeedsUpdate("0.4.0", "0.4.0")
	require.NoError(t, err)
	assert.False(t, newer)

	newer, err = NeedsUpdate("0.4.0", "0.3.9")
	require.NoError(t, err)
	assert.False(t, newer)

	_, err = NeedsUpdate("0.4.0", "not-a-version")
	require.Error(t, err)
}

func TestReleaseAssetSelection(t *testing.T) {
	rel := &Release{
		TagName: "v0.5.0",
		Assets: []Asset{
			{Name: "infractl-darwin-arm64.tar.gz"},
			{Name: "infractl-linux-amd64.tar.gz"},
			{Name: "infractl-linux-arm64.tar.gz"},
			{Name: "SHA256SUMS"},
		},
	}

	assert.Equal(t, "0.5.0", rel.Version())

	sums, ok := rel.ChecksumAsset()
	require.True(t, ok)
	assert.Equal(t, "SHA256SUMS", sums.Name)
}

// A periodic check that installs a new binary must restart the process;
// the fresh binary does nothing until it replaces the running one.
func TestRunRestartsAfterSelfUpdate(t *testing.T) {
	var mu sync.Mutex
	restarts := 0

	u := &Updater{
		Config: config.UpdatesConfig{
			Enabled: true,
			SelfUpdate: config.SelfUpdateConfig{
				Enabled:       true,
				CheckInterval: "10ms",
			},
		},
		Logger: logger.Discard,
		SelfUpdateFn: func(ctx context.Context, force bool) (bool, error) {
			return true, nil
		},
		RestartFn: func(logger.Logger) error {
			mu.Lock()
			restarts++
			mu.Unlock()
			return nil
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		u.Run(ctx)
	}()

	deadline := time.Now().Add(5 * time.Second)
	for {
		mu.Lock()
		n := restarts
		mu.Unlock()
		if n >= 1 {
			break
		}
		if time.Now().After(deadline) {
			cancel()
			<-done
			t.Fatal("updater never restarted after installing")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done
}

func TestSelfUpdateAlreadyCurrent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/repos/acme/infractl/releases/latest", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"tag_name": "v0.0.1", "assets": []}`))
	}))
	defer srv.Close()

	u := &Updater{
		GitHub: &GitHub{Repo: "acme/infractl", BaseURL: srv.URL, Client: srv.Client(), Logger: logger.Discard},
		Logger: logger.Discard,
	}

	installed, err := u.SelfUpdate(context.Background(), false)
	require.NoError(t, err)
	assert.False(t, installed)

	state := u.State()
	assert.Equal(t, "0.0.1", state.LatestVersion)
	assert.False(t, state.UpdateAvailable)
	assert.Empty(t, state.LastError)
	assert.False(t, state.LastCheck.IsZero())
}
