package updater

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/razumnyak/infractl/infraerr"
	"github.com/razumnyak/infractl/logger"
	"github.com/razumnyak/infractl/version"
)

const keepConfigBackups = 5

// ConfigSync pulls the config file from a raw URL and replaces the local
// one when the content changes and passes validation.
type ConfigSync struct {
	URL        string
	ConfigPath string
	Backup     bool
	Client     *http.Client
	Logger     logger.Logger
}

func NewConfigSync(url, configPath string, backup bool, log logger.Logger) *ConfigSync {
	return &ConfigSync{
		URL:        url,
		ConfigPath: configPath,
		Backup:     backup,
		Client:     &http.Client{Timeout: 30 * time.Second},
		Logger:     log,
	}
}

// Sync fetches the remote config and applies it if different. It reports
// whether the local file changed.
func (c *ConfigSync) Sync(ctx context.Context) (bool, error) {
	remote, err := c.fetch(ctx)
	if err != nil {
		return false, infraerr.NewUpdateError("fetching remote config", err)
	}

	local, err := os.ReadFile(c.ConfigPath)
	if err != nil && !os.IsNotExist(err) {
		return false, infraerr.NewUpdateError("reading local config", err)
	}

	if sha256.Sum256(remote) == sha256.Sum256(local) {
		c.Logger.Debug("Remote config matches local, nothing to do")
		return false, nil
	}

	if err := validateConfigBytes(remote); err != nil {
		return false, infraerr.NewUpdateError("validating remote config", err)
	}

	if c.Backup && len(local) > 0 {
		if err := c.backupLocal(local); err != nil {
			return false, err
		}
	}

	tmp := c.ConfigPath + ".new"
	if err := os.WriteFile(tmp, remote, 0o600); err != nil {
		return false, infraerr.NewUpdateError("writing new config", err)
	}
	if err := os.Rename(tmp, c.ConfigPath); err != nil {
		return false, infraerr.NewUpdateError("replacing config", err)
	}

	c.Logger.Notice("Config updated from %s", c.URL)
	return true, nil
}

func (c *ConfigSync) fetch(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s returned %d", c.URL, resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 1<<20))
}

// validateConfigBytes sanity-checks a candidate config before it replaces
// the local file. A truncated download must never brick the service.
func validateConfigBytes(data []byte) error {
	if len(data) < 50 {
		return fmt.Errorf("config is only %d bytes, refusing", len(data))
	}
	if !strings.Contains(string(data), "mode:") {
		return fmt.Errorf("config has no mode field, refusing")
	}
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("config is not valid YAML: %w", err)
	}
	return nil
}

func (c *ConfigSync) backupLocal(local []byte) error {
	dir := filepath.Join(filepath.Dir(c.ConfigPath), ".config-backup")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return infraerr.NewUpdateError("creating config backup dir", err)
	}

	name := fmt.Sprintf("config-%d.yaml", time.Now().UnixNano())
	if err := os.WriteFile(filepath.Join(dir, name), local, 0o600); err != nil {
		return infraerr.NewUpdateError("backing up config", err)
	}

	c.pruneBackups(dir)
	return nil
}

func (c *ConfigSync) pruneBackups(dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), "config-") {
			names = append(names, e.Name())
		}
	}
	if len(names) <= keepConfigBackups {
		return
	}

	sort.Slice(names, func(i, j int) bool {
		fi, _ := os.Stat(filepath.Join(dir, names[i]))
		fj, _ := os.Stat(filepath.Join(dir, names[j]))
		if fi == nil || fj == nil {
			return names[i] < names[j]
		}
		return fi.ModTime().Before(fj.ModTime())
	})

	for _, name := range names[:len(names)-keepConfigBackups] {
		if err := os.Remove(filepath.Join(dir, name)); err != nil {
			c.Logger.Warn("Removing old config backup %s: %v", name, err)
		}
	}
}
