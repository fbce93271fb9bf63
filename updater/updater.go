package updater

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/razumnyak/infractl/config"
	"github.com/razumnyak/infractl/infraerr"
	"github.com/razumnyak/infractl/logger"
	"github.com/razumnyak/infractl/version"
)

// Updater runs the self-update and config-sync loops.
type Updater struct {
	Config     config.UpdatesConfig
	ConfigPath string
	GitHub     *GitHub
	Sync       *ConfigSync
	Logger     logger.Logger

	// RestartFn and SelfUpdateFn are swapped out in tests.
	RestartFn    func(logger.Logger) error
	SelfUpdateFn func(ctx context.Context, force bool) (bool, error)

	mu    sync.Mutex
	state State
}

// State is the outcome of the most recent update check.
type State struct {
	LastCheck       time.Time `json:"last_check,omitzero"`
	LatestVersion   string    `json:"latest_version,omitempty"`
	UpdateAvailable bool      `json:"update_available"`
	LastError       string    `json:"last_error,omitempty"`
}

// State returns a copy of the last check's outcome.
func (u *Updater) State() State {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.state
}

func (u *Updater) recordCheck(latest string, available bool, err error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.state = State{LastCheck: time.Now(), LatestVersion: latest, UpdateAvailable: available}
	if err != nil {
		u.state.LastError = err.Error()
	}
}

func New(cfg config.UpdatesConfig, configPath string, log logger.Logger) *Updater {
	u := &Updater{
		Config:     cfg,
		ConfigPath: configPath,
		Logger:     log.WithPrefix("updater"),
		RestartFn:  Restart,
	}
	if cfg.SelfUpdate.Enabled {
		u.GitHub = NewGitHub(cfg.SelfUpdate.GithubRepo, u.Logger)
	}
	if cfg.ConfigUpdate.Enabled {
		u.Sync = NewConfigSync(cfg.ConfigUpdate.GithubRawURL, configPath, cfg.ConfigUpdate.BackupEnabled(), u.Logger)
	}
	return u
}

// Run ticks both update loops until the context ends.
func (u *Updater) Run(ctx context.Context) {
	if !u.Config.Enabled {
		return
	}

	var selfCh, syncCh <-chan time.Time

	selfUpdate := u.SelfUpdateFn
	if selfUpdate == nil {
		selfUpdate = u.SelfUpdate
	}

	if u.Config.SelfUpdate.Enabled {
		interval, err := config.ParseDuration(u.Config.SelfUpdate.CheckInterval)
		if err != nil || interval <= 0 {
			interval = 6 * time.Hour
		}
		t := time.NewTicker(interval)
		defer t.Stop()
		selfCh = t.C
	}
	if u.Config.ConfigUpdate.Enabled {
		interval, err := config.ParseDuration(u.Config.ConfigUpdate.CheckInterval)
		if err != nil || interval <= 0 {
			interval = time.Hour
		}
		t := time.NewTicker(interval)
		defer t.Stop()
		syncCh = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-selfCh:
			installed, err := selfUpdate(ctx, false)
			if err != nil {
				u.Logger.Error("Self-update failed: %v", err)
				break
			}
			if installed {
				u.Logger.Notice("New binary installed, restarting to apply")
				if err := u.RestartFn(u.Logger); err != nil {
					u.Logger.Error("Restart failed: %v", err)
				}
			}
		case <-syncCh:
			updated, err := u.Sync.Sync(ctx)
			if err != nil {
				u.Logger.Error("Config sync failed: %v", err)
			} else if updated {
				u.Logger.Notice("Config changed on disk, restarting to apply")
				if err := u.RestartFn(u.Logger); err != nil {
					u.Logger.Error("Restart failed: %v", err)
				}
			}
		}
	}
}

// NeedsUpdate compares two semantic versions.
func NeedsUpdate(current, latest string) (bool, error) {
	cur, err := semver.NewVersion(current)
	if err != nil {
		return false, fmt.Errorf("parsing current version %q: %w", current, err)
	}
	next, err := semver.NewVersion(latest)
	if err != nil {
		return false, fmt.Errorf("parsing latest version %q: %w", latest, err)
	}
	return next.GreaterThan(cur), nil
}

// SelfUpdate checks GitHub for a newer release and installs it. With force
// set the version comparison is skipped. It reports whether a new binary
// was installed; the caller decides when to restart.
func (u *Updater) SelfUpdate(ctx context.Context, force bool) (bool, error) {
	if u.GitHub == nil {
		return false, infraerr.NewUpdateError("self-update", fmt.Errorf("not configured"))
	}

	rel, err := u.GitHub.LatestRelease(ctx, u.Config.SelfUpdate.Prerelease)
	if err != nil {
		err = infraerr.NewUpdateError("fetching latest release", err)
		u.recordCheck("", false, err)
		return false, err
	}

	current := version.Version()
	if !force {
		newer, err := NeedsUpdate(current, rel.Version())
		if err != nil {
			err = infraerr.NewUpdateError("comparing versions", err)
			u.recordCheck(rel.Version(), false, err)
			return false, err
		}
		u.recordCheck(rel.Version(), newer, nil)
		if !newer {
			u.Logger.Debug("Already on %s, latest is %s", current, rel.Version())
			return false, nil
		}
	} else {
		u.recordCheck(rel.Version(), true, nil)
	}
	u.Logger.Notice("Updating %s -> %s", current, rel.Version())

	asset, ok := rel.BinaryAsset()
	if !ok {
		return false, infraerr.NewUpdateError("selecting asset", fmt.Errorf("release %s has no asset for this platform", rel.TagName))
	}

	workDir, err := os.MkdirTemp("", "infractl-update-*")
	if err != nil {
		return false, infraerr.NewUpdateError("creating work dir", err)
	}
	defer os.RemoveAll(workDir)

	archive := filepath.Join(workDir, asset.Name)
	if err := u.GitHub.Download(ctx, asset, archive); err != nil {
		return false, infraerr.NewUpdateError("downloading release", err)
	}

	if sums, ok := rel.ChecksumAsset(); ok {
		manifestPath := filepath.Join(workDir, sums.Name)
		if err := u.GitHub.Download(ctx, sums, manifestPath); err != nil {
			return false, infraerr.NewUpdateError("downloading checksums", err)
		}
		manifest, err := os.ReadFile(manifestPath)
		if err != nil {
			return false, infraerr.NewUpdateError("reading checksums", err)
		}
		want, ok := LookupChecksum(manifest, asset.Name)
		if !ok {
			return false, infraerr.NewUpdateError("verifying checksum", fmt.Errorf("manifest has no entry for %s", asset.Name))
		}
		got, err := ComputeChecksum(archive)
		if err != nil {
			return false, infraerr.NewUpdateError("hashing download", err)
		}
		if got != want {
			return false, infraerr.NewUpdateError("verifying checksum", fmt.Errorf("checksum mismatch: got %s, want %s", got, want))
		}
		u.Logger.Debug("Checksum verified")
	} else {
		u.Logger.Warn("Release %s publishes no checksums, installing unverified", rel.TagName)
	}

	binary, err := ExtractBinary(archive, "infractl", workDir)
	if err != nil {
		return false, infraerr.NewUpdateError("extracting binary", err)
	}

	self, err := os.Executable()
	if err != nil {
		return false, infraerr.NewUpdateError("locating current binary", err)
	}

	if err := NewSwapper(self, u.Logger).Replace(binary, current); err != nil {
		return false, err
	}

	u.Logger.Notice("Installed %s", rel.Version())
	return true, nil
}
