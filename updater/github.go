// Package updater keeps the binary and the config file current. Updates
// are downloaded from GitHub releases, checksum-verified, swapped in with
// a backup, and rolled back when anything goes wrong.
package updater

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/buildkite/roko"
	"github.com/dustin/go-humanize"

	"github.com/razumnyak/infractl/logger"
	"github.com/razumnyak/infractl/version"
)

// Release is the subset of the GitHub release payload the updater needs.
type Release struct {
	TagName    string  `json:"tag_name"`
	Prerelease bool    `json:"prerelease"`
	Assets     []Asset `json:"assets"`
}

type Asset struct {
	Name               string `json:"name"`
	Size               int64  `json:"size"`
	BrowserDownloadURL string `json:"browser_download_url"`
}

// Version strips the leading v from the tag.
func (r *Release) Version() string {
	return strings.TrimPrefix(r.TagName, "v")
}

// BinaryAsset finds the release asset built for this platform.
func (r *Release) BinaryAsset() (Asset, bool) {
	needle := runtime.GOOS + "-" + runtime.GOARCH
	alt := runtime.GOOS + "_" + runtime.GOARCH
	for _, a := range r.Assets {
		name := strings.ToLower(a.Name)
		if strings.Contains(name, needle) || strings.Contains(name, alt) {
			return a, true
		}
	}
	return Asset{}, false
}

// ChecksumAsset finds the checksum manifest, whatever the release called
// it.
func (r *Release) ChecksumAsset() (Asset, bool) {
	for _, a := range r.Assets {
		switch strings.ToLower(a.Name) {
		case "sha256sums", "sha256sums.txt", "checksums.txt", "checksums.sha256":
			return a, true
		}
	}
	return Asset{}, false
}

// GitHub fetches releases for one repository.
type GitHub struct {
	Repo    string
	BaseURL string
	Client  *http.Client
	Logger  logger.Logger
}

func NewGitHub(repo string, log logger.Logger) *GitHub {
	return &GitHub{
		Repo:    repo,
		BaseURL: "https://api.github.com",
		Client:  &http.Client{Timeout: 30 * time.Second},
		Logger:  log,
	}
}

// LatestRelease returns the newest release. When prereleases are allowed
// the release list is consulted instead of the latest endpoint, which only
// ever reports stable releases.
func (g *GitHub) LatestRelease(ctx context.Context, prerelease bool) (*Release, error) {
	if !prerelease {
		var rel Release
		if err := g.getJSON(ctx, fmt.Sprintf("%s/repos/%s/releases/latest", g.BaseURL, g.Repo), &rel); err != nil {
			return nil, err
		}
		return &rel, nil
	}

	var rels []Release
	if err := g.getJSON(ctx, fmt.Sprintf("%s/repos/%s/releases?per_page=10", g.BaseURL, g.Repo), &rels); err != nil {
		return nil, err
	}
	if len(rels) == 0 {
		return nil, fmt.Errorf("repository %s has no releases", g.Repo)
	}
	return &rels[0], nil
}

func (g *GitHub) getJSON(ctx context.Context, url string, out any) error {
	r := roko.NewRetrier(
		roko.WithMaxAttempts(3),
		roko.WithStrategy(roko.Constant(5*time.Second)),
	)
	return r.DoWithContext(ctx, func(rt *roko.Retrier) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			rt.Break()
			return err
		}
		req.Header.Set("Accept", "application/vnd.github+json")
		req.Header.Set("User-Agent", version.UserAgent())

		resp, err := g.Client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusNotFound {
			rt.Break()
			return fmt.Errorf("%s returned 404", url)
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("%s returned %d", url, resp.StatusCode)
		}
		return json.NewDecoder(resp.Body).Decode(out)
	})
}

// Download fetches an asset into a local file.
func (g *GitHub) Download(ctx context.Context, asset Asset, dest string) error {
	g.Logger.Info("Downloading %s (%s)", asset.Name, humanize.Bytes(uint64(asset.Size)))

	r := roko.NewRetrier(
		roko.WithMaxAttempts(3),
		roko.WithStrategy(roko.Constant(5*time.Second)),
	)
	return r.DoWithContext(ctx, func(rt *roko.Retrier) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, asset.BrowserDownloadURL, nil)
		if err != nil {
			rt.Break()
			return err
		}
		req.Header.Set("User-Agent", version.UserAgent())

		resp, err := g.Client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("downloading %s: status %d", asset.Name, resp.StatusCode)
		}

		f, err := os.Create(dest)
		if err != nil {
			rt.Break()
			return err
		}
		defer f.Close()

		if _, err := io.Copy(f, resp.Body); err != nil {
			return err
		}
		return nil
	})
}
