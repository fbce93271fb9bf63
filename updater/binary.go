package updater

import (
	"archive/tar"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/klauspost/compress/gzip"

	"github.com/razumnyak/infractl/infraerr"
	"github.com/razumnyak/infractl/logger"
)

const keepBackups = 3

// ComputeChecksum returns the hex SHA-256 of a file.
func ComputeChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// LookupChecksum finds the expected hash for a file name in a
// "hash  name" manifest. Paths in the manifest are matched by base name.
func LookupChecksum(manifest []byte, name string) (string, bool) {
	for _, line := range strings.Split(string(manifest), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		entry := strings.TrimPrefix(fields[1], "*")
		if filepath.Base(entry) == name {
			return strings.ToLower(fields[0]), true
		}
	}
	return "", false
}

// ExtractBinary pulls the named binary out of a downloaded asset. A
// .tar.gz or .tgz archive is unpacked; anything else is assumed to be the
// raw binary and is returned as-is.
func ExtractBinary(archivePath, binaryName, destDir string) (string, error) {
	if !strings.HasSuffix(archivePath, ".tar.gz") && !strings.HasSuffix(archivePath, ".tgz") {
		return archivePath, nil
	}

	f, err := os.Open(archivePath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return "", fmt.Errorf("opening archive: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("reading archive: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg || filepath.Base(hdr.Name) != binaryName {
			continue
		}

		dest := filepath.Join(destDir, binaryName)
		out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o755)
		if err != nil {
			return "", err
		}
		if _, err := io.Copy(out, tr); err != nil {
			out.Close()
			return "", err
		}
		if err := out.Close(); err != nil {
			return "", err
		}
		return dest, nil
	}
	return "", fmt.Errorf("archive does not contain %s", binaryName)
}

// Swapper replaces the running binary on disk.
type Swapper struct {
	BinaryPath string
	BackupDir  string
	Logger     logger.Logger
}

func NewSwapper(binaryPath string, log logger.Logger) *Swapper {
	return &Swapper{
		BinaryPath: binaryPath,
		BackupDir:  filepath.Join(filepath.Dir(binaryPath), ".infractl-backup"),
		Logger:     log,
	}
}

// Replace swaps the binary at BinaryPath with newBinary. The current
// binary is backed up first; if the final rename fails the backup is
// restored so the host is never left without a working binary. A file lock
// serializes concurrent updaters.
func (s *Swapper) Replace(newBinary, oldVersion string) error {
	lock := flock.New(s.BinaryPath + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return infraerr.NewUpdateError("acquiring update lock", err)
	}
	if !locked {
		return infraerr.NewUpdateError("acquiring update lock", fmt.Errorf("another update is in progress"))
	}
	defer lock.Unlock()

	if err := os.MkdirAll(s.BackupDir, 0o755); err != nil {
		return infraerr.NewUpdateError("creating backup dir", err)
	}

	backupPath := filepath.Join(s.BackupDir, fmt.Sprintf("infractl-%s-%d", oldVersion, time.Now().UnixNano()))
	if err := copyPath(s.BinaryPath, backupPath, 0o755); err != nil {
		return infraerr.NewUpdateError("backing up current binary", err)
	}

	if err := os.Chmod(newBinary, 0o755); err != nil {
		return infraerr.NewUpdateError("marking new binary executable", err)
	}

	// Rename is atomic on the same filesystem. Stage the new binary next
	// to the target first.
	staged := s.BinaryPath + ".new"
	if err := copyPath(newBinary, staged, 0o755); err != nil {
		return infraerr.NewUpdateError("staging new binary", err)
	}

	if err := os.Rename(staged, s.BinaryPath); err != nil {
		s.Logger.Error("Swapping binary failed, restoring backup: %v", err)
		if restoreErr := copyPath(backupPath, s.BinaryPath, 0o755); restoreErr != nil {
			return infraerr.NewUpdateError("restoring backup after failed swap", restoreErr)
		}
		return infraerr.NewUpdateError("swapping binary", err)
	}

	s.pruneBackups()
	return nil
}

// pruneBackups keeps the newest backups and removes the rest.
func (s *Swapper) pruneBackups() {
	entries, err := os.ReadDir(s.BackupDir)
	if err != nil {
		return
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), "infractl-") {
			names = append(names, e.Name())
		}
	}
	if len(names) <= keepBackups {
		return
	}

	// The trailing unix timestamp makes lexical order chronological for
	// same-length names; sort by mtime to be safe.
	sort.Slice(names, func(i, j int) bool {
		fi, _ := os.Stat(filepath.Join(s.BackupDir, names[i]))
		fj, _ := os.Stat(filepath.Join(s.BackupDir, names[j]))
		if fi == nil || fj == nil {
			return names[i] < names[j]
		}
		return fi.ModTime().Before(fj.ModTime())
	})

	for _, name := range names[:len(names)-keepBackups] {
		path := filepath.Join(s.BackupDir, name)
		if err := os.Remove(path); err != nil {
			s.Logger.Warn("Removing old backup %s: %v", path, err)
		} else {
			s.Logger.Debug("Removed old backup %s", path)
		}
	}
}

func copyPath(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
