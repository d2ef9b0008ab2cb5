package clients

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/lightcast/ingest-api/config"
	xerrors "github.com/lightcast/ingest-api/errors"
	"github.com/lightcast/ingest-api/log"
	"github.com/lightcast/ingest-api/subprocess"
)

// Flags contractual to the aria2 invocation: overwrite in place, never seed,
// drop torrent metadata, and keep the summary ticker quiet.
var aria2BaseArgs = []string{
	"--allow-overwrite=true",
	"--auto-file-renaming=false",
	"--summary-interval=0",
	"--seed-time=0",
	"--bt-seed-until=0",
	"--bt-stop-timeout=0",
	"--bt-remove-unselected-file=true",
	"--bt-save-metadata=false",
}

func isTorrentSource(source string) bool {
	lower := strings.ToLower(source)
	return strings.HasPrefix(lower, "magnet:") || strings.HasSuffix(lower, ".torrent")
}

// FetchAria2 shells out to aria2 for FTP, torrent and magnet sources. aria2
// picks its own output name for torrent content, so we snapshot the
// destination directory and adopt the single new file if the target does not
// appear under its requested name.
func FetchAria2(ctx context.Context, jobID, source, destPath string) error {
	binary, err := exec.LookPath(config.Aria2Path)
	if err != nil {
		return xerrors.Dependency("%s not found on PATH: %v", config.Aria2Path, err)
	}

	destDir := filepath.Dir(destPath)
	before, err := snapshotDir(destDir)
	if err != nil {
		return err
	}

	args := append([]string{}, aria2BaseArgs...)
	args = append(args, "--dir", destDir)
	if !isTorrentSource(source) {
		args = append(args, "--out", filepath.Base(destPath))
	}
	args = append(args, source)

	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Stdin = nil
	if err := subprocess.LogOutputs(cmd); err != nil {
		return xerrors.Dependency("error piping aria2 output: %v", err)
	}
	if err := cmd.Start(); err != nil {
		return xerrors.Dependency("error starting aria2: %v", err)
	}
	if err := cmd.Wait(); err != nil {
		return xerrors.Dependency("aria2 failed: %v", err)
	}

	if _, err := os.Stat(destPath); err == nil {
		return nil
	}

	after, err := snapshotDir(destDir)
	if err != nil {
		return err
	}
	var created []string
	for name := range after {
		if !before[name] {
			created = append(created, name)
		}
	}
	if len(created) != 1 {
		return xerrors.Transcode("aria2 produced %d new files in %s, expected exactly 1", len(created), destDir)
	}
	produced := filepath.Join(destDir, created[0])
	log.Log(jobID, "adopting aria2 output", "produced", produced, "target", destPath)
	if err := os.Rename(produced, destPath); err != nil {
		return xerrors.Transcode("error adopting aria2 output: %v", err)
	}
	return nil
}

// snapshotDir returns the names of regular files currently in dir.
func snapshotDir(dir string) (map[string]bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make(map[string]bool, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() {
			names[e.Name()] = true
		}
	}
	return names, nil
}
