package clients

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/lightcast/ingest-api/config"
	xerrors "github.com/lightcast/ingest-api/errors"
	"github.com/lightcast/ingest-api/log"
)

// FetchYtDlp downloads a page URL through yt-dlp, letting it pick the best
// video+audio format. yt-dlp decides the container extension, so we ask it to
// print the final path and rename onto the target afterwards.
func FetchYtDlp(ctx context.Context, jobID, source, destPath string) error {
	binary, err := exec.LookPath(config.YtDlpPath)
	if err != nil {
		return xerrors.Dependency("%s not found on PATH: %v", config.YtDlpPath, err)
	}

	outputTemplate := destPath + ".%(ext)s"
	args := []string{
		"--no-playlist",
		"-f", "bv*+ba/b",
		"-o", outputTemplate,
		"--print", "after_move:filepath",
		source,
	}

	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Stdin = nil
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return xerrors.Dependency("yt-dlp failed: %v", err)
	}

	produced := lastNonEmptyLine(stdout.String())
	if produced == "" {
		return xerrors.Transcode("yt-dlp did not report an output path")
	}
	if !filepath.IsAbs(produced) {
		produced = filepath.Join(filepath.Dir(destPath), produced)
	}
	if produced == destPath {
		return nil
	}
	log.Log(jobID, "adopting yt-dlp output", "produced", produced, "target", destPath)
	if err := os.Rename(produced, destPath); err != nil {
		return xerrors.Transcode("error adopting yt-dlp output: %v", err)
	}
	return nil
}

func lastNonEmptyLine(s string) string {
	lines := strings.Split(s, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}
