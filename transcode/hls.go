package transcode

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/grafov/m3u8"
	"github.com/lightcast/ingest-api/config"
	xerrors "github.com/lightcast/ingest-api/errors"
	"github.com/lightcast/ingest-api/storage"
	"github.com/lightcast/ingest-api/video"
)

// GenerateHLS produces the fMP4 HLS ladder for a progressive input: variant
// playlists stream_%v.m3u8 plus an index.m3u8 master, copied to master.m3u8
// once it parses.
func GenerateHLS(ctx context.Context, jobID, input, destDir string, ladder []video.Rendition, hasAudio bool) error {
	if err := purgeAndRecreate(destDir); err != nil {
		return err
	}

	args := ladderEncodeArgs(input, ladder, hasAudio)
	args = append(args,
		"-f", "hls",
		"-hls_time", "4",
		"-hls_playlist_type", "event",
		"-hls_segment_type", "fmp4",
		"-hls_flags", "independent_segments+append_list+omit_endlist",
		"-hls_fmp4_init_filename", "init_%v.m4s",
		"-hls_segment_filename", filepath.Join(destDir, "segment_%v_%05d.m4s"),
		"-master_pl_name", storage.HLSIndexName,
		"-var_stream_map", hlsVarStreamMap(ladder, hasAudio),
		filepath.Join(destDir, "stream_%v.m3u8"),
	)
	if err := runMediaTool(ctx, args); err != nil {
		return err
	}

	indexPath := filepath.Join(destDir, storage.HLSIndexName)
	if err := verifyMasterPlaylist(indexPath); err != nil {
		return err
	}
	return copyFile(indexPath, filepath.Join(destDir, storage.HLSMasterName))
}

// verifyMasterPlaylist decodes the generated playlist and requires it to be
// a master, catching a tool that silently produced a media playlist.
func verifyMasterPlaylist(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return xerrors.Transcode("hls master playlist missing: %v", err)
	}
	defer f.Close()
	playlist, playlistType, err := m3u8.DecodeFrom(f, true)
	if err != nil {
		return xerrors.Transcode("error decoding hls master playlist: %v", err)
	}
	if playlistType != m3u8.MASTER {
		return xerrors.Transcode("generated hls playlist is not a master playlist")
	}
	if master, ok := playlist.(*m3u8.MasterPlaylist); !ok || len(master.Variants) == 0 {
		return xerrors.Transcode("generated hls master playlist has no variants")
	}
	return nil
}

func purgeAndRecreate(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return err
	}
	return os.MkdirAll(dir, 0755)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}

// runMediaTool runs one ladder encode, capturing stderr for diagnostics.
func runMediaTool(ctx context.Context, args []string) error {
	binary, err := exec.LookPath(config.FFmpegPath)
	if err != nil {
		return xerrors.Dependency("%s not found on PATH: %v", config.FFmpegPath, err)
	}
	ffmpegErr := bytes.Buffer{}
	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Stdin = nil
	cmd.Stdout = io.Discard
	cmd.Stderr = &ffmpegErr
	if err := cmd.Run(); err != nil {
		return xerrors.Transcode("ffmpeg segmenting failed [%s]: %v", tail(ffmpegErr.String(), 2048), err)
	}
	return nil
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return fmt.Sprintf("...%s", s[len(s)-n:])
}
