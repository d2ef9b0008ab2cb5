// Package storage owns the on-disk layout. Every path is a deterministic
// function of the job id and a fixed root, so no index needs to be persisted.
package storage

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const (
	DownloadFilename = "download.webm"
	PosterFilename   = "poster.jpg"
	HLSMasterName    = "master.m3u8"
	HLSIndexName     = "index.m3u8"
	DashManifestName = "manifest.mpd"
)

type Storage struct {
	Root string
	Tmp  string
}

// New lays out storage under root, with scratch space in a subdir of the
// system temp dir.
func New(root string) *Storage {
	return &Storage{
		Root: root,
		Tmp:  filepath.Join(os.TempDir(), "video-ingest"),
	}
}

// Init creates the top-level directory tree. Per-job directories are created
// on demand.
func (s *Storage) Init() error {
	for _, dir := range []string{
		s.VideosDir(),
		s.LibsDir(),
		filepath.Join(s.Tmp, "incoming"),
		filepath.Join(s.Tmp, "hls"),
		filepath.Join(s.Tmp, "dash"),
	} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}

func (s *Storage) VideosDir() string {
	return filepath.Join(s.Root, "videos")
}

// LibsDir is an optional cache of tool binaries shipped alongside the data.
func (s *Storage) LibsDir() string {
	return filepath.Join(s.Root, "libs")
}

func (s *Storage) VideoDir(id uuid.UUID) string {
	return filepath.Join(s.VideosDir(), id.String())
}

// DownloadPath is the progressive AV1/WebM output for a job.
func (s *Storage) DownloadPath(id uuid.UUID) string {
	return filepath.Join(s.VideoDir(id), DownloadFilename)
}

func (s *Storage) PosterPath(id uuid.UUID) string {
	return filepath.Join(s.VideoDir(id), PosterFilename)
}

// IncomingPath holds a partial upload or download until transcoding starts.
func (s *Storage) IncomingPath(id uuid.UUID) string {
	simple := strings.ReplaceAll(id.String(), "-", "")
	return filepath.Join(s.Tmp, "incoming", simple+".incoming")
}

func (s *Storage) HLSDir(id uuid.UUID) string {
	return filepath.Join(s.Tmp, "hls", id.String())
}

func (s *Storage) DashDir(id uuid.UUID) string {
	return filepath.Join(s.Tmp, "dash", id.String())
}

func (s *Storage) EnsureVideoDir(id uuid.UUID) error {
	return os.MkdirAll(s.VideoDir(id), 0755)
}

// PruneDerived removes a job's HLS and DASH trees and reports whether
// anything was actually deleted. The progressive file is never touched;
// derived artifacts are regenerated lazily on the next delivery request.
func (s *Storage) PruneDerived(id uuid.UUID) (bool, error) {
	pruned := false
	for _, dir := range []string{s.HLSDir(id), s.DashDir(id)} {
		if _, err := os.Stat(dir); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return pruned, err
		}
		if err := os.RemoveAll(dir); err != nil {
			return pruned, err
		}
		pruned = true
	}
	return pruned, nil
}
