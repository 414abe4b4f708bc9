package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Spool keeps uploaded media on disk for the duration of a run.
type Spool struct {
	dir string
}

// SpoolEntry describes one spooled upload.
type SpoolEntry struct {
	Name    string    `json:"name"`
	Path    string    `json:"path"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

func NewSpool(dir string) (*Spool, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create spool dir: %w", err)
	}
	return &Spool{dir: dir}, nil
}

func (s *Spool) Dir() string {
	return s.dir
}

// Save copies r into a uniquely named file that keeps the original extension.
// The extension is checked before anything is written.
func (s *Spool) Save(originalName string, r io.Reader) (string, error) {
	if err := CheckFormat(originalName); err != nil {
		return "", err
	}

	ext := strings.ToLower(filepath.Ext(originalName))
	path := filepath.Join(s.dir, uuid.New().String()+ext)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0644)
	if err != nil {
		return "", fmt.Errorf("create spool file: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("write spool file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("close spool file: %w", err)
	}
	return path, nil
}

// Remove deletes a spooled file. Paths outside the spool directory are refused.
func (s *Spool) Remove(path string) error {
	if err := s.contains(path); err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// List returns the visible spooled files.
func (s *Spool) List() ([]SpoolEntry, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}

	var result []SpoolEntry
	for _, entry := range entries {
		// Skip hidden files and directories
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		result = append(result, SpoolEntry{
			Name:    entry.Name(),
			Path:    filepath.Join(s.dir, entry.Name()),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	return result, nil
}

// Sweep removes spooled files last modified before cutoff and returns how many were removed.
// Uploads of a crashed process are otherwise never reclaimed.
func (s *Spool) Sweep(cutoff time.Time) int {
	entries, err := s.List()
	if err != nil {
		log.Warn().Err(err).Str("dir", s.dir).Msg("[spool] list failed")
		return 0
	}
	removed := 0
	for _, e := range entries {
		if e.ModTime.After(cutoff) {
			continue
		}
		if err := os.Remove(e.Path); err != nil {
			log.Warn().Err(err).Str("path", e.Path).Msg("[spool] sweep failed")
			continue
		}
		removed++
	}
	return removed
}

// contains guards against path traversal out of the spool directory.
func (s *Spool) contains(path string) error {
	absBase, err := filepath.Abs(s.dir)
	if err != nil {
		return err
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if !strings.HasPrefix(absPath, absBase+string(filepath.Separator)) {
		return os.ErrPermission
	}
	return nil
}
