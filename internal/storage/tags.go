package storage

import (
	"errors"
	"os"

	"github.com/dhowden/tag"
)

// Tags is the subset of embedded media metadata kept with a run.
type Tags struct {
	Title    string `json:"title,omitempty"`
	Artist   string `json:"artist,omitempty"`
	Album    string `json:"album,omitempty"`
	Format   string `json:"format,omitempty"`
	FileType string `json:"file_type,omitempty"`
}

// ReadTags returns the embedded metadata of a media file.
// Files without a recognised tag block yield empty Tags and no error.
func ReadTags(path string) (*Tags, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	m, err := tag.ReadFrom(f)
	if err != nil {
		if errors.Is(err, tag.ErrNoTagsFound) {
			return &Tags{}, nil
		}
		return nil, err
	}
	return &Tags{
		Title:    m.Title(),
		Artist:   m.Artist(),
		Album:    m.Album(),
		Format:   string(m.Format()),
		FileType: string(m.FileType()),
	}, nil
}
