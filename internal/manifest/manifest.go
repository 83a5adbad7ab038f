// Package manifest loads the per-manga metadata file. The manifest is TOML;
// the canonical name is info.toml, with info.json accepted because older
// libraries were generated under that name (the content was always TOML).
package manifest

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// Names are the manifest filenames recognized inside a manga directory, in
// lookup order.
var Names = []string{"info.toml", "info.json"}

// Manga is the structured record one manifest describes.
type Manga struct {
	ID          string
	Title       string
	Cover       string // relative path within the manga directory, may be empty
	Status      Status
	Description string
	Authors     string
	Artists     string
	Tags        string
	Chapters    []Chapter
}

// Chapter declares one chapter source: a directory of loose images or a
// single archive file, relative to the manga directory.
type Chapter struct {
	Path  string
	Title string
	Date  int64 // unix millis, 0 when unknown
}

// Status uses the Tachiyomi numeric codes.
type Status uint32

const (
	StatusUnknown Status = iota
	StatusOngoing
	StatusCompleted
	StatusLicensed
	StatusPublishingFinished
	StatusCancelled
	StatusOnHiatus
)

var statusNames = map[string]Status{
	"unknown":             StatusUnknown,
	"ongoing":             StatusOngoing,
	"completed":           StatusCompleted,
	"licensed":            StatusLicensed,
	"publishing_finished": StatusPublishingFinished,
	"cancelled":           StatusCancelled,
	"on_hiatus":           StatusOnHiatus,
}

// Find returns the path of the manifest file inside dir, or ok=false when
// the directory holds none.
func Find(dir string) (string, bool) {
	for _, name := range Names {
		p := filepath.Join(dir, name)
		if fi, err := os.Stat(p); err == nil && fi.Mode().IsRegular() {
			return p, true
		}
	}
	return "", false
}

// Load parses the manifest inside dir. It reports fs.ErrNotExist when the
// directory has no manifest, which callers treat as "not a manga directory"
// rather than a failure.
func Load(dir string) (*Manga, error) {
	path, ok := Find(dir)
	if !ok {
		return nil, fmt.Errorf("no manifest in %s: %w", dir, fs.ErrNotExist)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}

	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	if m.ID == "" {
		m.ID = filepath.Base(dir)
	}
	return m, nil
}

type rawManga struct {
	ID          string       `toml:"id"`
	Title       string       `toml:"title"`
	Cover       string       `toml:"cover"`
	Status      string       `toml:"status"`
	Description any          `toml:"description"`
	Authors     any          `toml:"authors"`
	Artists     any          `toml:"artists"`
	Tags        any          `toml:"tags"`
	Chapters    []rawChapter `toml:"chapters"`
}

type rawChapter struct {
	Path  string `toml:"path"`
	Title string `toml:"title"`
	Date  int64  `toml:"date"`
}

// Parse decodes manifest bytes. Free-text fields accept either a string or
// a list of strings, normalized to one comma-joined string.
func Parse(data []byte) (*Manga, error) {
	var raw rawManga
	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}

	if raw.Title == "" {
		return nil, errors.New("manifest has no title")
	}

	status := StatusUnknown
	if raw.Status != "" {
		s, ok := statusNames[raw.Status]
		if !ok {
			return nil, fmt.Errorf("unknown status %q", raw.Status)
		}
		status = s
	}

	m := &Manga{
		ID:          raw.ID,
		Title:       raw.Title,
		Cover:       raw.Cover,
		Status:      status,
		Description: flatten(raw.Description),
		Authors:     flatten(raw.Authors),
		Artists:     flatten(raw.Artists),
		Tags:        flatten(raw.Tags),
	}

	for i, ch := range raw.Chapters {
		if ch.Path == "" {
			return nil, fmt.Errorf("chapter #%d has no path", i)
		}
		title := ch.Title
		if title == "" {
			title = ch.Path
		}
		m.Chapters = append(m.Chapters, Chapter{Path: ch.Path, Title: title, Date: ch.Date})
	}

	return m, nil
}

// flatten accepts the string-or-list shape Tachiyomi backups use.
func flatten(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	case []any:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ", ")
	default:
		return fmt.Sprint(v)
	}
}
