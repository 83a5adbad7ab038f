// Package library builds and serves the in-memory catalogue of manga,
// chapters and pages discovered under a library root. A catalogue is built
// in one pass, published atomically and never mutated afterward; reindexing
// builds a fresh one and swaps it in wholesale.
package library

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rihoka/tachiserve/internal/manifest"
)

// ErrNotFound reports an unknown manga id, chapter index or page index.
// It is an expected client condition, not a failure.
var ErrNotFound = errors.New("library: not found")

// Page is the resolved source of one image: either a loose file or a single
// named entry inside an archive.
type Page struct {
	// Path is the loose file path, or the archive path when Entry is set.
	Path string
	// Entry is the entry name within the archive; empty for loose files.
	Entry string
	// Size is the page's uncompressed byte length, as recorded at index
	// time (file size, or the archive directory's declared size).
	Size int64
	// ContentType is best-effort, derived from the name; empty means the
	// serving layer should sniff leading bytes.
	ContentType string
}

// Archived reports whether the page lives inside an archive.
func (p Page) Archived() bool {
	return p.Entry != ""
}

// Chapter is an ordered run of pages from one source (directory or archive).
type Chapter struct {
	Title string
	Date  int64
	Pages []Page
}

// Manga is one indexed series. Immutable once the catalogue is published.
type Manga struct {
	ID          string
	Title       string
	Status      manifest.Status
	Description string
	Authors     string
	Artists     string
	Tags        string
	Cover       *Page
	Chapters    []Chapter

	detail []byte // pre-marshaled detail JSON
}

// Catalogue is the complete library index. All lookups are non-blocking.
type Catalogue struct {
	mangas  map[string]*Manga
	order   []*Manga
	summary []byte // pre-marshaled library listing JSON
}

// LibraryJSON returns the listing of all manga as `[{"id","title"},...]`,
// marshaled once at build time.
func (c *Catalogue) LibraryJSON() []byte {
	return c.summary
}

// Manga looks up one series by id.
func (c *Catalogue) Manga(id string) (*Manga, error) {
	m, ok := c.mangas[id]
	if !ok {
		return nil, fmt.Errorf("manga %q: %w", id, ErrNotFound)
	}
	return m, nil
}

// MangaJSON returns the pre-marshaled detail document for one series.
func (c *Catalogue) MangaJSON(id string) ([]byte, error) {
	m, err := c.Manga(id)
	if err != nil {
		return nil, err
	}
	return m.detail, nil
}

// Mangas returns all series in index order.
func (c *Catalogue) Mangas() []*Manga {
	return c.order
}

// Len returns the number of indexed series.
func (c *Catalogue) Len() int {
	return len(c.order)
}

// ResolvePage maps (manga id, chapter index, page index) to the page's
// source. Out-of-range indexes are a normal client condition and come back
// as ErrNotFound, never as an I/O failure.
func (c *Catalogue) ResolvePage(mangaID string, chapter, page int) (Page, error) {
	m, err := c.Manga(mangaID)
	if err != nil {
		return Page{}, err
	}
	if chapter < 0 || chapter >= len(m.Chapters) {
		return Page{}, fmt.Errorf("manga %q chapter %d: %w", mangaID, chapter, ErrNotFound)
	}
	ch := m.Chapters[chapter]
	if page < 0 || page >= len(ch.Pages) {
		return Page{}, fmt.Errorf("manga %q chapter %d page %d: %w", mangaID, chapter, page, ErrNotFound)
	}
	return ch.Pages[page], nil
}

// Cover resolves a manga's cover page.
func (c *Catalogue) Cover(mangaID string) (Page, error) {
	m, err := c.Manga(mangaID)
	if err != nil {
		return Page{}, err
	}
	if m.Cover == nil {
		return Page{}, fmt.Errorf("manga %q has no cover: %w", mangaID, ErrNotFound)
	}
	return *m.Cover, nil
}

// JSON wire shapes. Chapters serialize as page counts; clients fetch pages
// by index, never by name.
type summaryView struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

type mangaView struct {
	Title       string          `json:"title"`
	Status      manifest.Status `json:"status,omitempty"`
	Description string          `json:"description,omitempty"`
	Authors     string          `json:"authors,omitempty"`
	Artists     string          `json:"artists,omitempty"`
	Tags        string          `json:"tags,omitempty"`
	Chapters    []chapterView   `json:"chapters"`
}

type chapterView struct {
	Title string `json:"title"`
	Date  int64  `json:"date,omitempty"`
	Pages int    `json:"pages"`
}

func newCatalogue(mangas []*Manga) (*Catalogue, error) {
	c := &Catalogue{
		mangas: make(map[string]*Manga, len(mangas)),
		order:  mangas,
	}

	summaries := make([]summaryView, 0, len(mangas))
	for _, m := range mangas {
		detail := mangaView{
			Title:       m.Title,
			Status:      m.Status,
			Description: m.Description,
			Authors:     m.Authors,
			Artists:     m.Artists,
			Tags:        m.Tags,
			Chapters:    make([]chapterView, 0, len(m.Chapters)),
		}
		for _, ch := range m.Chapters {
			detail.Chapters = append(detail.Chapters, chapterView{
				Title: ch.Title,
				Date:  ch.Date,
				Pages: len(ch.Pages),
			})
		}

		buf, err := json.Marshal(detail)
		if err != nil {
			return nil, fmt.Errorf("marshaling manga %q: %w", m.ID, err)
		}
		m.detail = buf

		c.mangas[m.ID] = m
		summaries = append(summaries, summaryView{ID: m.ID, Title: m.Title})
	}

	buf, err := json.Marshal(summaries)
	if err != nil {
		return nil, fmt.Errorf("marshaling library listing: %w", err)
	}
	c.summary = buf

	return c, nil
}

// imageTypes maps the recognized page extensions to their media types.
var imageTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".avif": "image/avif",
	".bmp":  "image/bmp",
}

// contentTypeFor returns the media type for a page name, or "" when the
// extension is not recognized.
func contentTypeFor(name string) string {
	return imageTypes[strings.ToLower(filepath.Ext(name))]
}

// isPageName reports whether a file or entry name can be indexed as a page:
// a recognized image extension, or no extension at all. Extensionless pages
// carry no ContentType and are sniffed from their leading bytes at serve
// time; names with a foreign extension (.txt, .xml metadata and the like)
// are never pages.
func isPageName(name string) bool {
	ext := filepath.Ext(name)
	if ext == "" {
		return true
	}
	_, ok := imageTypes[strings.ToLower(ext)]
	return ok
}
