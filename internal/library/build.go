package library

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/rihoka/tachiserve/internal/archive"
	"github.com/rihoka/tachiserve/internal/manifest"
)

// Build walks the directory tree under root and indexes every manga found.
// A directory holding a manifest file is one manga and its subtree is not
// descended further. Broken items (unparsable manifests, missing chapter
// sources, corrupt archives) are logged and excluded; one bad chapter never
// blocks the rest of the library. Only an unreadable root fails the build.
func Build(root string, archives *archive.Cache) (*Catalogue, error) {
	dirs, err := DiscoverDirs(root)
	if err != nil {
		return nil, err
	}

	var mangas []*Manga
	seen := make(map[string]string) // manga id -> directory

	for _, dir := range dirs {
		m, err := LoadManga(dir, archives)
		if err != nil {
			slog.Warn("excluding manga", "path", dir, "error", err)
			continue
		}
		if prev, dup := seen[m.ID]; dup {
			slog.Warn("duplicate manga id, keeping first",
				"id", m.ID, "kept", prev, "skipped", dir)
			continue
		}
		seen[m.ID] = dir
		mangas = append(mangas, m)
	}

	c, err := newCatalogue(mangas)
	if err != nil {
		return nil, err
	}

	slog.Info("library indexed", "root", root, "mangas", c.Len())
	return c, nil
}

// DiscoverDirs walks the tree under root and returns every directory that
// holds a manifest file, in walk order. A manifest marks its directory as
// one manga; the walk never descends into it looking for nested manga.
func DiscoverDirs(root string) ([]string, error) {
	if _, err := os.ReadDir(root); err != nil {
		return nil, fmt.Errorf("reading library root: %w", err)
	}

	var dirs []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			slog.Warn("skipping unreadable path", "path", path, "error", err)
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if _, ok := manifest.Find(path); !ok {
			return nil
		}
		dirs = append(dirs, path)
		return fs.SkipDir
	})
	if err != nil {
		return nil, fmt.Errorf("walking library: %w", err)
	}
	return dirs, nil
}

// LoadManga reads the manifest in dir and resolves each declared chapter to
// its ordered pages.
func LoadManga(dir string, archives *archive.Cache) (*Manga, error) {
	info, err := manifest.Load(dir)
	if err != nil {
		return nil, err
	}

	m := &Manga{
		ID:          info.ID,
		Title:       info.Title,
		Status:      info.Status,
		Description: info.Description,
		Authors:     info.Authors,
		Artists:     info.Artists,
		Tags:        info.Tags,
	}

	for i, ch := range info.Chapters {
		pages, err := loadChapter(filepath.Join(dir, ch.Path), archives)
		if err != nil {
			slog.Warn("excluding chapter",
				"manga", m.ID, "chapter", ch.Path, "index", i, "error", err)
			continue
		}
		m.Chapters = append(m.Chapters, Chapter{
			Title: ch.Title,
			Date:  ch.Date,
			Pages: pages,
		})
	}

	m.Cover = resolveCover(dir, info.Cover, m)
	return m, nil
}

// loadChapter resolves one chapter source. A directory yields its page
// files; anything else must be a supported archive whose page entries
// become the pages. Both orders are natural (numeric-aware).
func loadChapter(src string, archives *archive.Cache) ([]Page, error) {
	fi, err := os.Stat(src)
	if err != nil {
		return nil, fmt.Errorf("chapter source: %w", err)
	}
	if fi.IsDir() {
		return loadDirPages(src)
	}
	switch ext := filepath.Ext(src); ext {
	case ".cbz", ".zip":
		return loadArchivePages(src, archives)
	default:
		return nil, fmt.Errorf("unsupported chapter source type %q", ext)
	}
}

func loadDirPages(dir string) ([]Page, error) {
	dirents, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("listing chapter directory: %w", err)
	}

	var pages []Page
	for _, de := range dirents {
		if !de.Type().IsRegular() || !isPageName(de.Name()) {
			continue
		}
		info, err := de.Info()
		if err != nil {
			return nil, fmt.Errorf("stat page %s: %w", de.Name(), err)
		}
		pages = append(pages, Page{
			Path:        filepath.Join(dir, de.Name()),
			Size:        info.Size(),
			ContentType: contentTypeFor(de.Name()),
		})
	}

	sort.Slice(pages, func(i, j int) bool {
		return naturalLess(filepath.Base(pages[i].Path), filepath.Base(pages[j].Path))
	})
	return pages, nil
}

func loadArchivePages(path string, archives *archive.Cache) ([]Page, error) {
	idx, err := archives.Index(path)
	if err != nil {
		return nil, err
	}

	var pages []Page
	for _, e := range idx.Entries() {
		if !isPageName(e.Name) {
			continue
		}
		pages = append(pages, Page{
			Path:        path,
			Entry:       e.Name,
			Size:        int64(e.UncompressedSize),
			ContentType: contentTypeFor(e.Name),
		})
	}

	sort.Slice(pages, func(i, j int) bool {
		return naturalLess(pages[i].Entry, pages[j].Entry)
	})
	return pages, nil
}

// resolveCover turns the manifest's cover reference into a page, falling
// back to the first page of the first chapter so archive-only manga still
// get a cover.
func resolveCover(dir, ref string, m *Manga) *Page {
	if ref != "" {
		path := filepath.Join(dir, ref)
		fi, err := os.Stat(path)
		if err == nil && fi.Mode().IsRegular() {
			return &Page{
				Path:        path,
				Size:        fi.Size(),
				ContentType: contentTypeFor(path),
			}
		}
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("unreadable cover", "manga", m.ID, "cover", path, "error", err)
		} else {
			slog.Warn("missing cover", "manga", m.ID, "cover", path)
		}
	}

	for _, ch := range m.Chapters {
		if len(ch.Pages) > 0 {
			p := ch.Pages[0]
			return &p
		}
	}
	return nil
}
