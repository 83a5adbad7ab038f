package server

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gorilla/mux"

	"github.com/rihoka/tachiserve/internal/library"
)

func (s *Server) handleCover(w http.ResponseWriter, r *http.Request) {
	page, err := s.store.Catalogue().Cover(mux.Vars(r)["manga"])
	if err != nil {
		http.NotFound(w, r)
		return
	}
	s.servePage(w, r, page)
}

func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	// route patterns guarantee numeric indexes
	chapter, _ := strconv.Atoi(vars["chapter"])
	pageIdx, _ := strconv.Atoi(vars["page"])

	page, err := s.store.Catalogue().ResolvePage(vars["manga"], chapter, pageIdx)
	if err != nil {
		// includes paging past the end of a chapter; expected, not logged
		http.NotFound(w, r)
		return
	}
	s.servePage(w, r, page)
}

// servePage streams one page to the client. Loose files go through
// http.ServeContent for range support; archive entries stream decompressed
// bytes with an explicit length (full entry, no ranges).
func (s *Server) servePage(w http.ResponseWriter, r *http.Request, page library.Page) {
	if !page.Archived() {
		s.serveLoose(w, r, page)
		return
	}

	rc, err := s.archives.Open(page.Path, page.Entry)
	if err != nil {
		slog.Warn("error opening page",
			"archive", page.Path, "entry", page.Entry, "error", err)
		http.Error(w, "error opening page", http.StatusInternalServerError)
		return
	}
	defer rc.Close()

	body := io.Reader(rc)
	contentType := page.ContentType
	if contentType == "" {
		head, sniffed, err := sniffType(rc)
		if err != nil {
			slog.Warn("error reading page",
				"archive", page.Path, "entry", page.Entry, "error", err)
			http.Error(w, "error reading page", http.StatusInternalServerError)
			return
		}
		contentType = sniffed
		body = io.MultiReader(head, rc)
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.FormatInt(page.Size, 10))

	// a disconnected client fails the copy; the deferred Close releases the
	// archive cursor and stops decompression there
	if _, err := io.Copy(w, body); err != nil {
		slog.Debug("page stream aborted",
			"archive", page.Path, "entry", page.Entry, "error", err)
	}
}

func (s *Server) serveLoose(w http.ResponseWriter, r *http.Request, page library.Page) {
	f, err := os.Open(page.Path)
	if err != nil {
		slog.Warn("error opening page", "path", page.Path, "error", err)
		http.Error(w, "error opening page", http.StatusInternalServerError)
		return
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		slog.Warn("error opening page", "path", page.Path, "error", err)
		http.Error(w, "error opening page", http.StatusInternalServerError)
		return
	}

	contentType := page.ContentType
	if contentType == "" {
		mtype, err := mimetype.DetectReader(f)
		if err != nil {
			slog.Warn("error reading page", "path", page.Path, "error", err)
			http.Error(w, "error reading page", http.StatusInternalServerError)
			return
		}
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			slog.Warn("error reading page", "path", page.Path, "error", err)
			http.Error(w, "error reading page", http.StatusInternalServerError)
			return
		}
		contentType = mtype.String()
	}

	w.Header().Set("Content-Type", contentType)
	http.ServeContent(w, r, filepath.Base(page.Path), fi.ModTime(), f)
}

// sniffType detects a media type from the stream's leading bytes and hands
// those bytes back so the response still starts at byte zero.
func sniffType(r io.Reader) (head io.Reader, contentType string, err error) {
	buf := make([]byte, 512)
	n, err := io.ReadFull(r, buf)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, "", err
	}
	buf = buf[:n]
	return bytes.NewReader(buf), mimetype.Detect(buf).String(), nil
}
