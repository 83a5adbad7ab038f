// Package server exposes the library catalogue over HTTP. The wire surface
// mirrors the remote-reading client's expectations: a library listing, a
// detail document per manga, and raw bytes per cover/page.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/klauspost/compress/gzhttp"

	"github.com/rihoka/tachiserve/internal/archive"
	"github.com/rihoka/tachiserve/internal/library"
)

// Server routes content requests to the catalogue and archive cache.
type Server struct {
	store    *library.Store
	archives *archive.Cache
	router   *mux.Router
}

// New wires the routes. JSON documents compress above a small threshold;
// page and cover bytes are served as-is (they are already-compressed
// images).
func New(store *library.Store, archives *archive.Cache) (*Server, error) {
	s := &Server{store: store, archives: archives}

	gzip, err := gzhttp.NewWrapper(gzhttp.MinSize(64))
	if err != nil {
		return nil, fmt.Errorf("building gzip wrapper: %w", err)
	}

	r := mux.NewRouter()
	v1 := r.PathPrefix("/v1").Subrouter()
	v1.Handle("/", gzip(http.HandlerFunc(s.handleLibrary))).Methods(http.MethodGet)
	// registered without a method matcher: a method-restricted route that
	// fails its matcher falls through to /{manga} instead of answering 405,
	// so the handler rejects non-POST itself
	v1.Handle("/reindex", http.HandlerFunc(s.handleReindex))
	v1.Handle("/{manga}", gzip(http.HandlerFunc(s.handleManga))).Methods(http.MethodGet)
	v1.Handle("/{manga}/cover", http.HandlerFunc(s.handleCover)).Methods(http.MethodGet)
	v1.Handle("/{manga}/{chapter:[0-9]+}/{page:[0-9]+}", http.HandlerFunc(s.handlePage)).Methods(http.MethodGet)
	s.router = r

	return s, nil
}

// Handler returns the root handler, usable directly with httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe runs the server until ctx is cancelled, then drains
// in-flight requests.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:        addr,
		Handler:     s.router,
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errc := make(chan error, 1)
	go func() {
		errc <- srv.ListenAndServe()
	}()

	slog.Info("serving library", "addr", addr)

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down: %w", err)
		}
		return nil
	}
}

func (s *Server) handleLibrary(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.store.Catalogue().LibraryJSON())
}

func (s *Server) handleManga(w http.ResponseWriter, r *http.Request) {
	buf, err := s.store.Catalogue().MangaJSON(mux.Vars(r)["manga"])
	if err != nil {
		// unknown id is an expected client condition
		http.NotFound(w, r)
		return
	}
	writeJSON(w, buf)
}

func (s *Server) handleReindex(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "reindex requires POST", http.StatusMethodNotAllowed)
		return
	}

	c, err := s.store.Reindex()
	if err != nil {
		slog.Error("reindex failed", "error", err)
		http.Error(w, "reindex failed", http.StatusInternalServerError)
		return
	}

	buf, err := json.Marshal(reindexResult{Mangas: c.Len()})
	if err != nil {
		http.Error(w, "reindex failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, buf)
}

type reindexResult struct {
	Mangas int `json:"mangas"`
}

func writeJSON(w http.ResponseWriter, buf []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.Write(buf)
}
