// Package staticfiles implements the file_server route handler type:
// serving files from a jailed directory root, with index-file
// resolution and directory-traversal protection, adapted from the
// teacher's own staticfiles.FileServer for the reverse proxy's
// file-serving route kind.
package staticfiles

import (
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Config controls one file_server route.
type Config struct {
	Root       string
	IndexPages []string
	Hide       []string
}

// DefaultIndexPages matches the teacher's own default index list.
var DefaultIndexPages = []string{"index.html", "index.htm"}

// Server serves files from a jailed root directory.
type Server struct {
	root http.Dir
	cfg  Config
}

// New builds a Server rooted at cfg.Root. IndexPages defaults to
// DefaultIndexPages when unset.
func New(cfg Config) *Server {
	if len(cfg.IndexPages) == 0 {
		cfg.IndexPages = DefaultIndexPages
	}
	return &Server{root: http.Dir(cfg.Root), cfg: cfg}
}

// ServeHTTP serves r.URL.Path relative to the configured root,
// following the teacher's serveFile contract: 404 on missing files,
// 403 on permission errors, redirect-to-trailing-slash for
// directories, index-page resolution before directory listing (which
// this package never performs — browse is a non-goal).
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqPath := r.URL.Path
	if s.isHidden(reqPath) {
		http.NotFound(w, r)
		return
	}

	f, err := s.root.Open(reqPath)
	if err != nil {
		if os.IsNotExist(err) {
			http.NotFound(w, r)
			return
		}
		if os.IsPermission(err) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	defer f.Close()

	d, err := f.Stat()
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	if d.IsDir() {
		s.serveDir(w, r, reqPath)
		return
	}

	http.ServeContent(w, r, d.Name(), d.ModTime(), f)
}

func (s *Server) serveDir(w http.ResponseWriter, r *http.Request, reqPath string) {
	if !strings.HasSuffix(reqPath, "/") {
		urlCopy := *r.URL
		urlCopy.Path = reqPath + "/"
		http.Redirect(w, r, urlCopy.String(), http.StatusMovedPermanently)
		return
	}

	for _, index := range s.cfg.IndexPages {
		indexPath := path.Join(reqPath, index)
		f, err := s.root.Open(indexPath)
		if err != nil {
			continue
		}
		d, statErr := f.Stat()
		if statErr != nil || d.IsDir() {
			f.Close()
			continue
		}
		http.ServeContent(w, r, d.Name(), d.ModTime(), f)
		f.Close()
		return
	}

	http.NotFound(w, r)
}

func (s *Server) isHidden(reqPath string) bool {
	base := filepath.Base(reqPath)
	for _, h := range s.cfg.Hide {
		if h == base {
			return true
		}
	}
	return false
}
