package api

import (
	"errors"
	"io/fs"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/alibi/internal/apperr"
	"github.com/kalambet/alibi/internal/proof"
)

// contentTypeByExt picks the MIME type for a served artifact from its
// extension.
func contentTypeByExt(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	for _, k := range proof.Kinds() {
		if k.Ext() == ext {
			return k.ContentType()
		}
	}
	if ext == ".mp3" {
		return "audio/mpeg"
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return "application/octet-stream"
}

// safeName reports whether name refers to a file directly inside the served
// directory. Dot files, including in-flight atomic-write temp files, are
// never served.
func safeName(name string) bool {
	if name == "" || strings.HasPrefix(name, ".") {
		return false
	}
	if strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return false
	}
	return filepath.Base(name) == name
}

// handleServeFile serves files from dir as attachments. Anything that is not
// a plain file directly inside dir is reported as not found.
func handleServeFile(dir string, contentType func(string) string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		if dir == "" || !safeName(name) {
			httpError(w, http.StatusNotFound, string(apperr.KindNotFound), "File not found.")
			return
		}

		path := filepath.Join(dir, name)
		f, err := os.Open(path)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				slog.Warn("opening served file", "path", path, "error", err)
			}
			httpError(w, http.StatusNotFound, string(apperr.KindNotFound), "File not found.")
			return
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil || !info.Mode().IsRegular() {
			httpError(w, http.StatusNotFound, string(apperr.KindNotFound), "File not found.")
			return
		}

		h := w.Header()
		h.Set("Content-Type", contentType(name))
		h.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
		h.Set("Cache-Control", "no-cache, no-store, must-revalidate")
		h.Set("Pragma", "no-cache")
		h.Set("Expires", "0")
		h.Set("X-Content-Type-Options", "nosniff")
		http.ServeContent(w, r, name, info.ModTime(), f)
	}
}
