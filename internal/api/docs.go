package api

import (
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/docsrag/docsrag/internal/log"
)

const docNotFoundDetail = "Not found"

// docsHandler serves the raw markdown files backing the index so the
// frontend can render the source a citation points at.
type docsHandler struct {
	root   string
	logger log.Logger
}

// list returns the markdown filenames at the top level of the docs
// directory, sorted.
func (h *docsHandler) list(w http.ResponseWriter, _ *http.Request) {
	entries, err := os.ReadDir(h.root)
	if err != nil {
		h.logger.Error("docs_dir_unreadable", "dir", h.root, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to list documents")
		return
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.EqualFold(filepath.Ext(e.Name()), ".md") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	writeJSON(w, http.StatusOK, names)
}

type docResponse struct {
	Filename string `json:"filename"`
	Content  string `json:"content"`
}

// get returns the content of a single markdown file. The filename comes
// from the URL, so it is validated hard: bare *.md names only, and the
// resolved path must stay inside the docs directory. Every rejection is
// a plain 404 so probing reveals nothing about the filesystem.
func (h *docsHandler) get(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("filename")
	if !validDocName(name) {
		h.logger.Warn("doc_not_found", "filename", name, "reason", "invalid name")
		writeError(w, http.StatusNotFound, docNotFoundDetail)
		return
	}

	root, err := filepath.Abs(h.root)
	if err != nil {
		writeError(w, http.StatusNotFound, docNotFoundDetail)
		return
	}
	path := filepath.Join(root, name)
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		h.logger.Warn("doc_not_found", "filename", name, "reason", "missing")
		writeError(w, http.StatusNotFound, docNotFoundDetail)
		return
	}
	resolvedRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		writeError(w, http.StatusNotFound, docNotFoundDetail)
		return
	}
	if resolved != resolvedRoot && !strings.HasPrefix(resolved, resolvedRoot+string(filepath.Separator)) {
		h.logger.Warn("doc_not_found", "filename", name, "reason", "outside docs dir")
		writeError(w, http.StatusNotFound, docNotFoundDetail)
		return
	}

	info, err := os.Stat(resolved)
	if err != nil || !info.Mode().IsRegular() {
		h.logger.Warn("doc_not_found", "filename", name, "reason", "not a file")
		writeError(w, http.StatusNotFound, docNotFoundDetail)
		return
	}

	// The file exists and passed containment; failures past this point are
	// server faults, not missing documents.
	content, err := os.ReadFile(resolved)
	if err != nil {
		h.logger.Error("doc_read_error", "filename", name, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to read document")
		return
	}
	if !utf8.Valid(content) {
		h.logger.Error("doc_read_error", "filename", name, "error", "invalid UTF-8")
		writeError(w, http.StatusInternalServerError, "File encoding error")
		return
	}

	writeJSON(w, http.StatusOK, docResponse{Filename: name, Content: string(content)})
}

// validDocName accepts only bare markdown filenames: no separators, no
// parent references, must end in .md.
func validDocName(name string) bool {
	if name == "" || !strings.HasSuffix(name, ".md") {
		return false
	}
	if strings.ContainsAny(name, "/\\") {
		return false
	}
	if strings.Contains(name, "..") {
		return false
	}
	return true
}
