package api

import (
	"net/http"
	"os"
	"sort"
	"strings"
)

const maxVisibleEntries = 50

// FileEntry is one row in a directory listing.
type FileEntry struct {
	Name  string `json:"name"`
	IsDir bool   `json:"is_dir"`
}

// listVisibleEntries returns up to maxVisibleEntries entries whose name
// does not start with "." (spec §6 "File browser"): the cap is applied
// *after* the hidden-file filter, never before.
func listVisibleEntries(dir string) ([]FileEntry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var visible []FileEntry
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") {
			continue
		}
		visible = append(visible, FileEntry{Name: e.Name(), IsDir: e.IsDir()})
		if len(visible) == maxVisibleEntries {
			break
		}
	}
	return visible, nil
}

func (s *Server) handleBrowseFiles(w http.ResponseWriter, r *http.Request) {
	dir := r.URL.Query().Get("path")
	if dir == "" {
		writeError(w, http.StatusBadRequest, "path query parameter is required")
		return
	}
	entries, err := listVisibleEntries(dir)
	if err != nil {
		writeError(w, http.StatusNotFound, "directory not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
