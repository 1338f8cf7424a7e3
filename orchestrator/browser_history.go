package orchestrator

import (
	"fmt"
	"net/http"
	"path/filepath"
)

// handleBrowserHistory serves a single named trace artifact out of the
// configured browser-history directory. The filename must be a bare
// name (no directory components) ending in .gif, matching spec.md §6.
func (o *Orchestrator) handleBrowserHistory(w http.ResponseWriter, r *http.Request) {
	filename := r.PathValue("filename")
	if filename == "" || filepath.Base(filename) != filename {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid filename"))
		return
	}
	if filepath.Ext(filename) != ".gif" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("only .gif artifacts are served"))
		return
	}
	http.ServeFile(w, r, filepath.Join(o.browserDir, filename))
}
