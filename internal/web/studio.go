package web

import (
	"net/http"
	"path/filepath"
)

// ServeStudio serves the annotation studio HTML file
func ServeStudio(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")

	studioPath := filepath.Join("web", "studio.html")
	http.ServeFile(w, r, studioPath)
}
