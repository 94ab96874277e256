package server

import (
	"io/fs"
	"net/http"
	"os"
	"strings"
)

// handleSPA serves the web client from dir. Paths that are not real files,
// such as /room/{id} invite links, get index.html so the client router can
// take over.
func handleSPA(dir string) http.HandlerFunc {
	root := os.DirFS(dir)
	fileServer := http.FileServer(http.FS(root))

	return func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimPrefix(r.URL.Path, "/")
		if name != "" {
			if info, err := fs.Stat(root, name); err == nil && !info.IsDir() {
				fileServer.ServeHTTP(w, r)
				return
			}
		}
		if strings.HasPrefix(r.URL.Path, "/api/") {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		http.ServeFileFS(w, r, root, "index.html")
	}
}
