package middleware

import (
	"net/http"
	"os"
	"path/filepath"
)

const placeholderSVG = `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 200 200"><rect width="200" height="200" fill="#f0f0f0"/><path d="M60 50h80v100H60z" fill="#fff" stroke="#999" stroke-width="4"/><path d="M72 70h56M72 90h56M72 110h36" stroke="#bbb" stroke-width="4"/><text x="100" y="180" text-anchor="middle" font-family="Arial" font-size="14" fill="#666">WORKSHEET</text></svg>`

// StaticFileServer serves worksheet thumbnails, falling back to a
// placeholder image for worksheets that have no artwork yet.
func StaticFileServer(dir string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := filepath.Join(dir, filepath.Clean("/"+r.URL.Path))

		if _, err := os.Stat(path); err == nil {
			w.Header().Set("Cache-Control", "public, max-age=2592000")
			http.ServeFile(w, r, path)
			return
		}

		w.Header().Set("Content-Type", "image/svg+xml")
		w.Header().Set("Cache-Control", "public, max-age=86400")
		w.Write([]byte(placeholderSVG))
	})
}
