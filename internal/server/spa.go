package server

import (
	"io/fs"
	"net/http"
	"strings"
)

// spaFileServer serves the chat frontend from assets. Paths that are not
// real files get index.html so client-side routes like /chat/123 resolve.
func spaFileServer(assets fs.FS) http.Handler {
	fileServer := http.FileServerFS(assets)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimPrefix(r.URL.Path, "/")
		if name == "" {
			name = "index.html"
		}

		if _, err := fs.Stat(assets, name); err != nil {
			r.URL.Path = "/"
		}

		fileServer.ServeHTTP(w, r)
	})
}
