package panel

import (
	"embed"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path"
	"strings"
)

//go:embed web/*
var content embed.FS

// Cache-Control values. Bundler output under assets/ carries a content
// hash in its file name.
const (
	cacheMutable   = "no-cache, must-revalidate"
	cacheImmutable = "public, max-age=31536000, immutable"
)

// Handler returns an http.Handler that serves the web client.
//
// When dir names an existing directory the client is served from disk,
// otherwise from the build embedded in the binary. Unknown paths without
// a file extension get index.html so client-side routes such as
// /bus/3 load the app. Missing files with an extension are 404s.
func Handler(dir string) http.Handler {
	var fileSystem fs.FS

	if dir != "" {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			fileSystem = os.DirFS(dir)
		}
	}

	if fileSystem == nil {
		webFS, err := fs.Sub(content, "web")
		if err != nil {
			panic(fmt.Sprintf("panel: failed to load embedded web assets: %v", err))
		}
		fileSystem = webFS
	}

	fileServer := http.FileServer(http.FS(fileSystem))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upath := path.Clean("/" + r.URL.Path)

		if strings.HasPrefix(upath, "/assets/") {
			w.Header().Set("Cache-Control", cacheImmutable)
		} else {
			w.Header().Set("Cache-Control", cacheMutable)
		}

		if upath == "/" {
			fileServer.ServeHTTP(w, r)
			return
		}

		name := strings.TrimPrefix(upath, "/")
		if _, err := fs.Stat(fileSystem, name); err != nil {
			if path.Ext(name) != "" {
				w.Header().Set("Cache-Control", cacheMutable)
				http.NotFound(w, r)
				return
			}
			// Client-side route
			r.URL.Path = "/"
			fileServer.ServeHTTP(w, r)
			return
		}

		fileServer.ServeHTTP(w, r)
	})
}
