package httpapi

import (
	"embed"
	"io/fs"
	"net/http"
)

//go:embed static/*
var webchatAssets embed.FS

// newStaticHandler serves the embedded webchat page. Responses are not
// cached so a redeploy is picked up on the next reload.
func newStaticHandler() http.Handler {
	root, err := fs.Sub(webchatAssets, "static")
	if err != nil {
		return http.NotFoundHandler()
	}
	files := http.FileServer(http.FS(root))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		files.ServeHTTP(w, r)
	})
}
