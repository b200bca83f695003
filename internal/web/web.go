// Package web embeds the page templates and static assets served by the
// api package.
package web

import (
	"embed"
	"io/fs"
	"net/http"
)

//go:embed templates static
var files embed.FS

// Templates returns the page templates rooted at templates/
func Templates() http.FileSystem {
	return sub("templates")
}

// Static returns the assets served under /static
func Static() http.FileSystem {
	return sub("static")
}

func sub(dir string) http.FileSystem {
	f, err := fs.Sub(files, dir)
	if err != nil {
		panic(err)
	}
	return http.FS(f)
}
