// Package assets serves the console's static files embedded via go:embed.
// Each file is also reachable under a fingerprinted name carrying a content
// hash, which is what pages link to; those responses are cached for a year.
package assets

import (
	"bytes"
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"io/fs"
	"mime"
	"net/http"
	"path"
	"strings"
	"time"
)

// Prefix is the URL path the file server is mounted under.
const Prefix = "/static/"

//go:embed static
var staticFS embed.FS

var (
	// hashed maps a file name to its fingerprinted name.
	hashed = map[string]string{}
	// original is the reverse of hashed.
	original = map[string]string{}
)

func init() {
	_ = mime.AddExtensionType(".woff2", "font/woff2")
	_ = mime.AddExtensionType(".map", "application/json")

	err := fs.WalkDir(staticFS, "static", func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		data, err := fs.ReadFile(staticFS, p)
		if err != nil {
			return err
		}
		name := strings.TrimPrefix(p, "static/")
		h := fingerprint(name, data)
		hashed[name] = h
		original[h] = name
		return nil
	})
	if err != nil {
		panic("assets: indexing embedded files: " + err.Error())
	}
}

// fingerprint inserts the first ten hex digits of data's SHA-256 before the
// extension: "console.css" becomes "console.1a2b3c4d5e.css".
func fingerprint(name string, data []byte) string {
	sum := sha256.Sum256(data)
	ext := path.Ext(name)
	return strings.TrimSuffix(name, ext) + "." + hex.EncodeToString(sum[:])[:10] + ext
}

// Path returns the URL to link to for a static file. Unknown names are
// returned unhashed.
func Path(name string) string {
	if h, ok := hashed[name]; ok {
		return Prefix + h
	}
	return Prefix + name
}

// mimeFromExt returns the MIME type for a file extension.
// Falls back to the Go standard library's MIME type database,
// then to "application/octet-stream" if unknown.
func mimeFromExt(ext string) string {
	switch ext {
	case ".js", ".mjs":
		return "application/javascript"
	case ".css":
		return "text/css; charset=utf-8"
	case ".svg":
		return "image/svg+xml"
	default:
		if ct := mime.TypeByExtension(ext); ct != "" {
			return ct
		}
		return "application/octet-stream"
	}
}

// FileServer serves the embedded files. Fingerprinted names get immutable
// cache headers, plain names get no-cache. The handler expects the Prefix to
// be stripped already.
func FileServer() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimPrefix(path.Clean("/"+r.URL.Path), "/")
		immutable := false
		if orig, ok := original[name]; ok {
			name = orig
			immutable = true
		}
		if _, known := hashed[name]; !known {
			http.NotFound(w, r)
			return
		}
		data, err := fs.ReadFile(staticFS, "static/"+name)
		if err != nil {
			http.NotFound(w, r)
			return
		}

		w.Header().Set("Content-Type", mimeFromExt(strings.ToLower(path.Ext(name))))
		if immutable {
			w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
		} else {
			w.Header().Set("Cache-Control", "no-cache")
		}
		http.ServeContent(w, r, name, time.Time{}, bytes.NewReader(data))
	})
}
