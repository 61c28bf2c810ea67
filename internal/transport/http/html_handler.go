package http

import (
	"html/template"
	"net/http"
	"os"
	"path/filepath"
)

// PageData is passed to the served page templates
type PageData struct {
	Version string
	Genome  string
}

// ServeMainApp serves the dive UI page from webDir
func ServeMainApp(webDir string, data func() PageData) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		indexPath := filepath.Join(webDir, "index.html")
		if _, err := os.Stat(indexPath); os.IsNotExist(err) {
			http.Error(w, "Main application page not found", http.StatusNotFound)
			return
		}
		var pd PageData
		if data != nil {
			pd = data()
		}
		serveHTML(w, indexPath, pd)
	}
}

// serveHTML serves an HTML template with security headers
func serveHTML(w http.ResponseWriter, filePath string, data PageData) {
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("X-XSS-Protection", "1; mode=block")
	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	tmpl, err := template.ParseFiles(filePath)
	if err != nil {
		http.Error(w, "Error loading page", http.StatusInternalServerError)
		return
	}
	if err := tmpl.Execute(w, data); err != nil {
		http.Error(w, "Error rendering page", http.StatusInternalServerError)
	}
}
