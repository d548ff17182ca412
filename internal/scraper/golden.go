package scraper

import (
	"bytes"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"
)

func indentJSON(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		return nil, err
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// writeGoldenFiles creates goldenDir and writes each map entry under its file name. JSON files
// are pretty-printed; everything else is written byte for byte so legacy encodings survive.
func writeGoldenFiles(goldenDir string, files map[string][]byte) error {
	if err := os.MkdirAll(goldenDir, 0o750); err != nil {
		return fmt.Errorf("failed to create golden dir: %w", err)
	}
	for name, body := range files {
		if strings.HasSuffix(name, ".json") {
			pretty, err := indentJSON(body)
			if err != nil {
				return fmt.Errorf("failed to format %s golden file: %w", name, err)
			}
			body = pretty
		}
		if err := os.WriteFile(filepath.Join(goldenDir, name), body, 0o600); err != nil {
			return fmt.Errorf("failed to write %s golden file: %w", name, err)
		}
	}
	return nil
}

// serveGoldenFile writes a golden file, or a 404 naming the missing file.
func serveGoldenFile(w http.ResponseWriter, goldenDir, name, contentType string) {
	body, err := os.ReadFile(filepath.Join(goldenDir, name))
	if err != nil {
		w.WriteHeader(http.StatusNotFound)
		_, _ = fmt.Fprintf(w, "not found (golden file not found: %s)", name)
		return
	}
	w.Header().Set("Content-Type", contentType)
	_, _ = w.Write(body)
}
