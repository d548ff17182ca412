package httputil

import (
	"bytes"
	"io"
	"unicode"

	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding/charmap"
)

// Markers reports whether decoded text looks like the page it should be.
type Markers func(text string) bool

// HasCyrillic is a Markers that accepts any text containing a Cyrillic letter.
func HasCyrillic(text string) bool {
	for _, r := range text {
		if unicode.Is(unicode.Cyrillic, r) {
			return true
		}
	}
	return false
}

// DecodeHTML decodes a page body. The default decoding honors the Content-Type, a BOM or a
// <meta charset> and otherwise sniffs; when markers do not match the result the raw bytes are
// re-decoded as windows-1251. ok is false when neither decoding satisfies markers, in which case
// the default decoding is returned.
func DecodeHTML(body []byte, contentType string, markers Markers) (text string, ok bool) {
	primary := decodeDefault(body, contentType)
	if markers == nil || markers(primary) {
		return primary, true
	}
	legacy, err := charmap.Windows1251.NewDecoder().Bytes(body)
	if err == nil && markers(string(legacy)) {
		return string(legacy), true
	}
	return primary, false
}

func decodeDefault(body []byte, contentType string) string {
	r, err := charset.NewReader(bytes.NewReader(body), contentType)
	if err != nil {
		return string(body)
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return string(body)
	}
	return string(out)
}
