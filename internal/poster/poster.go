// Package poster picks the best poster image for a show out of the image URLs found on a
// theatre's detail page.
package poster

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Denylist holds URL fragments that mark an image as site chrome rather than a poster.
var Denylist = []string{
	"logo",
	"banner",
	"placeholder",
	"icon",
	"favicon",
	"sprite",
	"noimage",
	"no-image",
	"no_photo",
	"blank",
	"vnimanie",
	"attention",
}

// deniedScore sits below anything bonuses and penalties can reach for an allowed URL.
const deniedScore = -1_000_000

var (
	bonuses = map[string]int{
		"/upload/": 30,
		"iblock":   20,
		"poster":   25,
		"afisha":   15,
		"afish":    5,
		".jpg":     10,
		".jpeg":    10,
		".webp":    10,
	}
	penalties = map[string]int{
		"header":     20,
		"footer":     20,
		"bg":         10,
		"background": 15,
		"social":     25,
		".svg":       40,
		".gif":       30,
		"thumb":      5,
	}
)

// Denied reports whether u contains a denylisted keyword.
func Denied(u string) bool {
	low := strings.ToLower(u)
	for _, k := range Denylist {
		if strings.Contains(low, k) {
			return true
		}
	}
	return false
}

// Score ranks a candidate URL. Any allowed URL outscores every denied one.
func Score(u string) int {
	if u == "" || Denied(u) {
		return deniedScore
	}
	low := strings.ToLower(u)
	score := 0
	for k, v := range bonuses {
		if strings.Contains(low, k) {
			score += v
		}
	}
	for k, v := range penalties {
		if strings.Contains(low, k) {
			score -= v
		}
	}
	return score
}

// Pick returns the highest scoring allowed candidate. Meta candidates (og:image and the like)
// are considered only when no content candidate qualifies. Ties keep the earlier candidate.
func Pick(content, meta []string) (string, bool) {
	if best, ok := best(content); ok {
		return best, true
	}
	return best(meta)
}

func best(candidates []string) (string, bool) {
	var (
		pick  string
		score = deniedScore
	)
	for _, c := range candidates {
		if s := Score(c); s > score {
			pick, score = c, s
		}
	}
	return pick, pick != ""
}

// ContentCandidates collects image URLs inside sel, resolved against base. Lazy-load attributes
// and srcset entries are included.
func ContentCandidates(sel *goquery.Selection, base *url.URL) []string {
	var out []string
	seen := map[string]bool{}
	add := func(raw string) {
		if abs := Resolve(base, raw); abs != "" && !seen[abs] {
			seen[abs] = true
			out = append(out, abs)
		}
	}
	sel.Find("img").Each(func(_ int, img *goquery.Selection) {
		for _, attr := range []string{"data-src", "data-lazy-src", "src"} {
			if v, ok := img.Attr(attr); ok {
				add(v)
			}
		}
		if v, ok := img.Attr("srcset"); ok {
			for part := range strings.SplitSeq(v, ",") {
				if fields := strings.Fields(part); len(fields) > 0 {
					add(fields[0])
				}
			}
		}
	})
	return out
}

// MetaCandidates collects og:image and twitter:image URLs from doc.
func MetaCandidates(doc *goquery.Document, base *url.URL) []string {
	var out []string
	doc.Find(`meta[property="og:image"], meta[name="og:image"], meta[name="twitter:image"], meta[property="twitter:image"]`).
		Each(func(_ int, m *goquery.Selection) {
			if abs := Resolve(base, m.AttrOr("content", "")); abs != "" {
				out = append(out, abs)
			}
		})
	return out
}

// Resolve turns raw into an absolute http(s) URL against base. Data URIs and unparsable values
// resolve to "".
func Resolve(base *url.URL, raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.HasPrefix(raw, "data:") {
		return ""
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	if base != nil {
		ref = base.ResolveReference(ref)
	}
	if ref.Scheme != "http" && ref.Scheme != "https" {
		return ""
	}
	return ref.String()
}
