package scraper

import (
	"github.com/drewfead/rzn-watcher/internal"
)

// Aggregator runs every scraper in reg concurrently and merges their events by date. When no
// source produces anything the built-in sample dataset is returned instead.
func Aggregator(reg Registry) internal.Scraper {
	if reg == nil {
		return Fallback()
	}
	return WithFallback(Fallback())(Interleaved(reg.Scrapers()...))
}
