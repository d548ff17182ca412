// Package textutil holds the text normalization shared by the source adapters and the grouper.
package textutil

import (
	"regexp"
	"strings"
	"time"
	"unicode"
)

// quoteReplacer removes the quote characters playbills wrap titles in.
var quoteReplacer = strings.NewReplacer(
	"«", "", "»", "",
	"\"", "",
	"„", "", "“", "", "”", "",
	"‹", "", "›", "",
)

// StripQuotes removes quote characters from s.
func StripQuotes(s string) string {
	return quoteReplacer.Replace(s)
}

// CollapseSpaces replaces every run of whitespace (including NBSP and narrow NBSP) with one space
// and trims the result.
func CollapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

var trailingParenRE = regexp.MustCompile(`\s*\([^()]*\)\s*$`)

// CleanTitle strips quotes, collapses whitespace and removes trailing parenthetical
// annotations such as "(12+)" or "(премьера)".
func CleanTitle(raw string) string {
	s := CollapseSpaces(StripQuotes(raw))
	for {
		trimmed := trailingParenRE.ReplaceAllString(s, "")
		if trimmed == s || trimmed == "" {
			return s
		}
		s = strings.TrimSpace(trimmed)
	}
}

// NormalizeTitle is the comparison form of a title: quotes stripped, whitespace collapsed,
// lowercased. It is never shown to users.
func NormalizeTitle(title string) string {
	return strings.ToLower(CollapseSpaces(StripQuotes(title)))
}

// Slug lowercases s and maps every run of characters that are neither letters nor digits
// (in any script) to a single hyphen, trimming hyphens at both ends.
func Slug(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	pendingHyphen := false
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsNumber(r) {
			if pendingHyphen && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingHyphen = false
			b.WriteRune(r)
			continue
		}
		pendingHyphen = true
	}
	return b.String()
}

// months maps Russian month names in the genitive case ("24 декабря") to months.
var months = map[string]time.Month{
	"января":   time.January,
	"февраля":  time.February,
	"марта":    time.March,
	"апреля":   time.April,
	"мая":      time.May,
	"июня":     time.June,
	"июля":     time.July,
	"августа":  time.August,
	"сентября": time.September,
	"октября":  time.October,
	"ноября":   time.November,
	"декабря":  time.December,
}

// nominativeMonths maps calendar header month names ("Декабрь 2025") to months.
var nominativeMonths = map[string]time.Month{
	"январь":   time.January,
	"февраль":  time.February,
	"март":     time.March,
	"апрель":   time.April,
	"май":      time.May,
	"июнь":     time.June,
	"июль":     time.July,
	"август":   time.August,
	"сентябрь": time.September,
	"октябрь":  time.October,
	"ноябрь":   time.November,
	"декабрь":  time.December,
}

// MonthGenitive looks up a genitive month token. Case and trailing punctuation are ignored.
func MonthGenitive(token string) (time.Month, bool) {
	m, ok := months[monthKey(token)]
	return m, ok
}

// MonthNominative looks up a nominative month token as used in calendar headers.
func MonthNominative(token string) (time.Month, bool) {
	m, ok := nominativeMonths[monthKey(token)]
	return m, ok
}

func monthKey(token string) string {
	return strings.Trim(strings.ToLower(strings.TrimSpace(token)), ".,")
}

// GenitiveMonthPattern is a regexp alternation of all genitive month names.
const GenitiveMonthPattern = `января|февраля|марта|апреля|мая|июня|июля|августа|сентября|октября|ноября|декабря`

// RollYear returns the year for a month printed without a year, relative to now:
// a January listing seen in December belongs to next year.
func RollYear(now time.Time, month time.Month) int {
	if now.Month() == time.December && month == time.January {
		return now.Year() + 1
	}
	return now.Year()
}
