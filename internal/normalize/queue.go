package normalize

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

const (
	day   = 24 * time.Hour
	month = 30 * day
)

// QueueTime renders an average queue time given in milliseconds the way IonQ
// shows it: "> 1month", "Xd Yhrs Zmin", "Xhrs Ymin", "Xmin" or "< 1min".
func QueueTime(ms int64) string {
	d := time.Duration(ms) * time.Millisecond
	mins := int64(d%time.Hour) / int64(time.Minute)

	switch {
	case d >= month:
		return "> 1month"
	case d > day:
		return fmt.Sprintf("%dd %dhrs %dmin", int64(d/day), int64(d%day)/int64(time.Hour), mins)
	case d > time.Hour:
		return fmt.Sprintf("%dhrs %dmin", int64(d/time.Hour), mins)
	case d > time.Minute:
		return fmt.Sprintf("%dmin", int64(d/time.Minute))
	default:
		return "< 1min"
	}
}

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// Slug lowercases s and collapses every run of other characters into one hyphen.
func Slug(s string) string {
	return strings.Trim(nonAlnum.ReplaceAllString(strings.ToLower(s), "-"), "-")
}

// BID derives the backend identifier from its display name and, for records
// that came through a third-party platform, that platform's name.
func BID(name, platform string) string {
	if platform == "" {
		return Slug(name)
	}
	return Slug(name) + "-" + Slug(platform)
}

// capitalize upper-cases the first letter and lower-cases the rest.
func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + strings.ToLower(s[size:])
}
