// Package textnorm cleans feed text and derives link identities.
//
// Feed payloads carry HTML fragments, entity-encoded text and mixed Unicode forms. The helpers
// here turn them into plain text suitable for keyword matching and sentence splitting, and
// reduce links to the canonical form that keys intra-crawl deduplication.
package textnorm

import (
	"html"
	"net/url"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/JakeFAU/fxnews-crawler/internal/hash/sha256"
)

var (
	tagPattern   = regexp.MustCompile(`<[^>]+>`)
	dashPattern  = regexp.MustCompile(`[\x{2010}-\x{2015}\-]`)
	spacePattern = regexp.MustCompile(`\s+`)
)

// StripHTML replaces every tag with a space, decodes entities and collapses whitespace.
func StripHTML(s string) string {
	if s == "" {
		return ""
	}
	out := tagPattern.ReplaceAllString(s, " ")
	out = html.UnescapeString(out)
	return strings.TrimSpace(spacePattern.ReplaceAllString(out, " "))
}

// Normalize folds text for keyword matching: entities decoded, NFKC, lower case, dashes to
// spaces, combining marks removed and whitespace collapsed.
func Normalize(s string) string {
	s = html.UnescapeString(s)
	s = norm.NFKC.String(s)
	s = strings.ToLower(s)
	s = dashPattern.ReplaceAllString(s, " ")

	stripMarks := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)))
	folded, _, err := transform.String(stripMarks, s)
	if err != nil {
		folded = s
	}
	return strings.TrimSpace(spacePattern.ReplaceAllString(folded, " "))
}

// CanonicalURL lowercases scheme and host, drops default ports and the fragment, and sorts
// query parameters. Unparseable input is returned trimmed.
func CanonicalURL(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	if u.Scheme == "http" {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}
	u.Fragment = ""
	u.RawFragment = ""
	if u.RawQuery != "" {
		u.RawQuery = u.Query().Encode()
	}
	return u.String()
}

// HashURL is the dedup identity of a link: SHA-256 hex of its canonical form.
func HashURL(link string) string {
	return sha256.HexString(CanonicalURL(link))
}

// Host returns the lowercased host[:port] of rawURL, or "" when it cannot be parsed.
func Host(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Host)
}

// Domain returns the host[:port] of rawURL as written, or "".
func Domain(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}
	return u.Host
}
