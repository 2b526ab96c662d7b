package enrich

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/JakeFAU/fxnews-crawler/internal/textnorm"
)

// DefaultCategory is used when no lexicon matches.
const DefaultCategory = "general"

type lexicon struct {
	category string
	patterns []*regexp.Regexp
}

// lexicons are checked in order; the first category with any matching keyword wins.
var lexicons = buildLexicons([]struct {
	category string
	keywords []string
}{
	{"forex", []string{"forex", "exchange rate", "fx", "usd", "eur", "jpy", "gbp", "aud", "cad", "cny", "dxy"}},
	{"economy", []string{
		"inflation", "interest rate", "gdp", "recession", "economic", "cpi", "ppi", "pce",
		"payrolls", "jobs", "unemployment", "retail sales", "pmi",
	}},
	{"crypto", []string{"bitcoin", "ethereum", "btc", "eth", "crypto", "blockchain", "stablecoin", "defi", "etf", "halving"}},
	{"stocks", []string{
		"stock", "equity", "nasdaq", "nasdaq-100", "dow", "djia", "s&p", "s&amp;p", "s p 500",
		"sp500", "earnings", "ipo", "buyback", "dividend",
	}},
	{"commodities", []string{
		"oil", "brent", "wti", "gold", "xau", "silver", "xag", "copper", "commodity",
		"futures", "opec", "natural gas",
	}},
	{"central_banks", []string{
		"fed", "ecb", "boj", "boe", "rba", "rbnz", "boc", "snb", "norges bank", "rate hike",
		"rate cut", "qe", "qt",
	}},
})

func buildLexicons(defs []struct {
	category string
	keywords []string
}) []lexicon {
	out := make([]lexicon, 0, len(defs))
	for _, d := range defs {
		lx := lexicon{category: d.category}
		for _, kw := range d.keywords {
			pattern := regexp.QuoteMeta(kw)
			if isAlnum(kw) {
				pattern = `\b` + pattern + `\b`
			}
			lx.patterns = append(lx.patterns, regexp.MustCompile(pattern))
		}
		out = append(out, lx)
	}
	return out
}

func isAlnum(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// Classify picks a category from title and content by keyword lexicon.
func Classify(title, content string) string {
	text := textnorm.Normalize(title + " " + content)
	for _, lx := range lexicons {
		for _, p := range lx.patterns {
			if p.MatchString(text) {
				return lx.category
			}
		}
	}
	return DefaultCategory
}

// Summarize keeps the first two ". "-separated fragments of content, ending with a period.
func Summarize(content string) string {
	var parts []string
	for _, p := range strings.Split(content, ". ") {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
		if len(parts) == 2 {
			break
		}
	}
	if len(parts) == 0 {
		return ""
	}
	s := strings.Join(parts, ". ")
	if !strings.HasSuffix(s, ".") {
		s += "."
	}
	return s
}
