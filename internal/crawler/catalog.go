package crawler

import (
	"sort"
	"strings"
)

// DefaultGroupOrder is the group selection used when a request names none.
var DefaultGroupOrder = []string{
	"google_news", "central_banks", "energy", "markets",
	"crypto", "financial_media", "regional_vn", "institutions",
}

// DefaultGroups returns a fresh copy of the built-in source catalog.
func DefaultGroups() map[string][]string {
	return map[string][]string{
		"google_news": {
			"https://news.google.com/rss/search?q=forex+OR+%22exchange+rate%22&hl=en-US&gl=US&ceid=US:en",
			"https://news.google.com/rss/search?q=USD+EUR+OR+currency&hl=en-US&gl=US&ceid=US:en",
			"https://news.google.com/rss/search?q=economy+inflation+interest+rates&hl=en-US&gl=US&ceid=US:en",
		},
		"central_banks": {
			"https://www.federalreserve.gov/feeds/press_all.xml",
			"https://www.ecb.europa.eu/home/html/rss.en.html",
			"https://www.bis.org/rss/index.htm",
			"https://www.chicagofed.org/forms/rss/NewsReleases",
			"https://www.dnb.nl/en/rss/",
			"https://www.norges-bank.no/en/rss-feeds/",
			"https://www.bankofengland.co.uk/rss/news",
		},
		"institutions": {
			"https://www.imf.org/en/rss-list",
			"https://www.oecd.org/en/about/newsroom.html",
			"https://www.worldbank.org/en/news",
		},
		"energy": {
			"https://www.eia.gov/rss/todayinenergy.xml",
			"https://www.eia.gov/rss/press_rss.xml",
			"https://www.energyintel.com/rss-feed",
			"https://energy.einnews.com/all_rss",
		},
		"markets": {
			"https://feeds.marketwatch.com/marketwatch/topstories/",
			"https://www.investing.com/rss/news_1.rss",
			"https://rss.cnn.com/rss/money_latest.rss",
			"https://feeds.bbci.co.uk/news/business/rss.xml",
			"https://news.google.com/rss/search?q=site:reuters.com+markets&hl=en-US&gl=US&ceid=US:en",
			"https://news.google.com/rss/search?q=stock+market+OR+trading&hl=en-US&gl=US&ceid=US:en",
		},
		"crypto": {
			"https://www.coindesk.com/arc/outboundfeeds/rss/?outputType=xml",
			"https://cointelegraph.com/feed",
		},
		"financial_media": {
			"https://www.ft.com/news-feed?format=rss",
			"https://news.google.com/rss/search?q=finance&hl=en-US&gl=US&ceid=US:en",
			"https://www.cnbc.com/id/100003114/device/rss/rss.html",
			"https://www.cnbc.com/id/10001147/device/rss/rss.html",
			"https://rss.cnn.com/rss/money_latest.rss",
			"https://feeds.businessinsider.com/custom/all",
		},
		"regional_vn": {
			"https://news.google.com/rss/search?q=t%E1%BB%B7+gi%C3%A1+h%E1%BB%91i+%C4%91o%E1%BA%A1i+OR+%22t%E1%BB%B7+gi%C3%A1%22&hl=vi&gl=VN&ceid=VN:vi",
			"https://news.google.com/rss/search?q=l%E1%BA%A1m+ph%C3%A1t+Vi%E1%BB%87t+Nam+OR+l%C3%A3i+su%E1%BA%A5t+Vi%E1%BB%87t+Nam&hl=vi&gl=VN&ceid=VN:vi",
		},
	}
}

// Catalog maps group names to feed URLs. It is read-only after construction.
type Catalog struct {
	groups    map[string][]string
	defaults  []string
	overrides []string
}

// NewCatalog builds a Catalog. A non-empty overrides list replaces group selection entirely.
func NewCatalog(groups map[string][]string, defaults, overrides []string) *Catalog {
	if groups == nil {
		groups = DefaultGroups()
	}
	if len(defaults) == 0 {
		defaults = DefaultGroupOrder
	}
	return &Catalog{
		groups:    groups,
		defaults:  cleanList(defaults),
		overrides: cleanList(overrides),
	}
}

// DefaultSelection returns the group names used when a request names none.
func (c *Catalog) DefaultSelection() []string {
	return append([]string(nil), c.defaults...)
}

// Resolve returns the feeds to crawl for the requested groups, in catalog order. Unknown groups
// contribute nothing and a URL shared by several groups is attributed to the first one.
func (c *Catalog) Resolve(requested []string) []FeedSource {
	if len(c.overrides) > 0 {
		out := make([]FeedSource, 0, len(c.overrides))
		seen := make(map[string]struct{}, len(c.overrides))
		for _, u := range c.overrides {
			if _, ok := seen[u]; ok {
				continue
			}
			seen[u] = struct{}{}
			out = append(out, FeedSource{URL: u, Group: EnvOverridesGroup})
		}
		return out
	}

	selected := cleanList(requested)
	if len(selected) == 0 {
		selected = c.defaults
	}

	var out []FeedSource
	seen := make(map[string]struct{})
	for _, g := range selected {
		for _, u := range c.groups[g] {
			if _, ok := seen[u]; ok {
				continue
			}
			seen[u] = struct{}{}
			out = append(out, FeedSource{URL: u, Group: g})
		}
	}
	return out
}

// Groups regroups Resolve's output by group name, sorted by name.
func (c *Catalog) Groups(requested []string) []Group {
	byName := make(map[string][]string)
	for _, src := range c.Resolve(requested) {
		byName[src.Group] = append(byName[src.Group], src.URL)
	}
	out := make([]Group, 0, len(byName))
	for name, feeds := range byName {
		out = append(out, Group{Name: name, Feeds: feeds})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// SplitList splits a comma-separated parameter, dropping blanks.
func SplitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	return cleanList(strings.Split(raw, ","))
}

func cleanList(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
