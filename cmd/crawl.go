package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/fxnews-crawler/internal/crawler"
	"github.com/JakeFAU/fxnews-crawler/internal/pipeline"
)

type crawlOptions struct {
	windowHours int
	limit       int
	groups      string
	base        string
	quote       string
}

// newCrawlCmd runs the pipeline once and prints the same JSON document GET /crawl returns.
func newCrawlCmd() *cobra.Command {
	opts := crawlOptions{}
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Run one crawl and print the result as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCrawl(cmd, opts)
		},
	}
	cmd.Flags().IntVar(&opts.windowHours, "window-hours", 12, "only keep articles published within this many hours")
	cmd.Flags().IntVar(&opts.limit, "limit", 50, "maximum number of articles (0 keeps all)")
	cmd.Flags().StringVar(&opts.groups, "groups", "", "comma-separated source groups (default: configured selection)")
	cmd.Flags().StringVar(&opts.base, "base", "", "base currency for the pair filter")
	cmd.Flags().StringVar(&opts.quote, "quote", "", "quote currency for the pair filter")
	return cmd
}

func runCrawl(cmd *cobra.Command, opts crawlOptions) error {
	if opts.windowHours < 0 || opts.limit < 0 {
		return fmt.Errorf("window-hours and limit must be >= 0")
	}
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}

	res, err := appInstance.Crawl(cmd.Context(), pipeline.Request{
		WindowHours: opts.windowHours,
		Limit:       opts.limit,
		Groups:      crawler.SplitList(opts.groups),
		Base:        strings.TrimSpace(opts.base),
		Quote:       strings.TrimSpace(opts.quote),
	})
	if err != nil {
		return err
	}

	groups := opts.groups
	if groups == "" {
		groups = strings.Join(appInstance.Catalog().DefaultSelection(), ",")
	}
	news := res.Articles
	if news == nil {
		news = []crawler.EnrichedArticle{}
	}
	payload := map[string]any{
		"status":       "success",
		"count":        len(news),
		"news":         news,
		"window_hours": opts.windowHours,
		"groups":       groups,
		"base":         nullable(opts.base),
		"quote":        nullable(opts.quote),
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(payload); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	return nil
}

func nullable(s string) any {
	if s = strings.TrimSpace(s); s == "" {
		return nil
	}
	return s
}
