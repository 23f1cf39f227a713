package frontier

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ExtractLinks parses rendered HTML and returns the absolute form of every
// anchor href, resolved against pageURL. Unparseable documents or hrefs
// are skipped; filtering (origin, extension, dedup) is Push's job.
func ExtractLinks(html string, pageURL string) []string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil
	}

	var links []string
	seen := make(map[string]struct{})
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok || href == "" {
			return
		}
		href = strings.TrimSpace(href)
		for _, prefix := range skipPrefixes {
			if strings.HasPrefix(href, prefix) {
				return
			}
		}
		ref, err := base.Parse(href)
		if err != nil {
			return
		}
		ref.Fragment = ""
		abs := ref.String()
		if _, dup := seen[abs]; dup {
			return
		}
		seen[abs] = struct{}{}
		links = append(links, abs)
	})
	return links
}
