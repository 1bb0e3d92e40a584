package normalize

import (
	"strconv"
	"strings"

	"github.com/maltedev/catalog-ingest/internal/catalog"
)

const widthPlaceholder = "{width}"

// imageURLs cleans, resizes and de-duplicates urls, keeping first-seen order.
func imageURLs(urls []string, width int) []string {
	out := make([]string, 0, len(urls))
	seen := make(map[string]bool, len(urls))
	for _, u := range urls {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		u = strings.ReplaceAll(u, widthPlaceholder, strconv.Itoa(width))
		if strings.HasPrefix(u, "//") {
			u = "https:" + u
		}
		if seen[u] {
			continue
		}
		seen[u] = true
		out = append(out, u)
	}
	return out
}

func buildImages(urls []string, alt string) []catalog.Image {
	images := make([]catalog.Image, len(urls))
	for i, u := range urls {
		images[i] = catalog.Image{URL: u, Alt: alt, SortOrder: i}
	}
	return images
}
