package crawler

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/webpscan/internal/common"
)

// ImageRef is one image reference lifted from a page, with the alt text
// that feeds category bucketing.
type ImageRef struct {
	URL string
	Alt string
}

// backgroundImageRe pulls url(...) values out of inline style
// attributes. The shorthand form may put a color or position before the
// url token, so anything up to the next declaration is allowed first.
var backgroundImageRe = regexp.MustCompile(`(?i)background(?:-image)?\s*:[^;]*?url\(\s*['"]?([^'")]+)['"]?\s*\)`)

// ExtractLinks returns normalized same-host anchor targets from the page
func ExtractLinks(doc *goquery.Document, pageURL string) []string {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil
	}

	seen := make(map[string]bool)
	var links []string

	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") ||
			strings.HasPrefix(href, "mailto:") || strings.HasPrefix(href, "tel:") ||
			strings.HasPrefix(href, "javascript:") {
			return
		}

		resolved := resolveURL(base, href)
		if resolved == "" {
			return
		}
		normalized := common.NormalizeURL(resolved)
		if !common.SameHost(pageURL, normalized) {
			return
		}
		if !seen[normalized] {
			seen[normalized] = true
			links = append(links, normalized)
		}
	})

	return links
}

// ExtractImages returns every image reference on the page: img src and
// srcset, picture sources, and inline background-image styles. Duplicate
// URLs keep the first alt text seen.
func ExtractImages(doc *goquery.Document, pageURL string) []ImageRef {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil
	}

	seen := make(map[string]bool)
	var images []ImageRef

	add := func(raw, alt string) {
		raw = strings.TrimSpace(raw)
		if raw == "" || strings.HasPrefix(raw, "data:") {
			return
		}
		resolved := resolveURL(base, raw)
		if resolved == "" {
			return
		}
		if u, perr := url.Parse(resolved); perr != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return
		}
		if !seen[resolved] {
			seen[resolved] = true
			images = append(images, ImageRef{URL: resolved, Alt: alt})
		}
	}

	doc.Find("img").Each(func(_ int, sel *goquery.Selection) {
		alt, _ := sel.Attr("alt")
		if src, ok := sel.Attr("src"); ok {
			add(src, alt)
		}
		if srcset, ok := sel.Attr("srcset"); ok {
			for _, candidate := range parseSrcset(srcset) {
				add(candidate, alt)
			}
		}
	})

	doc.Find("picture source[srcset]").Each(func(_ int, sel *goquery.Selection) {
		srcset, _ := sel.Attr("srcset")
		alt := sel.Parent().Find("img").AttrOr("alt", "")
		for _, candidate := range parseSrcset(srcset) {
			add(candidate, alt)
		}
	})

	doc.Find("[style]").Each(func(_ int, sel *goquery.Selection) {
		style, _ := sel.Attr("style")
		for _, match := range backgroundImageRe.FindAllStringSubmatch(style, -1) {
			add(match[1], "")
		}
	})

	return images
}

// parseSrcset splits a srcset attribute into its candidate URLs,
// dropping the width/density descriptors.
func parseSrcset(srcset string) []string {
	var urls []string
	for _, candidate := range strings.Split(srcset, ",") {
		fields := strings.Fields(strings.TrimSpace(candidate))
		if len(fields) > 0 {
			urls = append(urls, fields[0])
		}
	}
	return urls
}

func resolveURL(base *url.URL, ref string) string {
	parsed, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	return base.ResolveReference(parsed).String()
}
