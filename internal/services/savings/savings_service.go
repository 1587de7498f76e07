// -----------------------------------------------------------------------
// Package savings estimates WebP conversion gains for discovered images
// -----------------------------------------------------------------------

package savings

import (
	"math"
	"regexp"
	"strings"

	"github.com/ternarybob/webpscan/internal/models"
)

// conversionRatios maps a source MIME type to the expected WebP size as
// a fraction of the original. Derived from typical lossless/lossy WebP
// results per format.
var conversionRatios = map[string]float64{
	"image/png":  0.66,
	"image/jpeg": 0.75,
	"image/gif":  0.55,
	"image/bmp":  0.45,
	"image/tiff": 0.60,
}

// unknownRatio is the conservative default for unrecognized formats
const unknownRatio = 0.80

// Estimate is the per-image savings projection
type Estimate struct {
	EstimatedWebPBytes int64   `json:"estimatedWebpBytes"`
	SavingsBytes       int64   `json:"savingsBytes"`
	SavingsPercent     float64 `json:"savingsPercent"`
}

// Summary aggregates estimates across a scan's images
type Summary struct {
	ImageCount             int     `json:"imageCount"`
	TotalOriginalBytes     int64   `json:"totalOriginalBytes"`
	TotalEstimatedBytes    int64   `json:"totalEstimatedBytes"`
	TotalSavingsBytes      int64   `json:"totalSavingsBytes"`
	AverageSavingsPercent  float64 `json:"averageSavingsPercent"`
	SumSavingsPercent      float64 `json:"-"`
}

// EstimateFor projects the WebP size for an image of the given MIME type
// and size. The estimate is clamped to [0, sizeBytes] and the percent is
// derived from the clamped value so the two never disagree.
func EstimateFor(mimeType string, sizeBytes int64) Estimate {
	if sizeBytes <= 0 {
		return Estimate{}
	}

	ratio, ok := conversionRatios[normalizeMime(mimeType)]
	if !ok {
		ratio = unknownRatio
	}

	estimated := int64(math.Round(float64(sizeBytes) * ratio))
	if estimated < 0 {
		estimated = 0
	}
	if estimated > sizeBytes {
		estimated = sizeBytes
	}

	savings := sizeBytes - estimated
	return Estimate{
		EstimatedWebPBytes: estimated,
		SavingsBytes:       savings,
		SavingsPercent:     float64(savings) / float64(sizeBytes) * 100,
	}
}

// Summarize folds per-image estimates into scan totals
func Summarize(images []*models.DiscoveredImage) Summary {
	var s Summary
	for _, img := range images {
		s.ImageCount++
		s.TotalOriginalBytes += img.SizeBytes
		s.TotalSavingsBytes += img.PotentialSavingsBytes
		s.TotalEstimatedBytes += img.SizeBytes - img.PotentialSavingsBytes
		s.SumSavingsPercent += img.PotentialSavingsPercent
	}
	if s.ImageCount > 0 {
		s.AverageSavingsPercent = s.SumSavingsPercent / float64(s.ImageCount)
	}
	return s
}

func normalizeMime(mimeType string) string {
	mime := strings.ToLower(strings.TrimSpace(mimeType))
	if idx := strings.Index(mime, ";"); idx >= 0 {
		mime = strings.TrimSpace(mime[:idx])
	}
	if mime == "image/jpg" {
		return "image/jpeg"
	}
	return mime
}

// categoryRule pairs a display category with the URL/alt-text pattern
// that selects it. Rules are evaluated in order; first match wins.
type categoryRule struct {
	name    string
	pattern *regexp.Regexp
}

var categoryRules = []categoryRule{
	{"Hero & Banners", regexp.MustCompile(`(?i)(hero|banner|carousel|slider|masthead|jumbotron)`)},
	{"Product Images", regexp.MustCompile(`(?i)(product|item|sku|catalog|shop|store)`)},
	{"Thumbnails", regexp.MustCompile(`(?i)(thumb|thumbnail|preview|small|tn[-_])`)},
	{"Icons", regexp.MustCompile(`(?i)(icon|logo|favicon|sprite|badge)`)},
	{"Backgrounds", regexp.MustCompile(`(?i)(background|bg[-_]|backdrop|pattern|texture)`)},
}

// CategoryOther is the fallback bucket when no rule matches
const CategoryOther = "Other"

// Categorize buckets an image by its URL and alt text
func Categorize(imageURL, altText string) string {
	haystack := imageURL + " " + altText
	for _, rule := range categoryRules {
		if rule.pattern.MatchString(haystack) {
			return rule.name
		}
	}
	return CategoryOther
}
