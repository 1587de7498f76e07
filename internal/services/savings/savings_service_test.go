package savings

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/ternarybob/webpscan/internal/models"
)

func TestEstimateForPNG(t *testing.T) {
	est := EstimateFor("image/png", 100_000)

	assert.Equal(t, int64(66_000), est.EstimatedWebPBytes)
	assert.Equal(t, int64(34_000), est.SavingsBytes)
	assert.InDelta(t, 34.0, est.SavingsPercent, 0.01)
}

func TestEstimateForKnownFormats(t *testing.T) {
	tests := []struct {
		mime          string
		wantEstimated int64
	}{
		{"image/png", 66},
		{"image/jpeg", 75},
		{"image/jpg", 75},
		{"image/gif", 55},
		{"image/bmp", 45},
		{"image/tiff", 60},
		{"image/x-unknown", 80},
		{"", 80},
		{"image/jpeg; charset=binary", 75},
	}

	for _, tt := range tests {
		t.Run(tt.mime, func(t *testing.T) {
			est := EstimateFor(tt.mime, 100)
			assert.Equal(t, tt.wantEstimated, est.EstimatedWebPBytes)
		})
	}
}

func TestEstimateForZeroAndTinySizes(t *testing.T) {
	assert.Equal(t, Estimate{}, EstimateFor("image/png", 0))
	assert.Equal(t, Estimate{}, EstimateFor("image/png", -5))

	// A one-byte image rounds to one byte estimated, zero savings
	est := EstimateFor("image/png", 1)
	assert.GreaterOrEqual(t, est.EstimatedWebPBytes, int64(0))
	assert.LessOrEqual(t, est.EstimatedWebPBytes, int64(1))
	assert.Equal(t, est.SavingsBytes, int64(1)-est.EstimatedWebPBytes)
}

func TestSummarize(t *testing.T) {
	images := []*models.DiscoveredImage{
		{SizeBytes: 100_000, PotentialSavingsBytes: 34_000, PotentialSavingsPercent: 34},
		{SizeBytes: 200_000, PotentialSavingsBytes: 50_000, PotentialSavingsPercent: 25},
	}

	s := Summarize(images)
	assert.Equal(t, 2, s.ImageCount)
	assert.Equal(t, int64(300_000), s.TotalOriginalBytes)
	assert.Equal(t, int64(84_000), s.TotalSavingsBytes)
	assert.Equal(t, int64(216_000), s.TotalEstimatedBytes)
	assert.InDelta(t, 29.5, s.AverageSavingsPercent, 0.01)
}

func TestSummarizeEmpty(t *testing.T) {
	s := Summarize(nil)
	assert.Equal(t, 0, s.ImageCount)
	assert.Equal(t, 0.0, s.AverageSavingsPercent)
}

func TestCategorize(t *testing.T) {
	tests := []struct {
		url  string
		alt  string
		want string
	}{
		{"https://example.com/img/hero-home.png", "", "Hero & Banners"},
		{"https://example.com/assets/main-banner.jpg", "", "Hero & Banners"},
		{"https://example.com/products/widget-1.jpg", "", "Product Images"},
		{"https://example.com/img/tn_photo.jpg", "", "Thumbnails"},
		{"https://example.com/img/photo-thumb.jpg", "", "Thumbnails"},
		{"https://example.com/static/logo.png", "", "Icons"},
		{"https://example.com/img/bg_stripes.png", "", "Backgrounds"},
		{"https://example.com/img/photo.jpg", "company logo", "Icons"},
		{"https://example.com/img/photo.jpg", "", "Other"},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.want, Categorize(tt.url, tt.alt))
		})
	}
}

func TestCategorizePriorityOrder(t *testing.T) {
	// A URL matching several rules lands in the first one
	assert.Equal(t, "Hero & Banners", Categorize("https://example.com/products/hero-thumb.png", ""))
}
