// -----------------------------------------------------------------------
// Package report renders a completed scan's findings as a downloadable
// PDF document
// -----------------------------------------------------------------------

package report

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/webpscan/internal/common"
	"github.com/ternarybob/webpscan/internal/models"
	"github.com/ternarybob/webpscan/internal/services/savings"
)

// maxListedImages caps the per-image table; the full set stays
// available through the API.
const maxListedImages = 25

// Service builds scan reports
type Service struct {
	logger arbor.ILogger
}

// NewService creates a report service
func NewService(logger arbor.ILogger) *Service {
	return &Service{logger: logger}
}

// Filename returns the download filename for a scan's report
func Filename(job *models.ScanJob) string {
	host := common.HostOf(job.URL)
	if host == "" {
		host = "site"
	}
	return fmt.Sprintf("webp-scan-%s-%s.pdf", host, job.ID)
}

// Generate renders the scan report as PDF bytes
func (s *Service) Generate(job *models.ScanJob, images []*models.DiscoveredImage, summary savings.Summary) ([]byte, error) {
	markdown := buildMarkdown(job, images, summary)

	pdf, err := renderMarkdownPDF(markdown)
	if err != nil {
		s.logger.Error().Str("scan_id", job.ID).Err(err).Msg("Report generation failed")
		return nil, fmt.Errorf("failed to render report: %w", err)
	}

	s.logger.Debug().
		Str("scan_id", job.ID).
		Int("pdf_bytes", len(pdf)).
		Msg("Report generated")
	return pdf, nil
}

// buildMarkdown composes the report body. The renderer consumes this
// directly, so the structure here defines the document layout.
func buildMarkdown(job *models.ScanJob, images []*models.DiscoveredImage, summary savings.Summary) string {
	var b strings.Builder

	host := common.HostOf(job.URL)
	fmt.Fprintf(&b, "# WebP Savings Report: %s\n\n", host)

	fmt.Fprintf(&b, "Scanned %s", job.URL)
	if job.CompletedAt != nil {
		fmt.Fprintf(&b, " on %s", job.CompletedAt.Format(time.RFC1123))
	}
	b.WriteString(".\n\n")

	b.WriteString("## Summary\n\n")
	b.WriteString("| Metric | Value |\n|---|---|\n")
	fmt.Fprintf(&b, "| Pages scanned | %d |\n", job.PagesScanned)
	fmt.Fprintf(&b, "| Pages discovered | %d |\n", job.PagesDiscovered)
	fmt.Fprintf(&b, "| Non-WebP images found | %d |\n", summary.ImageCount)
	fmt.Fprintf(&b, "| Current image weight | %s |\n", formatBytes(summary.TotalOriginalBytes))
	fmt.Fprintf(&b, "| Estimated WebP weight | %s |\n", formatBytes(summary.TotalEstimatedBytes))
	fmt.Fprintf(&b, "| Potential savings | %s (%.1f%% average) |\n\n",
		formatBytes(summary.TotalSavingsBytes), summary.AverageSavingsPercent)

	if job.ReachedPageLimit {
		b.WriteString("More pages were discovered than the scan's page budget allowed, so the totals above understate the full site.\n\n")
	}

	if byCategory := categoryRows(images); len(byCategory) > 0 {
		b.WriteString("## Savings by Category\n\n")
		b.WriteString("| Category | Images | Current | Potential Savings |\n|---|---|---|---|\n")
		for _, row := range byCategory {
			fmt.Fprintf(&b, "| %s | %d | %s | %s |\n",
				row.name, row.count, formatBytes(row.originalBytes), formatBytes(row.savingsBytes))
		}
		b.WriteString("\n")
	}

	if len(images) > 0 {
		b.WriteString("## Largest Opportunities\n\n")
		b.WriteString("| Image | Type | Size | Savings |\n|---|---|---|---|\n")

		sorted := make([]*models.DiscoveredImage, len(images))
		copy(sorted, images)
		sort.Slice(sorted, func(i, j int) bool {
			return sorted[i].PotentialSavingsBytes > sorted[j].PotentialSavingsBytes
		})
		if len(sorted) > maxListedImages {
			sorted = sorted[:maxListedImages]
		}
		for _, img := range sorted {
			fmt.Fprintf(&b, "| %s | %s | %s | %s (%.0f%%) |\n",
				shortenURL(img.ImageURL), img.MimeType,
				formatBytes(img.SizeBytes),
				formatBytes(img.PotentialSavingsBytes), img.PotentialSavingsPercent)
		}
		b.WriteString("\n")
		if len(images) > maxListedImages {
			fmt.Fprintf(&b, "Showing the top %d of %d images.\n\n", maxListedImages, len(images))
		}
	} else {
		b.WriteString("No non-WebP images were found. The site already serves modern image formats.\n\n")
	}

	b.WriteString("---\n\n")
	b.WriteString("Savings are estimates based on typical WebP compression ratios per source format; actual results depend on image content and encoder settings.\n")

	return b.String()
}

type categoryRow struct {
	name          string
	count         int
	originalBytes int64
	savingsBytes  int64
}

func categoryRows(images []*models.DiscoveredImage) []categoryRow {
	byName := make(map[string]*categoryRow)
	for _, img := range images {
		row, ok := byName[img.Category]
		if !ok {
			row = &categoryRow{name: img.Category}
			byName[img.Category] = row
		}
		row.count++
		row.originalBytes += img.SizeBytes
		row.savingsBytes += img.PotentialSavingsBytes
	}

	rows := make([]categoryRow, 0, len(byName))
	for _, row := range byName {
		rows = append(rows, *row)
	}
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].savingsBytes > rows[j].savingsBytes
	})
	return rows
}

// shortenURL trims long image URLs to their path tail so table cells
// stay readable.
func shortenURL(raw string) string {
	const limit = 60
	if len(raw) <= limit {
		return raw
	}
	return "..." + raw[len(raw)-limit+3:]
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGTPE"[exp])
}
