// -----------------------------------------------------------------------
// Package webpzip packages a completed scan's images as WebP
// conversions in a downloadable zip artifact
// -----------------------------------------------------------------------

package webpzip

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/webpscan/internal/common"
	"github.com/ternarybob/webpscan/internal/interfaces"
	"github.com/ternarybob/webpscan/internal/models"
)

// maxImageDownloadBytes bounds a single source image download
const maxImageDownloadBytes = 20 << 20

// Service builds WebP conversion zips for completed scans
type Service struct {
	config     *common.Config
	zips       interfaces.ZipStorage
	transcoder interfaces.Transcoder
	client     *http.Client
	logger     arbor.ILogger
	now        func() time.Time
}

// NewService creates the zip builder
func NewService(config *common.Config, zips interfaces.ZipStorage, transcoder interfaces.Transcoder, logger arbor.ILogger) *Service {
	return &Service{
		config:     config,
		zips:       zips,
		transcoder: transcoder,
		client: &http.Client{
			Timeout: config.Crawler.PageFetchTimeout(),
		},
		logger: logger,
		now:    time.Now,
	}
}

// BuildForScan downloads, converts, and zips the scan's images, then
// records the artifact row. A nil zip with nil error means nothing was
// convertible; the scan still completes normally.
func (s *Service) BuildForScan(ctx context.Context, job *models.ScanJob, images []*models.DiscoveredImage) (*models.ConvertedImageZip, error) {
	if !s.config.WebPConversion.Enabled || len(images) == 0 {
		return nil, nil
	}

	buildCtx, cancel := context.WithTimeout(ctx, time.Duration(s.config.WebPConversion.TimeoutSeconds)*time.Second)
	defer cancel()

	if err := os.MkdirAll(s.config.Storage.Filesystem.Zips, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create zips directory: %w", err)
	}

	downloadID := common.NewDownloadID()
	filePath := filepath.Join(s.config.Storage.Filesystem.Zips, downloadID+".zip")

	converted, sizeBytes, err := s.writeZip(buildCtx, filePath, images)
	if err != nil {
		os.Remove(filePath)
		return nil, err
	}
	if converted == 0 {
		os.Remove(filePath)
		s.logger.Info().Str("scan_id", job.ID).Msg("No images converted, zip skipped")
		return nil, nil
	}

	now := s.now()
	artifact := &models.ConvertedImageZip{
		DownloadID: downloadID,
		ScanID:     job.ID,
		FilePath:   filePath,
		Filename:   fmt.Sprintf("webp-images-%s.zip", common.HostOf(job.URL)),
		SizeBytes:  sizeBytes,
		ImageCount: converted,
		CreatedAt:  now,
		ExpiresAt:  now.Add(time.Duration(s.config.Retention.ZipTTLHours) * time.Hour),
	}

	// The row is the source of truth: an orphaned file must not survive
	// a failed insert.
	if err := s.zips.SaveZip(ctx, artifact); err != nil {
		os.Remove(filePath)
		return nil, fmt.Errorf("failed to record zip artifact: %w", err)
	}

	s.logger.Info().
		Str("scan_id", job.ID).
		Str("download_id", downloadID).
		Int("images", converted).
		Int64("size_bytes", sizeBytes).
		Msg("WebP zip built")
	return artifact, nil
}

// writeZip streams each convertible image into the archive. Per-image
// failures are skipped; the build only fails on filesystem errors.
func (s *Service) writeZip(ctx context.Context, filePath string, images []*models.DiscoveredImage) (int, int64, error) {
	file, err := os.Create(filePath)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to create zip file: %w", err)
	}
	defer file.Close()

	archive := zip.NewWriter(file)
	converted := 0
	seen := make(map[string]int)

	for _, img := range images {
		if ctx.Err() != nil {
			break
		}

		data, err := s.download(ctx, img.ImageURL)
		if err != nil {
			s.logger.Debug().Str("image_url", img.ImageURL).Err(err).Msg("Image download failed, skipped")
			continue
		}

		webp, err := s.transcoder.ToWebP(ctx, data, s.config.WebPConversion.Quality)
		if err != nil {
			s.logger.Debug().Str("image_url", img.ImageURL).Err(err).Msg("Image conversion failed, skipped")
			continue
		}

		entry, err := archive.Create(entryName(img.ImageURL, seen))
		if err != nil {
			archive.Close()
			return 0, 0, fmt.Errorf("failed to add zip entry: %w", err)
		}
		if _, err := entry.Write(webp); err != nil {
			archive.Close()
			return 0, 0, fmt.Errorf("failed to write zip entry: %w", err)
		}
		converted++
	}

	if err := archive.Close(); err != nil {
		return 0, 0, fmt.Errorf("failed to finalize zip: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		return 0, 0, fmt.Errorf("failed to stat zip: %w", err)
	}
	return converted, info.Size(), nil
}

func (s *Service) download(ctx context.Context, imageURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", s.config.Crawler.UserAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageDownloadBytes+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxImageDownloadBytes {
		return nil, fmt.Errorf("image exceeds %d byte limit", maxImageDownloadBytes)
	}
	return data, nil
}

// entryName derives a unique archive path from the image URL, swapping
// the extension for .webp.
func entryName(imageURL string, seen map[string]int) string {
	base := "image"
	if u, err := url.Parse(imageURL); err == nil {
		if b := path.Base(u.Path); b != "" && b != "/" && b != "." {
			base = b
		}
	}

	if idx := strings.LastIndex(base, "."); idx > 0 {
		base = base[:idx]
	}
	name := base + ".webp"

	if n := seen[name]; n > 0 {
		seen[name] = n + 1
		name = fmt.Sprintf("%s-%d.webp", base, n)
	} else {
		seen[name] = 1
	}
	return name
}
