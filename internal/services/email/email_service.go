// -----------------------------------------------------------------------
// Email Service - scan completion notifications through the SendGrid
// v3 mail send API
// -----------------------------------------------------------------------

package email

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/webpscan/internal/common"
	"github.com/ternarybob/webpscan/internal/models"
	"github.com/ternarybob/webpscan/internal/services/savings"
)

const defaultAPIURL = "https://api.sendgrid.com/v3/mail/send"

// Service sends completion emails. Delivery is best-effort: failures
// are logged and never affect the scan's outcome.
type Service struct {
	config *common.Config
	client *http.Client
	apiURL string
	logger arbor.ILogger
}

// NewService creates the email service
func NewService(config *common.Config, logger arbor.ILogger) *Service {
	return &Service{
		config: config,
		client: &http.Client{Timeout: 15 * time.Second},
		apiURL: defaultAPIURL,
		logger: logger,
	}
}

// sendGrid v3 request payload
type mailRequest struct {
	Personalizations []personalization `json:"personalizations"`
	From             emailAddress      `json:"from"`
	Subject          string            `json:"subject"`
	Content          []mailContent     `json:"content"`
}

type personalization struct {
	To []emailAddress `json:"to"`
}

type emailAddress struct {
	Email string `json:"email"`
}

type mailContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// NotifyScanComplete sends the completion summary to the submitter.
// Errors are logged only.
func (s *Service) NotifyScanComplete(job *models.ScanJob, summary savings.Summary) {
	if !s.config.Email.Enabled || s.config.Email.APIKey == "" || job.Email == "" {
		return
	}

	host := common.HostOf(job.URL)
	subject := fmt.Sprintf("Your WebP savings scan of %s is ready", host)

	if err := s.send(job.Email, subject, completionBody(job, summary, host)); err != nil {
		s.logger.Warn().
			Str("scan_id", job.ID).
			Err(err).
			Msg("Completion email failed")
		return
	}

	s.logger.Info().
		Str("scan_id", job.ID).
		Msg("Completion email sent")
}

func (s *Service) send(to, subject, body string) error {
	payload := mailRequest{
		Personalizations: []personalization{{To: []emailAddress{{Email: to}}}},
		From:             emailAddress{Email: s.config.Email.FromAddress},
		Subject:          subject,
		Content:          []mailContent{{Type: "text/plain", Value: body}},
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode mail request: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, s.apiURL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+s.config.Email.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("sendgrid returned %d: %s", resp.StatusCode, detail)
	}
	return nil
}

func completionBody(job *models.ScanJob, summary savings.Summary, host string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Your scan of %s has finished.\n\n", job.URL)
	fmt.Fprintf(&b, "Pages scanned: %d\n", job.PagesScanned)
	fmt.Fprintf(&b, "Non-WebP images found: %d\n", summary.ImageCount)
	if summary.ImageCount > 0 {
		fmt.Fprintf(&b, "Potential savings: %.1f MB (%.1f%% average per image)\n",
			float64(summary.TotalSavingsBytes)/(1024*1024), summary.AverageSavingsPercent)
	} else {
		b.WriteString("Every image on the site already uses a modern format.\n")
	}
	if job.ReachedPageLimit {
		b.WriteString("\nThe site has more pages than a single scan covers, so the real savings are likely higher.\n")
	}
	fmt.Fprintf(&b, "\nThe full report is available from the scan page for %s.\n", host)

	return b.String()
}
