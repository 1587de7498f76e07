package email

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/webpscan/internal/common"
	"github.com/ternarybob/webpscan/internal/models"
	"github.com/ternarybob/webpscan/internal/services/savings"
)

type capturedMail struct {
	auth string
	body []byte
}

func newTestService(t *testing.T, enabled bool) (*Service, *capturedMail) {
	t.Helper()
	captured := &capturedMail{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured.auth = r.Header.Get("Authorization")
		captured.body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusAccepted)
	}))
	t.Cleanup(server.Close)

	cfg := common.NewDefaultConfig()
	cfg.Email.Enabled = enabled
	cfg.Email.APIKey = "sg-test-key"
	cfg.Email.FromAddress = "reports@webpscan.dev"

	svc := NewService(cfg, arbor.NewLogger())
	svc.apiURL = server.URL
	return svc, captured
}

func completedJob() *models.ScanJob {
	return &models.ScanJob{
		ID:           "scan-mail-1",
		URL:          "https://example.com/",
		Email:        "owner@example.com",
		Status:       models.ScanStatusCompleted,
		PagesScanned: 9,
	}
}

func TestNotifyScanCompleteSendsMail(t *testing.T) {
	svc, captured := newTestService(t, true)

	summary := savings.Summary{
		ImageCount:            4,
		TotalSavingsBytes:     2 * 1024 * 1024,
		AverageSavingsPercent: 68.5,
	}
	svc.NotifyScanComplete(completedJob(), summary)

	require.NotEmpty(t, captured.body)
	assert.Equal(t, "Bearer sg-test-key", captured.auth)

	var req mailRequest
	require.NoError(t, json.Unmarshal(captured.body, &req))
	assert.Equal(t, "owner@example.com", req.Personalizations[0].To[0].Email)
	assert.Equal(t, "reports@webpscan.dev", req.From.Email)
	assert.Contains(t, req.Subject, "example.com")
	require.Len(t, req.Content, 1)
	assert.Contains(t, req.Content[0].Value, "Pages scanned: 9")
	assert.Contains(t, req.Content[0].Value, "Non-WebP images found: 4")
}

func TestNotifyScanCompleteSkipsWhenDisabled(t *testing.T) {
	svc, captured := newTestService(t, false)

	svc.NotifyScanComplete(completedJob(), savings.Summary{})
	assert.Empty(t, captured.body)
}

func TestNotifyScanCompleteSkipsWithoutRecipient(t *testing.T) {
	svc, captured := newTestService(t, true)

	job := completedJob()
	job.Email = ""
	svc.NotifyScanComplete(job, savings.Summary{})
	assert.Empty(t, captured.body)
}
