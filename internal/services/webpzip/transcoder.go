package webpzip

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/webpscan/internal/interfaces"
)

// CwebpTranscoder converts images through the cwebp binary. Encoding
// runs out of process; libwebp bindings need cgo and would tie the
// build to the host toolchain.
type CwebpTranscoder struct {
	binary string
	logger arbor.ILogger
}

var _ interfaces.Transcoder = (*CwebpTranscoder)(nil)

// NewCwebpTranscoder creates a transcoder using the given binary path,
// or "cwebp" from PATH when empty.
func NewCwebpTranscoder(binary string, logger arbor.ILogger) *CwebpTranscoder {
	if binary == "" {
		binary = "cwebp"
	}
	return &CwebpTranscoder{binary: binary, logger: logger}
}

// Available reports whether the encoder binary can be found
func (t *CwebpTranscoder) Available() bool {
	_, err := exec.LookPath(t.binary)
	return err == nil
}

// ToWebP encodes the image bytes as WebP at the given quality
func (t *CwebpTranscoder) ToWebP(ctx context.Context, data []byte, quality int) ([]byte, error) {
	dir, err := os.MkdirTemp("", "webpscan-convert-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	inPath := filepath.Join(dir, "in")
	outPath := filepath.Join(dir, "out.webp")
	if err := os.WriteFile(inPath, data, 0o600); err != nil {
		return nil, fmt.Errorf("failed to write temp input: %w", err)
	}

	cmd := exec.CommandContext(ctx, t.binary, "-quiet", "-q", fmt.Sprintf("%d", quality), inPath, "-o", outPath)
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("cwebp failed: %w: %s", err, out)
	}

	webp, err := os.ReadFile(outPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read encoder output: %w", err)
	}
	return webp, nil
}
