package interfaces

import (
	"context"
)

// Transcoder converts image bytes to WebP. Opaque bytes-in / bytes-out;
// the pipeline treats failures as per-image skips.
type Transcoder interface {
	ToWebP(ctx context.Context, data []byte, quality int) ([]byte, error)
}
