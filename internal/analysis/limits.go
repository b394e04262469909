package analysis

import (
	"fmt"
	"strings"

	"shadowcam/internal/capture"
)

// Limits mirrors the upload restrictions enforced by the service.
type Limits struct {
	MaxImageBytes int64
	MaxVideoBytes int64
}

// DefaultLimits matches the service's published limits.
func DefaultLimits() Limits {
	return Limits{MaxImageBytes: 5 << 20, MaxVideoBytes: 25 << 20}
}

var (
	imageTypes = []string{"image/jpeg", "image/png"}
	videoTypes = []string{"video/mp4", "video/webm"}
)

// Check reports why the service would refuse p, or nil.
func (l Limits) Check(p capture.Payload) error {
	if p.Empty() {
		return fmt.Errorf("%s payload is empty", p.Kind())
	}
	var (
		allowed []string
		limit   int64
	)
	switch p.Kind() {
	case capture.KindImage:
		allowed, limit = imageTypes, l.MaxImageBytes
	case capture.KindVideo:
		allowed, limit = videoTypes, l.MaxVideoBytes
	default:
		return fmt.Errorf("unsupported payload kind %q", p.Kind())
	}
	if !mimeAllowed(p.MIMEType(), allowed) {
		return fmt.Errorf("invalid MIME type %q for %s", p.MIMEType(), p.Kind())
	}
	if limit > 0 && p.Size() > limit {
		return fmt.Errorf("%s payload of %d bytes exceeds the %d byte limit", p.Kind(), p.Size(), limit)
	}
	return nil
}

func mimeAllowed(mimeType string, allowed []string) bool {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	for _, candidate := range allowed {
		if strings.HasPrefix(mimeType, candidate) {
			return true
		}
	}
	return false
}

func endpointFor(kind capture.Kind) string {
	if kind == capture.KindVideo {
		return "/analyze-video"
	}
	return "/analyze-image"
}
