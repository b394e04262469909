package capture

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	"golang.org/x/image/draw"

	"shadowcam/internal/camera"
	"shadowcam/internal/services"
)

// FrameSource is the part of a camera stream capture needs.
type FrameSource interface {
	ID() string
	Latest() (camera.Frame, bool)
}

// CapturePhoto returns the current frame at its native resolution.
func (s *Service) CapturePhoto(stream FrameSource) (Payload, error) {
	frame, err := latestFrame(stream, "photo")
	if err != nil {
		return Payload{}, err
	}
	if _, _, err := image.DecodeConfig(bytes.NewReader(frame.Data)); err != nil {
		return Payload{}, services.Wrap(services.ErrCapture, "capture", "photo", "frame is not a valid image", err)
	}
	return NewPayload(KindImage, MIMEJPEG, "capture.jpg", frame.Data), nil
}

// SampleFrame returns the current frame scaled to width x height and
// re-encoded at the given JPEG quality.
func (s *Service) SampleFrame(stream FrameSource, width, height, quality int) (Payload, error) {
	if width <= 0 || height <= 0 {
		return Payload{}, services.Wrap(services.ErrCapture, "capture", "sample", fmt.Sprintf("invalid sample size %dx%d", width, height), nil)
	}
	frame, err := latestFrame(stream, "sample")
	if err != nil {
		return Payload{}, err
	}
	src, _, err := image.Decode(bytes.NewReader(frame.Data))
	if err != nil {
		return Payload{}, services.Wrap(services.ErrCapture, "capture", "sample", "frame could not be decoded", err)
	}

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)

	var buf bytes.Buffer
	buf.Grow(width * height / 4)
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: clampQuality(quality)}); err != nil {
		return Payload{}, services.Wrap(services.ErrCapture, "capture", "sample", "frame could not be encoded", err)
	}
	return NewPayload(KindImage, MIMEJPEG, "live_frame.jpg", buf.Bytes()), nil
}

func latestFrame(stream FrameSource, op string) (camera.Frame, error) {
	if stream == nil {
		return camera.Frame{}, services.Wrap(services.ErrCapture, "capture", op, "no active camera stream", nil)
	}
	frame, ok := stream.Latest()
	if !ok || len(frame.Data) == 0 {
		return camera.Frame{}, services.Wrap(services.ErrCapture, "capture", op, "no camera frame available yet", nil)
	}
	return frame, nil
}

func clampQuality(q int) int {
	switch {
	case q < 1:
		return jpeg.DefaultQuality
	case q > 100:
		return 100
	default:
		return q
	}
}
