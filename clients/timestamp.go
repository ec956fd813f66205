package clients

import (
	"context"
	"fmt"

	"github.com/resspec/resspec/segments"
)

// Timestamp posts the recording to /timestamp and returns the validated
// per-window detections.
func (h *HTTP) Timestamp(ctx context.Context, url, audioPath string) ([]segments.Segment, error) {
	body, err := h.postAudio(ctx, "timestamp", url, audioPath)
	if err != nil {
		return nil, err
	}
	segs, err := segments.Parse(body)
	if err != nil {
		return nil, fmt.Errorf("timestamp decode: %w", err)
	}
	return segs, nil
}
