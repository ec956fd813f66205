package clients

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/resspec/resspec/segments"
)

// --- Diagnosis (/diagnose) ---
// The endpoint replies with a flat {"condition": probability} object.
type DiagnoseResp map[string]float64

func (h *HTTP) Diagnose(ctx context.Context, url, audioPath string) (segments.Diagnosis, error) {
	body, err := h.postAudio(ctx, "diagnose", url, audioPath)
	if err != nil {
		return nil, err
	}

	var out DiagnoseResp
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("diagnose decode: %w", err)
	}
	return segments.Rank(out), nil
}
