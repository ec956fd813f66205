package orchestrator

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/resspec/resspec/segments"
	"github.com/resspec/resspec/store"
)

// BuildReport derives every view from the raw segment list. The list is
// never modified.
func BuildReport(id, userID string, patient Patient, segs []segments.Segment, diag segments.Diagnosis, at time.Time) *Report {
	if segs == nil {
		segs = []segments.Segment{}
	}
	if diag == nil {
		diag = segments.Diagnosis{}
	}
	return &Report{
		ID:        id,
		UserID:    userID,
		Patient:   patient,
		CreatedAt: at,
		Segments:  segs,
		Diagnosis: diag,
		Summary:   segments.Summarize(segs),
		Ratio:     segments.ComputeRatio(segs),
		Regions:   segments.Regions(segs),
		Table:     segments.Table(segs),
	}
}

// Record converts a report into its stored form.
func (r *Report) Record() (store.Record, error) {
	results, err := json.Marshal(r.Segments)
	if err != nil {
		return store.Record{}, fmt.Errorf("encode results: %w", err)
	}
	diag, err := json.Marshal(r.Diagnosis.Map())
	if err != nil {
		return store.Record{}, fmt.Errorf("encode diagnosis: %w", err)
	}
	return store.Record{
		ID:        r.ID,
		UserID:    r.UserID,
		Patient:   r.Patient,
		AudioName: r.AudioName,
		Results:   results,
		Diagnosis: diag,
		CreatedAt: r.CreatedAt,
	}, nil
}

// FromRecord rebuilds a report from history.
func FromRecord(rec store.Record) (*Report, error) {
	segs, err := segments.Parse(rec.Results)
	if err != nil {
		return nil, fmt.Errorf("record %s: %w", rec.ID, err)
	}
	var diag segments.Diagnosis
	if len(rec.Diagnosis) > 0 {
		var probs map[string]float64
		if err := json.Unmarshal(rec.Diagnosis, &probs); err != nil {
			return nil, fmt.Errorf("record %s diagnosis: %w", rec.ID, err)
		}
		diag = segments.Rank(probs)
	}
	rep := BuildReport(rec.ID, rec.UserID, rec.Patient, segs, diag, rec.CreatedAt)
	rep.AudioName = rec.AudioName
	return rep, nil
}

// SupportedAudio reports whether path has one of the accepted extensions.
func SupportedAudio(path string, exts []string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == "" {
		return false
	}
	for _, e := range exts {
		if strings.ToLower(e) == ext {
			return true
		}
	}
	return false
}
