package orchestrator

import (
	"time"

	"github.com/resspec/resspec/segments"
	"github.com/resspec/resspec/store"
)

type Patient = store.Patient

// Request is one recording to analyse.
type Request struct {
	AudioPath string
	AudioName string // defaults to the base of AudioPath
	UserID    string
	Patient   Patient
}

// Report is everything the results view shows for one recording.
type Report struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id,omitempty"`
	Patient   Patient   `json:"patient"`
	AudioName string    `json:"audio_name,omitempty"`
	CreatedAt time.Time `json:"created_at"`

	Segments  []segments.Segment `json:"segments"` // raw, unmerged
	Diagnosis segments.Diagnosis `json:"diagnosis"`

	// Derived views
	Summary segments.Summary                      `json:"summary"`
	Ratio   segments.Ratio                        `json:"ratio"`
	Regions map[segments.Label][]segments.Segment `json:"regions"`
	Table   []segments.Row                        `json:"table"`
}

type EventKind string

const (
	AnalysisCompleted EventKind = "analysis.completed"
	AnalysisFailed    EventKind = "analysis.failed"
)

// Event is published after every pipeline run.
type Event struct {
	Kind       EventKind                 `json:"kind"`
	AnalysisID string                    `json:"analysis_id,omitempty"`
	UserID     string                    `json:"user_id,omitempty"`
	AudioName  string                    `json:"audio_name"`
	Detection  segments.DetectionSummary `json:"detection_summary,omitempty"`
	Error      string                    `json:"error,omitempty"`
	At         time.Time                 `json:"at"`
}

type Notifier interface {
	Publish(Event)
}
