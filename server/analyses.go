package server

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/resspec/resspec/orchestrator"
	"github.com/resspec/resspec/store"
)

const maxHistoryLimit = 500

var errNoHistory = errors.New("history is not available without a database")

// historyItem is one row of the history table.
type historyItem struct {
	ID        string               `json:"id"`
	CreatedAt time.Time            `json:"created_at"`
	Patient   orchestrator.Patient `json:"patient"`
	AudioName string               `json:"audio_name,omitempty"`
}

func (s *Server) createAnalysis(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, s.log, http.StatusBadRequest, fmt.Errorf("invalid upload: %w", err))
		return
	}
	defer func() {
		if err := r.MultipartForm.RemoveAll(); err != nil {
			s.log.WithError(err).Warn("failed to remove multipart files")
		}
	}()

	file, hdr, err := r.FormFile("file")
	if err != nil {
		writeError(w, s.log, http.StatusBadRequest, errors.New("file is required"))
		return
	}
	defer file.Close()

	ext, err := audioExt(hdr.Filename, hdr.Header.Get("Content-Type"), s.audioExts)
	if err != nil {
		writeError(w, s.log, http.StatusBadRequest, err)
		return
	}

	patient, err := patientFromForm(r)
	if err != nil {
		writeError(w, s.log, http.StatusBadRequest, err)
		return
	}

	tmp, err := os.CreateTemp("", "resspec-upload-*"+ext)
	if err != nil {
		writeError(w, s.log, http.StatusInternalServerError, fmt.Errorf("failed to stage upload: %w", err))
		return
	}
	defer func() {
		if err := os.Remove(tmp.Name()); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.log.WithError(err).WithField("path", tmp.Name()).Warn("failed to remove staged upload")
		}
	}()
	if _, err := io.Copy(tmp, file); err != nil {
		tmp.Close()
		writeError(w, s.log, http.StatusInternalServerError, fmt.Errorf("failed to stage upload: %w", err))
		return
	}
	if err := tmp.Close(); err != nil {
		writeError(w, s.log, http.StatusInternalServerError, fmt.Errorf("failed to stage upload: %w", err))
		return
	}

	rep, err := s.analyzer.Run(r.Context(), orchestrator.Request{
		AudioPath: tmp.Name(),
		AudioName: filepath.Base(hdr.Filename),
		UserID:    r.FormValue("user_id"),
		Patient:   patient,
	})
	if err != nil {
		switch {
		case errors.Is(err, orchestrator.ErrUnsupportedAudio):
			writeError(w, s.log, http.StatusUnsupportedMediaType, err)
		case errors.Is(err, store.ErrRecordExists):
			writeError(w, s.log, http.StatusConflict, err)
		default:
			s.log.WithError(err).Error("analysis failed")
			writeError(w, s.log, http.StatusBadGateway, errors.New("failed to get results, please try again"))
		}
		return
	}
	writeJSON(w, s.log, http.StatusCreated, rep)
}

func (s *Server) listAnalyses(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, s.log, http.StatusServiceUnavailable, errNoHistory)
		return
	}
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, s.log, http.StatusBadRequest, errors.New("user_id is required"))
		return
	}
	limit := s.limit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxHistoryLimit {
			writeError(w, s.log, http.StatusBadRequest, fmt.Errorf("limit must be between 1 and %d", maxHistoryLimit))
			return
		}
		limit = n
	}

	recs, err := s.history.ListByUser(r.Context(), userID, limit)
	if err != nil {
		writeError(w, s.log, http.StatusInternalServerError, fmt.Errorf("failed to load history: %w", err))
		return
	}
	items := make([]historyItem, 0, len(recs))
	for _, rec := range recs {
		items = append(items, historyItem{ID: rec.ID, CreatedAt: rec.CreatedAt, Patient: rec.Patient, AudioName: rec.AudioName})
	}
	writeJSON(w, s.log, http.StatusOK, items)
}

func (s *Server) getAnalysis(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, s.log, http.StatusServiceUnavailable, errNoHistory)
		return
	}
	id := r.PathValue("id")
	rec, err := s.history.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			writeError(w, s.log, http.StatusNotFound, fmt.Errorf("analysis %s not found", id))
			return
		}
		writeError(w, s.log, http.StatusInternalServerError, fmt.Errorf("failed to load analysis: %w", err))
		return
	}

	rep, err := orchestrator.FromRecord(rec)
	if err != nil {
		s.log.WithError(err).WithField("analysis_id", id).Error("stored results unreadable")
		writeError(w, s.log, http.StatusUnprocessableEntity, errors.New("no data available for this analysis"))
		return
	}
	writeJSON(w, s.log, http.StatusOK, rep)
}

func (s *Server) deleteAnalysis(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, s.log, http.StatusServiceUnavailable, errNoHistory)
		return
	}
	if err := s.history.Delete(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, s.log, http.StatusInternalServerError, fmt.Errorf("failed to delete analysis: %w", err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// knownAudioExt covers the media types browsers send for recordings that
// arrive without a file extension.
var knownAudioExt = map[string]string{
	"audio/wav":      ".wav",
	"audio/wave":     ".wav",
	"audio/x-wav":    ".wav",
	"audio/vnd.wave": ".wav",
	"audio/mpeg":     ".mp3",
	"audio/mp3":      ".mp3",
	"audio/mp4":      ".m4a",
	"audio/x-m4a":    ".m4a",
	"audio/aac":      ".m4a",
	"audio/ogg":      ".ogg",
	"audio/opus":     ".ogg",
	"audio/flac":     ".flac",
	"audio/x-flac":   ".flac",
	"audio/webm":     ".webm",
}

// audioExt accepts only audio/* parts and picks the staging extension. The
// filename wins; otherwise the first extension the host's MIME table knows
// that is also accepted, then the built-in table.
func audioExt(filename, contentType string, accepted []string) (string, error) {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil || !strings.HasPrefix(mediaType, "audio/") {
		return "", errors.New("please upload a valid audio file")
	}
	if ext := filepath.Ext(filename); ext != "" {
		return strings.ToLower(ext), nil
	}
	exts, _ := mime.ExtensionsByType(mediaType)
	for _, ext := range exts {
		if orchestrator.SupportedAudio(ext, accepted) {
			return strings.ToLower(ext), nil
		}
	}
	if ext, ok := knownAudioExt[mediaType]; ok {
		return ext, nil
	}
	if len(exts) > 0 {
		return strings.ToLower(exts[0]), nil
	}
	if sub := strings.TrimPrefix(mediaType, "audio/"); sub != "" {
		return "." + sub, nil
	}
	return "", errors.New("cannot determine audio format")
}

func patientFromForm(r *http.Request) (orchestrator.Patient, error) {
	p := orchestrator.Patient{
		Name:           strings.TrimSpace(r.FormValue("patient_name")),
		ContactDetails: strings.TrimSpace(r.FormValue("contact_details")),
		Address:        strings.TrimSpace(r.FormValue("address")),
		Citizenship:    strings.TrimSpace(r.FormValue("citizenship")),
		CivilStatus:    strings.TrimSpace(r.FormValue("civil_status")),
	}
	if v := strings.TrimSpace(r.FormValue("age")); v != "" {
		age, err := strconv.Atoi(v)
		if err != nil || age < 0 || age > 150 {
			return orchestrator.Patient{}, fmt.Errorf("invalid age %q", v)
		}
		p.Age = age
	}
	return p, nil
}
