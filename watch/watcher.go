// Package watch analyses recordings dropped into an inbox directory.
package watch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/resspec/resspec/orchestrator"
)

const minTick = 50 * time.Millisecond

type Analyzer interface {
	Run(ctx context.Context, req orchestrator.Request) (*orchestrator.Report, error)
}

type Config struct {
	Dir        string
	Extensions []string
	Settle     time.Duration // quiet period before a file counts as complete
	UserID     string        // used when a recording has no sidecar
}

// sidecar is the optional <recording>.json written next to the audio.
type sidecar struct {
	UserID string `json:"user_id"`
	orchestrator.Patient
}

type Watcher struct {
	cfg      Config
	analyzer Analyzer
	log      logrus.FieldLogger

	pending map[string]time.Time
	done    map[string]bool
}

func New(cfg Config, a Analyzer, log logrus.FieldLogger) *Watcher {
	return &Watcher{
		cfg:      cfg,
		analyzer: a,
		log:      log.WithFields(logrus.Fields{"component": "watch", "dir": cfg.Dir}),
		pending:  make(map[string]time.Time),
		done:     make(map[string]bool),
	}
}

// Run blocks until ctx is cancelled. Files are analysed one at a time.
func (w *Watcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.cfg.Dir, 0o755); err != nil {
		return fmt.Errorf("create inbox: %w", err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}
	defer func() {
		if err := fw.Close(); err != nil {
			w.log.WithError(err).Warn("failed to close watcher")
		}
	}()
	if err := fw.Add(w.cfg.Dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.cfg.Dir, err)
	}
	w.log.Info("inbox watcher started")

	tick := w.cfg.Settle / 4
	if tick < minTick {
		tick = minTick
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info("inbox watcher stopped")
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return errors.New("watcher closed")
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if !orchestrator.SupportedAudio(event.Name, w.cfg.Extensions) || w.done[event.Name] {
				continue
			}
			w.pending[event.Name] = time.Now()

		case err, ok := <-fw.Errors:
			if !ok {
				return errors.New("watcher closed")
			}
			w.log.WithError(err).Warn("file watcher error")

		case now := <-ticker.C:
			for _, path := range w.settled(now) {
				w.process(ctx, path)
			}
		}
	}
}

// settled returns the pending files that have been quiet for the settle
// period, oldest first, and marks them done.
func (w *Watcher) settled(now time.Time) []string {
	var ready []string
	for path, last := range w.pending {
		if now.Sub(last) >= w.cfg.Settle {
			ready = append(ready, path)
		}
	}
	sort.Slice(ready, func(i, j int) bool { return w.pending[ready[i]].Before(w.pending[ready[j]]) })
	for _, p := range ready {
		delete(w.pending, p)
		w.done[p] = true
	}
	return ready
}

func (w *Watcher) process(ctx context.Context, path string) {
	log := w.log.WithField("audio", filepath.Base(path))
	req := orchestrator.Request{AudioPath: path, UserID: w.cfg.UserID}

	meta, err := readSidecar(path)
	switch {
	case err == nil:
		req.Patient = meta.Patient
		if meta.UserID != "" {
			req.UserID = meta.UserID
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		log.WithError(err).Warn("ignoring unreadable sidecar")
	}

	rep, err := w.analyzer.Run(ctx, req)
	if err != nil {
		log.WithError(err).Error("analysis failed")
		return
	}
	log.WithFields(logrus.Fields{
		"analysis_id": rep.ID,
		"detection":   rep.Summary.Detection,
	}).Info("recording analysed")
}

func sidecarPath(audioPath string) string {
	return strings.TrimSuffix(audioPath, filepath.Ext(audioPath)) + ".json"
}

func readSidecar(audioPath string) (sidecar, error) {
	var s sidecar
	data, err := os.ReadFile(sidecarPath(audioPath))
	if err != nil {
		return s, err
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("parse sidecar: %w", err)
	}
	return s, nil
}
