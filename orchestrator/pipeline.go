package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/resspec/resspec/clients"
	cfg "github.com/resspec/resspec/config"
	"github.com/resspec/resspec/segments"
	"github.com/resspec/resspec/store"
)

var ErrUnsupportedAudio = errors.New("unsupported audio file")

// Inference is the remote model API.
type Inference interface {
	Diagnose(ctx context.Context, url, audioPath string) (segments.Diagnosis, error)
	Timestamp(ctx context.Context, url, audioPath string) ([]segments.Segment, error)
}

// Recorder persists analyses.
type Recorder interface {
	Create(ctx context.Context, r store.Record) error
}

type Pipeline struct {
	cfg      *cfg.Root
	http     Inference
	store    Recorder
	notifier Notifier
	log      logrus.FieldLogger

	now   func() time.Time
	newID func() string
}

type Option func(*Pipeline)

func WithInference(i Inference) Option { return func(p *Pipeline) { p.http = i } }

func WithStore(r Recorder) Option { return func(p *Pipeline) { p.store = r } }

func WithNotifier(n Notifier) Option { return func(p *Pipeline) { p.notifier = n } }

func WithLogger(l logrus.FieldLogger) Option { return func(p *Pipeline) { p.log = l } }

func NewPipeline(c *cfg.Root, opts ...Option) *Pipeline {
	p := &Pipeline{
		cfg:   c,
		http:  clients.NewHTTP(cfg.DurSeconds(c.Services.Inference.TimeoutSeconds)),
		log:   logrus.StandardLogger(),
		now:   func() time.Time { return time.Now().UTC() },
		newID: func() string { return uuid.NewString() },
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Run sends the recording to /diagnose and /timestamp together. Either call
// failing fails the run and cancels the other; nothing partial is kept.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Report, error) {
	name := req.AudioName
	if name == "" {
		name = filepath.Base(req.AudioPath)
	}
	log := p.log.WithFields(logrus.Fields{"component": "pipeline", "audio": name})

	if !SupportedAudio(req.AudioPath, p.cfg.Audio.Extensions) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAudio, name)
	}
	if _, err := os.Stat(req.AudioPath); err != nil {
		return nil, err
	}

	url := p.cfg.Services.Inference.URL
	var (
		diag segments.Diagnosis
		segs []segments.Segment
	)
	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		d, err := p.http.Diagnose(gctx, url, req.AudioPath)
		if err != nil {
			return err
		}
		diag = d
		return nil
	})
	g.Go(func() error {
		s, err := p.http.Timestamp(gctx, url, req.AudioPath)
		if err != nil {
			return err
		}
		segs = s
		return nil
	})
	if err := g.Wait(); err != nil {
		log.WithError(err).Error("inference failed")
		p.publish(Event{Kind: AnalysisFailed, UserID: req.UserID, AudioName: name, Error: err.Error(), At: p.now()})
		return nil, fmt.Errorf("inference: %w", err)
	}

	rep := BuildReport(p.newID(), req.UserID, req.Patient, segs, diag, p.now())
	rep.AudioName = name
	log = log.WithField("analysis_id", rep.ID)
	log.WithFields(logrus.Fields{
		"segments":  rep.Summary.TotalSegments,
		"detection": rep.Summary.Detection,
		"took":      time.Since(start).Round(time.Millisecond),
	}).Info("inference complete")

	if p.store != nil {
		rec, err := rep.Record()
		if err != nil {
			return nil, err
		}
		if err := p.store.Create(ctx, rec); err != nil {
			log.WithError(err).Error("persist record failed")
			p.publish(Event{Kind: AnalysisFailed, AnalysisID: rep.ID, UserID: req.UserID, AudioName: name, Error: err.Error(), At: p.now()})
			return nil, fmt.Errorf("persist: %w", err)
		}
	}

	if p.cfg.Paths.Outputs != "" {
		dir, err := persist(p.cfg.Paths.Outputs, rep)
		if err != nil {
			log.WithError(err).Warn("write report files failed")
		} else {
			log.WithField("dir", dir).Debug("report written")
		}
	}

	p.publish(Event{
		Kind:       AnalysisCompleted,
		AnalysisID: rep.ID,
		UserID:     req.UserID,
		AudioName:  name,
		Detection:  rep.Summary.Detection,
		At:         p.now(),
	})
	return rep, nil
}

func (p *Pipeline) publish(e Event) {
	if p.notifier != nil {
		p.notifier.Publish(e)
	}
}
