// Package session runs one flash attempt end to end: stage firmware, connect
// to the board, erase, write, reboot. It drives audio cues, progress
// reporting, and exactly-once telemetry along the way.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"kiln/internal/api"
	"kiln/internal/audio"
	"kiln/internal/catalog"
	"kiln/internal/errclass"
	"kiln/internal/firmware"
	"kiln/internal/flasher"
	"kiln/internal/logging"
	"kiln/internal/telemetry"
)

// Stage identifies where a session currently is. Error is absorbing: once a
// session fails it never advances again.
type Stage string

const (
	StageIdle        Stage = "idle"
	StageDownloading Stage = "downloading"
	StageConnecting  Stage = "connecting"
	StageConnected   Stage = "connected"
	StageErasing     Stage = "erasing"
	StageWriting     Stage = "writing"
	StageDone        Stage = "done"
	StageError       Stage = "error"
)

// Observer receives session updates. Callbacks arrive from the session
// goroutine only.
type Observer interface {
	StageChanged(stage Stage)
	// Progress reports overall completion in [0, 100] and never moves
	// backwards.
	Progress(percent float64)
	// Note carries a short human-readable status line.
	Note(message string)
}

type nopObserver struct{}

func (nopObserver) StageChanged(Stage) {}
func (nopObserver) Progress(float64)   {}
func (nopObserver) Note(string)        {}

// Fetcher stages a project's firmware references.
type Fetcher interface {
	Fetch(ctx context.Context, projectID string, refs []catalog.FirmwareRef, progress firmware.ProgressFunc) ([]flasher.Image, error)
}

// Weights marks where each pre-write stage's slice of the overall progress
// bar ends. Writing fills the remainder up to 100.
type Weights struct {
	DownloadEnd float64
	ConnectEnd  float64
	EraseEnd    float64
}

// DefaultWeights mirrors the stage cost split observed in practice: almost
// all wall time goes to writing.
func DefaultWeights() Weights {
	return Weights{DownloadEnd: 10, ConnectEnd: 15, EraseEnd: 20}
}

func (w Weights) valid() bool {
	return w.DownloadEnd > 0 && w.ConnectEnd > w.DownloadEnd && w.EraseEnd > w.ConnectEnd && w.EraseEnd < 100
}

// Options configures a session.
type Options struct {
	Project  *catalog.Project
	Port     string
	Baud     int
	EraseAll bool

	Opener  flasher.Opener
	Fetcher Fetcher

	// CapabilityCheck runs before anything else; a non-nil result fails the
	// session immediately.
	CapabilityCheck func() error

	Audio    audio.Service
	Reporter telemetry.Reporter
	Observer Observer
	Logger   *slog.Logger
	Weights  Weights

	// Context is attached to the telemetry report (host details and the
	// like). The detected chip name is added automatically.
	Context map[string]string
}

// Session is one flash attempt. It is single-use: Run may only be called
// once.
type Session struct {
	opts     Options
	logger   *slog.Logger
	observer Observer
	audio    audio.Service
	reporter telemetry.Reporter
	weights  Weights

	stage        Stage
	lastProgress float64
	milestone    int
	chip         string
	reported     bool
}

// New validates options and prepares a session.
func New(opts Options) (*Session, error) {
	if opts.Project == nil {
		return nil, errors.New("project is required")
	}
	if opts.Opener == nil {
		return nil, errors.New("device opener is required")
	}
	if opts.Fetcher == nil {
		return nil, errors.New("firmware fetcher is required")
	}
	if opts.Baud <= 0 {
		return nil, fmt.Errorf("invalid baud rate %d", opts.Baud)
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	observer := opts.Observer
	if observer == nil {
		observer = nopObserver{}
	}
	audioSvc := opts.Audio
	if audioSvc == nil {
		audioSvc = audio.NewNop()
	}
	reporter := opts.Reporter
	if reporter == nil {
		reporter = telemetry.NewNop()
	}
	weights := opts.Weights
	if !weights.valid() {
		weights = DefaultWeights()
	}

	return &Session{
		opts:     opts,
		logger:   logging.NewComponentLogger(logger, "session"),
		observer: observer,
		audio:    audioSvc,
		reporter: reporter,
		weights:  weights,
		stage:    StageIdle,
	}, nil
}

// Stage returns the current stage.
func (s *Session) Stage() Stage {
	return s.stage
}

// Run executes the flash attempt. The outcome is reported to telemetry
// exactly once, success or failure.
func (s *Session) Run(ctx context.Context) (err error) {
	defer func() {
		if err != nil {
			s.fail(ctx, err)
		}
	}()

	s.audio.Cue(audio.EventStart)

	if s.opts.CapabilityCheck != nil {
		if err := s.opts.CapabilityCheck(); err != nil {
			return err
		}
	}

	images, err := s.download(ctx)
	if err != nil {
		return err
	}

	dev, err := s.connect(ctx)
	if err != nil {
		return err
	}
	defer s.closeDevice(dev)

	if err := s.erase(ctx, dev); err != nil {
		return err
	}
	if err := s.write(ctx, dev, images); err != nil {
		return err
	}

	s.audio.Cue(audio.EventRebooting)
	s.observer.Note("Rebooting board")
	if err := dev.HardReset(ctx); err != nil {
		// The firmware is written; a failed auto-reset only costs the user
		// a button press.
		s.logger.Warn("hard reset failed", logging.Error(err))
		s.observer.Note("Automatic reset failed, press the RESET button")
	}

	s.setStage(StageDone)
	s.progress(100)
	s.audio.Cue(audio.EventSuccess)
	s.logger.Info("flash completed",
		logging.String(logging.FieldProject, s.opts.Project.ID),
		logging.String(logging.FieldPort, s.opts.Port))
	s.report(ctx, true, "")
	return nil
}

func (s *Session) download(ctx context.Context) ([]flasher.Image, error) {
	s.setStage(StageDownloading)
	s.observer.Note("Fetching firmware")

	refs := s.opts.Project.FirmwareRefs()
	count := len(refs)
	images, err := s.opts.Fetcher.Fetch(ctx, s.opts.Project.ID, refs, func(index int, read, total int64) {
		frac := 0.0
		if total > 0 {
			frac = float64(read) / float64(total)
		}
		s.progress((float64(index) + frac) / float64(count) * s.weights.DownloadEnd)
	})
	if err != nil {
		return nil, err
	}
	s.progress(s.weights.DownloadEnd)
	return images, nil
}

func (s *Session) connect(ctx context.Context) (flasher.Device, error) {
	s.audio.Cue(audio.EventBootPrompt)
	s.observer.Note("Hold the BOOT button if the board does not respond")

	s.setStage(StageConnecting)
	s.audio.Cue(audio.EventConnecting)

	dev, err := s.opts.Opener.Open(ctx, s.opts.Port, s.opts.Baud)
	if err != nil {
		return nil, err
	}
	if err := dev.Connect(ctx); err != nil {
		s.closeDevice(dev)
		return nil, err
	}

	s.chip = dev.ChipName()
	s.setStage(StageConnected)
	s.progress(s.weights.ConnectEnd)
	s.audio.Cue(audio.EventConnected)
	if s.chip != "" {
		s.observer.Note("Connected to " + s.chip)
	}
	return dev, nil
}

func (s *Session) erase(ctx context.Context, dev flasher.Device) error {
	if s.opts.EraseAll {
		s.setStage(StageErasing)
		s.audio.Cue(audio.EventErasing)
		s.observer.Note("Erasing flash")
		if err := dev.EraseFlash(ctx); err != nil {
			return err
		}
		s.audio.Cue(audio.EventEraseComplete)
	}
	s.progress(s.weights.EraseEnd)
	return nil
}

func (s *Session) write(ctx context.Context, dev flasher.Device, images []flasher.Image) error {
	s.setStage(StageWriting)
	s.audio.Cue(audio.EventFlashingStart)
	s.observer.Note("Writing firmware")

	totalBytes := flasher.TotalSize(images)
	var completed int64

	opts := flasher.WriteOptions{EraseAll: false, Compress: true}
	err := dev.WriteImages(ctx, images, opts, func(index int, percent float64) {
		writePercent := 0.0
		if totalBytes > 0 {
			current := float64(images[index].Size) * percent / 100
			writePercent = (float64(completed) + current) / float64(totalBytes) * 100
		}
		if percent >= 100 {
			completed += images[index].Size
		}
		overall := s.weights.EraseEnd + (100-s.weights.EraseEnd)*writePercent/100
		s.writeMilestones(overall)
		s.progress(overall)
	})
	if err != nil {
		return err
	}

	s.audio.Cue(audio.EventWritingComplete)
	return nil
}

// writeMilestones fires the 25/50/75 cues once each, in order, as the global
// progress percent crosses them.
func (s *Session) writeMilestones(globalPercent float64) {
	for _, m := range []int{25, 50, 75} {
		if globalPercent >= float64(m) && s.milestone < m {
			s.milestone = m
			s.audio.Cue(audio.ProgressEvent(m))
		}
	}
}

func (s *Session) fail(ctx context.Context, err error) {
	s.setStage(StageError)

	message := err.Error()
	if errors.Is(err, context.Canceled) {
		message = "user cancelled the flash"
	}
	category := errclass.Classify(message)

	s.audio.Cue(audio.ErrorEvent(string(category)))
	if hint := errclass.Hint(category); hint != "" {
		s.observer.Note(hint)
	}
	s.logger.Error("flash failed",
		logging.String(logging.FieldProject, s.opts.Project.ID),
		logging.String(logging.FieldCategory, string(category)),
		logging.Error(err))
	s.report(ctx, false, message)
}

// report submits the outcome exactly once. Cancellation of the session
// context must not suppress the failure report.
func (s *Session) report(ctx context.Context, success bool, message string) {
	if s.reported {
		return
	}
	s.reported = true

	reportCtx := context.WithoutCancel(ctx)
	contextFields := make(map[string]string, len(s.opts.Context)+1)
	for k, v := range s.opts.Context {
		contextFields[k] = v
	}
	if s.chip != "" {
		contextFields["chip"] = s.chip
	}
	if len(contextFields) == 0 {
		contextFields = nil
	}

	report := api.FlashReport{
		Project: s.opts.Project.ID,
		Action:  "flash",
		Success: success,
		Context: contextFields,
	}
	if !success {
		report.Error = message
		report.Category = string(errclass.Classify(message))
	}
	s.reporter.Report(reportCtx, report)
}

func (s *Session) setStage(stage Stage) {
	if s.stage == StageError {
		return
	}
	s.stage = stage
	s.observer.StageChanged(stage)
	s.logger.Debug("stage changed", logging.String(logging.FieldStage, string(stage)))
}

// progress clamps to [0, 100] and never moves backwards.
func (s *Session) progress(percent float64) {
	if percent < s.lastProgress {
		return
	}
	if percent > 100 {
		percent = 100
	}
	s.lastProgress = percent
	s.observer.Progress(percent)
}

func (s *Session) closeDevice(dev flasher.Device) {
	if err := dev.Close(); err != nil {
		// One retry covers the transient EBUSY right after a write.
		if err := dev.Close(); err != nil {
			s.logger.Warn("failed to close device", logging.Error(err))
		}
	}
}
