// Package audio plays sound cues for flash session milestones through an
// external player command. Cues are queued and played strictly in order by a
// single worker, so overlapping events never talk over each other.
package audio

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"kiln/internal/config"
	"kiln/internal/i18n"
	"kiln/internal/logging"
)

const (
	queueCapacity = 32
	playTimeout   = 30 * time.Second
)

// Service receives cue events from a flash session. Implementations must be
// safe for concurrent use and must never block the caller.
type Service interface {
	// Cue queues the named event for playback. Events filtered by the
	// verbosity policy or without a configured sound are dropped.
	Cue(event string)
	// Close drains pending cues and stops the playback worker.
	Close()
}

type nopService struct{}

func (nopService) Cue(string) {}
func (nopService) Close()     {}

// NewNop returns a service that discards all cues.
func NewNop() Service {
	return nopService{}
}

// New builds the audio service from configuration. Disabled audio yields the
// noop service. The localizer expands [lang] tokens in sound paths and may be
// nil.
func New(cfg config.Audio, localizer *i18n.Localizer, logger *slog.Logger) Service {
	if !cfg.Enabled {
		return NewNop()
	}
	localize := func(path string) string { return path }
	if localizer != nil {
		localize = localizer.ExpandPath
	}
	return NewSequencer(Options{
		Player:    &ExecPlayer{Command: cfg.PlayerCommand},
		Events:    cfg.Events,
		Verbosity: cfg.Verbosity,
		Volume:    cfg.Volume,
		Localize:  localize,
		Logger:    logger,
	})
}

// Options configures a Sequencer.
type Options struct {
	Player    Player
	Events    map[string]string
	Verbosity string
	Volume    float64
	Localize  func(string) string
	Logger    *slog.Logger
}

// Sequencer is the real Service: a bounded FIFO queue drained by one
// goroutine that plays each cue to completion before starting the next.
type Sequencer struct {
	player    Player
	events    map[string]string
	verbosity string
	volume    float64
	localize  func(string) string
	logger    *slog.Logger

	queue     chan string
	done      chan struct{}
	closeOnce sync.Once
}

// NewSequencer starts the playback worker and returns the sequencer.
func NewSequencer(opts Options) *Sequencer {
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	if opts.Localize == nil {
		opts.Localize = func(path string) string { return path }
	}
	s := &Sequencer{
		player:    opts.Player,
		events:    opts.Events,
		verbosity: opts.Verbosity,
		volume:    opts.Volume,
		localize:  opts.Localize,
		logger:    opts.Logger.With(logging.String(logging.FieldComponent, "audio")),
		queue:     make(chan string, queueCapacity),
		done:      make(chan struct{}),
	}
	go s.drain()
	return s
}

// Cue resolves the event to a sound file and queues it. When the queue is
// full the cue is dropped rather than blocking the session.
func (s *Sequencer) Cue(event string) {
	if !allowed(s.verbosity, event) {
		return
	}
	file := s.resolve(event)
	if file == "" {
		s.logger.Debug("no sound configured for event", logging.String(logging.FieldEventType, event))
		return
	}
	select {
	case s.queue <- file:
	default:
		s.logger.Warn("audio queue full, dropping cue", logging.String(logging.FieldEventType, event))
	}
}

// Close stops accepting cues, plays out anything already queued, and waits
// for the worker to exit.
func (s *Sequencer) Close() {
	s.closeOnce.Do(func() {
		close(s.queue)
		<-s.done
	})
}

// resolve maps an event name to a localized sound path. Per-category error
// cues fall back to the generic error sound, and per-milestone progress cues
// to the base flashing_progress sound, when unconfigured.
func (s *Sequencer) resolve(event string) string {
	file := s.events[event]
	if file == "" && strings.HasPrefix(event, "error_") {
		file = s.events[EventError]
	}
	if file == "" && strings.HasPrefix(event, EventFlashingProgress+"_") {
		file = s.events[EventFlashingProgress]
	}
	if file == "" {
		return ""
	}
	return s.localize(file)
}

func (s *Sequencer) drain() {
	defer close(s.done)
	for file := range s.queue {
		ctx, cancel := context.WithTimeout(context.Background(), playTimeout)
		if err := s.player.Play(ctx, file, s.volume); err != nil {
			s.logger.Warn("audio playback failed", logging.Error(err))
		}
		cancel()
	}
}
