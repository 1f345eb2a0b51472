package selection

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/facebookgo/clock"
	"go.uber.org/zap"

	"docworkspace/internal/logging"
)

type Origin string

const (
	OriginEvent Origin = "event"
	OriginPoll  Origin = "poll"
)

// Observation is one raw reading from a detection strategy.
type Observation struct {
	Text   string
	Origin Origin
	At     time.Time
}

// Source is one selection detection strategy. Start must not block; emit may
// be called from any goroutine until Close returns.
type Source interface {
	Start(ctx context.Context, emit func(Observation)) error
	Close()
}

const (
	DefaultSettle       = 100 * time.Millisecond
	DefaultPollInterval = 300 * time.Millisecond
)

// EventSource listens for the viewer's selection-end event and, after a settle
// delay, fetches the selected content. A new event during the delay restarts it.
type EventSource struct {
	viewer Viewer
	settle time.Duration
	clock  clock.Clock
	log    *zap.Logger

	mu         sync.Mutex
	ctx        context.Context
	emit       func(Observation)
	unregister func()
	timer      *clock.Timer
	gen        uint64
	closed     bool
	wg         sync.WaitGroup
}

func NewEventSource(v Viewer, settle time.Duration, clk clock.Clock, log *zap.Logger) *EventSource {
	if settle <= 0 {
		settle = DefaultSettle
	}
	if clk == nil {
		clk = clock.New()
	}
	return &EventSource{viewer: v, settle: settle, clock: clk, log: logging.OrNop(log)}
}

func (s *EventSource) Start(ctx context.Context, emit func(Observation)) error {
	s.mu.Lock()
	s.ctx = ctx
	s.emit = emit
	s.mu.Unlock()

	unregister, err := s.viewer.OnSelectionEnd(s.onSelectionEnd)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		unregister()
		return nil
	}
	s.unregister = unregister
	return nil
}

func (s *EventSource) onSelectionEnd() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.emit == nil {
		return
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	s.gen++
	gen := s.gen
	s.timer = s.clock.AfterFunc(s.settle, func() { s.settled(gen) })
}

func (s *EventSource) settled(gen uint64) {
	s.mu.Lock()
	if s.closed || gen != s.gen {
		s.mu.Unlock()
		return
	}
	ctx, emit := s.ctx, s.emit
	s.timer = nil
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		text, err := s.viewer.SelectedContent(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				s.log.Debug("selected content unavailable", zap.Error(err))
			}
			return
		}
		emit(Observation{Text: text, Origin: OriginEvent, At: s.clock.Now()})
	}()
}

func (s *EventSource) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	unregister := s.unregister
	s.unregister = nil
	s.mu.Unlock()

	if unregister != nil {
		unregister()
	}
	s.wg.Wait()
}

// PollSource reads the native selection on every tick, then the viewer's own
// accessor when the native one is empty. Every reading is emitted, including
// empty ones, so the consumer can tell when a selection went away.
type PollSource struct {
	native   NativeSelection
	reader   SelectedTextReader
	interval time.Duration
	clock    clock.Clock
	log      *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewPollSource(native NativeSelection, reader SelectedTextReader, interval time.Duration, clk clock.Clock, log *zap.Logger) *PollSource {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if clk == nil {
		clk = clock.New()
	}
	return &PollSource{native: native, reader: reader, interval: interval, clock: clk, log: logging.OrNop(log)}
}

func (s *PollSource) Start(ctx context.Context, emit func(Observation)) error {
	if s.native == nil && s.reader == nil {
		return errors.New("poll source needs a native selection or a selected-text reader")
	}
	ctx, cancel := context.WithCancel(ctx)
	ticker := s.clock.Ticker(s.interval)

	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				emit(Observation{Text: s.read(ctx), Origin: OriginPoll, At: s.clock.Now()})
			}
		}
	}()
	return nil
}

func (s *PollSource) read(ctx context.Context) string {
	if s.native != nil {
		text, err := s.native.NativeSelectedText(ctx)
		if err == nil && text != "" {
			return text
		}
	}
	if s.reader != nil {
		text, err := s.reader.SelectedText(ctx)
		if err == nil {
			return text
		}
		s.log.Debug("viewer selected text unavailable", zap.Error(err))
	}
	return ""
}

func (s *PollSource) Close() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}
