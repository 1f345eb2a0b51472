package search

import (
	"context"
	"errors"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/facebookgo/clock"
	"go.uber.org/zap"

	"docworkspace/internal/logging"
	"docworkspace/internal/models"
	"docworkspace/internal/util"
)

type Status string

const (
	StatusIdle      Status = "idle"
	StatusSearching Status = "searching"
	StatusFound     Status = "found"
	StatusNoResults Status = "no_results"
)

const (
	DefaultDebounce  = 150 * time.Millisecond
	DefaultDisplay   = 3 * time.Second
	DefaultK         = 5
	DefaultMinLength = 3
)

// Searcher runs one semantic query. It has no cancellation contract; a stale
// answer is dropped by the pipeline when it arrives.
type Searcher interface {
	SemanticQuery(ctx context.Context, text string, k int) ([]models.Match, error)
}

type Options struct {
	Debounce  time.Duration
	Display   time.Duration
	K         int
	MinLength int
	Clock     clock.Clock
	Logger    *zap.Logger
}

// Snapshot is the visible state of the pipeline.
type Snapshot struct {
	Status    Status                `json:"status"`
	Selection models.SelectionState `json:"selection"`
	Matches   []models.Match        `json:"matches"`
	Seq       uint64                `json:"seq"`
	LastError string                `json:"last_error,omitempty"`
	UpdatedAt time.Time             `json:"updated_at"`
}

type Stats struct {
	Requests uint64 `json:"requests"`
	Stale    uint64 `json:"stale"`
	Failures uint64 `json:"failures"`
}

// Pipeline turns selection changes into debounced semantic queries. Only the
// answer for the latest sequence number may change the visible state.
type Pipeline struct {
	searcher Searcher
	debounce time.Duration
	display  time.Duration
	k        int
	minLen   int
	clock    clock.Clock
	log      *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	seq     uint64
	state   Snapshot
	stats   Stats
	pending *clock.Timer
	expiry  *clock.Timer
	subs    map[int]func(Snapshot)
	nextSub int
	closed  bool
}

func New(s Searcher, opts Options) *Pipeline {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Display <= 0 {
		opts.Display = DefaultDisplay
	}
	if opts.K <= 0 {
		opts.K = DefaultK
	}
	if opts.MinLength <= 0 {
		opts.MinLength = DefaultMinLength
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pipeline{
		searcher: s,
		debounce: opts.Debounce,
		display:  opts.Display,
		k:        opts.K,
		minLen:   opts.MinLength,
		clock:    opts.Clock,
		log:      logging.OrNop(opts.Logger),
		ctx:      ctx,
		cancel:   cancel,
		state:    Snapshot{Status: StatusIdle},
		subs:     map[int]func(Snapshot){},
	}
}

// OnSelectionChanged records a new selection. Text shorter than the minimum
// clears the results; anything else starts, or restarts, the debounce window.
func (p *Pipeline) OnSelectionChanged(text string) {
	norm := util.NormalizeSelection(text)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.stopTimersLocked()
	p.seq++
	now := p.clock.Now()

	if utf8.RuneCountInString(norm) < p.minLen {
		p.state = Snapshot{Status: StatusIdle, Seq: p.seq, UpdatedAt: now}
		p.notifyLocked()
		return
	}

	seq := p.seq
	p.state = Snapshot{
		Status:    StatusSearching,
		Selection: models.SelectionState{Raw: text, Normalized: norm, CapturedAt: now},
		Seq:       seq,
		UpdatedAt: now,
	}
	p.pending = p.clock.AfterFunc(p.debounce, func() { p.dispatch(seq, norm) })
	p.notifyLocked()
}

// Reset drops the current selection and results and invalidates any request
// in flight.
func (p *Pipeline) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.stopTimersLocked()
	p.seq++
	p.state = Snapshot{Status: StatusIdle, Seq: p.seq, UpdatedAt: p.clock.Now()}
	p.notifyLocked()
}

func (p *Pipeline) dispatch(seq uint64, query string) {
	p.mu.Lock()
	if p.closed || seq != p.seq {
		p.mu.Unlock()
		return
	}
	p.pending = nil
	p.stats.Requests++
	p.wg.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.wg.Done()
		matches, err := p.searcher.SemanticQuery(p.ctx, query, p.k)
		p.complete(seq, matches, err)
	}()
}

func (p *Pipeline) complete(seq uint64, matches []models.Match, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	if seq != p.seq {
		p.stats.Stale++
		p.log.Debug("stale search result dropped", zap.Uint64("seq", seq), zap.Uint64("current", p.seq))
		return
	}

	p.state.UpdatedAt = p.clock.Now()
	switch {
	case err != nil:
		p.stats.Failures++
		if !errors.Is(err, context.Canceled) {
			p.log.Warn("semantic query failed", zap.Uint64("seq", seq), zap.Error(err))
		}
		p.state.Status = StatusNoResults
		p.state.Matches = nil
		p.state.LastError = err.Error()
	case len(matches) == 0:
		p.state.Status = StatusNoResults
		p.state.Matches = nil
	default:
		p.state.Status = StatusFound
		p.state.Matches = append([]models.Match(nil), matches...)
	}
	p.expiry = p.clock.AfterFunc(p.display, func() { p.expire(seq) })
	p.notifyLocked()
}

// expire ends the display window. The matches stay readable until the next
// selection change.
func (p *Pipeline) expire(seq uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || seq != p.seq {
		return
	}
	if p.state.Status != StatusFound && p.state.Status != StatusNoResults {
		return
	}
	p.expiry = nil
	p.state.Status = StatusIdle
	p.state.UpdatedAt = p.clock.Now()
	p.notifyLocked()
}

func (p *Pipeline) stopTimersLocked() {
	if p.pending != nil {
		p.pending.Stop()
		p.pending = nil
	}
	if p.expiry != nil {
		p.expiry.Stop()
		p.expiry = nil
	}
}

func (p *Pipeline) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.copyLocked()
}

func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// Subscribe registers fn for every visible change. fn runs with the pipeline
// locked and must not call back into it.
func (p *Pipeline) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextSub
	p.nextSub++
	p.subs[id] = fn
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.subs, id)
	}
}

func (p *Pipeline) notifyLocked() {
	if len(p.subs) == 0 {
		return
	}
	snap := p.copyLocked()
	for _, fn := range p.subs {
		fn(snap)
	}
}

func (p *Pipeline) copyLocked() Snapshot {
	s := p.state
	s.Matches = append([]models.Match(nil), p.state.Matches...)
	return s
}

// Close stops the timers and waits for queries in flight. Their answers are
// discarded.
func (p *Pipeline) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.stopTimersLocked()
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()
}
