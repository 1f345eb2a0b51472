package selection

import (
	"context"
	"sync"
	"unicode/utf8"

	"go.uber.org/zap"

	"docworkspace/internal/logging"
	"docworkspace/internal/util"
)

const DefaultMinLength = 3

// Adapter merges the observations of several sources into one deduplicated
// stream of selection changes. onChange runs on a single goroutine.
type Adapter struct {
	sources  []Source
	onChange func(text string)
	minLen   int
	log      *zap.Logger

	in        chan Observation
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once

	// owned by the consumer goroutine
	last string
}

type AdapterOptions struct {
	MinLength int
	Logger    *zap.Logger
}

func NewAdapter(opts AdapterOptions, onChange func(text string), sources ...Source) *Adapter {
	if opts.MinLength <= 0 {
		opts.MinLength = DefaultMinLength
	}
	return &Adapter{
		sources:  sources,
		onChange: onChange,
		minLen:   opts.MinLength,
		log:      logging.OrNop(opts.Logger),
		in:       make(chan Observation, 16),
	}
}

// Start launches the consumer and every source. A source failing to start is
// logged and skipped; the others keep running.
func (a *Adapter) Start(ctx context.Context) {
	ctx, a.cancel = context.WithCancel(ctx)
	emit := func(o Observation) {
		select {
		case a.in <- o:
		case <-ctx.Done():
		}
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case o := <-a.in:
				a.observe(o)
			}
		}
	}()

	for _, src := range a.sources {
		if err := src.Start(ctx, emit); err != nil {
			a.log.Warn("selection source unavailable", zap.Error(err))
		}
	}
}

func (a *Adapter) observe(o Observation) {
	text := util.NormalizeSelection(o.Text)
	if utf8.RuneCountInString(text) < a.minLen {
		// a poll that sees nothing (or a fragment) means the previous
		// selection is gone; selecting it again must be reported
		if o.Origin == OriginPoll {
			a.last = ""
		}
		return
	}
	if text == a.last {
		return
	}
	a.last = text
	a.onChange(text)
}

// Close stops polling, unregisters viewer hooks and waits for all goroutines.
// It is safe to call more than once.
func (a *Adapter) Close() {
	a.closeOnce.Do(func() {
		if a.cancel != nil {
			a.cancel()
		}
		for _, src := range a.sources {
			src.Close()
		}
		a.wg.Wait()
	})
}
