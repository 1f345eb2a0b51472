package lifecycle

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"docworkspace/internal/logging"
	"docworkspace/internal/models"
)

// Signal is a reason the workspace session is ending or may end at any moment.
type Signal string

const (
	SignalPageHide     Signal = "pagehide"
	SignalBeforeUnload Signal = "beforeunload"
	SignalHidden       Signal = "visibility_hidden"
)

func (s Signal) String() string { return string(s) }

// Drainer atomically empties the session and hands back what it held.
type Drainer interface {
	Clear(ctx context.Context) ([]models.SessionDocument, error)
}

// Dispatcher issues a remote deletion that the caller never waits on.
type Dispatcher interface {
	DispatchDelete(docIDs []string)
}

// Outcome describes what one Handle call did.
type Outcome struct {
	Signal     Signal   `json:"signal"`
	Dispatched []string `json:"dispatched"`
}

// Guard releases session resources when the workspace is left. Handle is safe
// to call any number of times from any goroutine; only the call that finds
// documents in the registry dispatches a deletion.
type Guard struct {
	mu       sync.Mutex
	registry Drainer
	remote   Dispatcher
	flushers []func()
	log      *zap.Logger
}

func NewGuard(registry Drainer, remote Dispatcher, log *zap.Logger, flushers ...func()) *Guard {
	return &Guard{
		registry: registry,
		remote:   remote,
		flushers: flushers,
		log:      logging.OrNop(log),
	}
}

// AddFlusher registers a session-local cache reset run on every Handle.
func (g *Guard) AddFlusher(fn func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.flushers = append(g.flushers, fn)
}

// Handle clears the registry, dispatches deletion of the documents it held and
// flushes session caches. Failures are logged and swallowed.
func (g *Guard) Handle(sig Signal) Outcome {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := Outcome{Signal: sig}
	removed, err := g.registry.Clear(context.Background())
	if err != nil {
		g.log.Warn("lifecycle clear incomplete", zap.Stringer("signal", sig), zap.Error(err))
	}
	for _, d := range removed {
		out.Dispatched = append(out.Dispatched, d.DocID)
	}
	if len(out.Dispatched) > 0 && g.remote != nil {
		g.remote.DispatchDelete(out.Dispatched)
	}
	for _, fn := range g.flushers {
		g.flush(sig, fn)
	}
	g.log.Info("workspace released",
		zap.Stringer("signal", sig),
		zap.Int("documents", len(out.Dispatched)),
	)
	return out
}

func (g *Guard) flush(sig Signal, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			g.log.Error("session flush panicked", zap.Stringer("signal", sig), zap.Any("panic", r))
		}
	}()
	fn()
}
