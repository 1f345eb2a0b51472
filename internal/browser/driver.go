package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/facebookgo/clock"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"

	"docworkspace/internal/lifecycle"
	"docworkspace/internal/logging"
)

const DefaultDrainInterval = 500 * time.Millisecond

var ErrNotStarted = errors.New("browser driver not started")

type Config struct {
	// DebuggerURL attaches to a running Chrome instead of launching one.
	DebuggerURL string
	Bin         string
	Headless    bool
	// ViewerURL is the page hosting the embedded document viewer.
	ViewerURL string
	Drain     time.Duration
}

// Driver drives one Chrome page hosting the document viewer. It implements the
// selection capability interfaces and turns page lifecycle events into
// workspace signals.
type Driver struct {
	cfg   Config
	log   *zap.Logger
	clock clock.Clock

	mu       sync.Mutex
	launch   *launcher.Launcher
	browser  *rod.Browser
	page     *rod.Page
	handlers map[int]func()
	nextID   int
	signals  chan lifecycle.Signal
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func New(cfg Config, log *zap.Logger, clk clock.Clock) *Driver {
	if cfg.Drain <= 0 {
		cfg.Drain = DefaultDrainInterval
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Driver{
		cfg:      cfg,
		log:      logging.OrNop(log),
		clock:    clk,
		handlers: map[int]func(){},
		signals:  make(chan lifecycle.Signal, 4),
	}
}

// Start connects to Chrome, opens the viewer page with the hook installed and
// begins draining page events.
func (d *Driver) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.page != nil {
		return nil
	}

	controlURL := d.cfg.DebuggerURL
	if controlURL == "" {
		l := launcher.New().Headless(d.cfg.Headless)
		if d.cfg.Bin != "" {
			l = l.Bin(d.cfg.Bin)
		}
		u, err := l.Launch()
		if err != nil {
			return fmt.Errorf("launch chrome: %w", err)
		}
		d.launch = l
		controlURL = u
	}

	b := rod.New().ControlURL(controlURL).Context(ctx)
	if err := b.Connect(); err != nil {
		d.cleanupLocked()
		return fmt.Errorf("connect to chrome: %w", err)
	}
	d.browser = b

	page, err := b.Page(proto.TargetCreateTarget{})
	if err != nil {
		d.cleanupLocked()
		return fmt.Errorf("open page: %w", err)
	}
	if _, err := page.EvalOnNewDocument(hookJS); err != nil {
		d.cleanupLocked()
		return fmt.Errorf("install page hook: %w", err)
	}
	if d.cfg.ViewerURL != "" {
		if err := page.Navigate(d.cfg.ViewerURL); err != nil {
			d.cleanupLocked()
			return fmt.Errorf("navigate %s: %w", d.cfg.ViewerURL, err)
		}
		if err := page.WaitLoad(); err != nil {
			d.log.Warn("viewer page load incomplete", zap.Error(err))
		}
	}
	d.page = page

	drainCtx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.wg.Add(1)
	go d.drainLoop(drainCtx, page)
	d.log.Info("viewer page ready", zap.String("url", d.cfg.ViewerURL))
	return nil
}

func (d *Driver) drainLoop(ctx context.Context, page *rod.Page) {
	defer d.wg.Done()
	ticker := d.clock.Ticker(d.cfg.Drain)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res, err := page.Context(ctx).Evaluate(&rod.EvalOptions{
				JS:           drainJS,
				ByValue:      true,
				AwaitPromise: true,
			})
			if err != nil || res == nil || res.Value.Nil() {
				continue
			}
			raw, err := res.Value.MarshalJSON()
			if err != nil {
				continue
			}
			events, err := decodeEvents(raw)
			if err != nil {
				d.log.Debug("page events dropped", zap.Error(err))
				continue
			}
			d.dispatch(events)
		}
	}
}

// dispatch routes drained events to selection handlers and the signal channel.
func (d *Driver) dispatch(events []Event) {
	for _, ev := range events {
		switch ev.Type {
		case "selection_end":
			d.mu.Lock()
			fns := make([]func(), 0, len(d.handlers))
			for _, fn := range d.handlers {
				fns = append(fns, fn)
			}
			d.mu.Unlock()
			for _, fn := range fns {
				fn()
			}
		case "pagehide", "beforeunload", "visibility_hidden":
			sig := lifecycle.Signal(ev.Type)
			select {
			case d.signals <- sig:
			default:
				d.log.Debug("lifecycle signal coalesced", zap.Stringer("signal", sig))
			}
		case "viewer_ready":
			d.log.Debug("embedded viewer ready")
		}
	}
}

// Signals delivers page-hide, before-unload and visibility-hidden events. The
// channel is never closed; consumers stop reading on their own context.
func (d *Driver) Signals() <-chan lifecycle.Signal {
	return d.signals
}

func (d *Driver) OnSelectionEnd(fn func()) (func(), error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.nextID
	d.nextID++
	d.handlers[id] = fn
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		delete(d.handlers, id)
	}, nil
}

func (d *Driver) SelectedContent(ctx context.Context) (string, error) {
	return d.evalString(ctx, selectedContentJS)
}

func (d *Driver) SelectedText(ctx context.Context) (string, error) {
	return d.evalString(ctx, viewerSelectedTextJS)
}

func (d *Driver) NativeSelectedText(ctx context.Context) (string, error) {
	return d.evalString(ctx, nativeSelectionJS)
}

// Navigate loads a document URL into the viewer page.
func (d *Driver) Navigate(ctx context.Context, url string) error {
	page, err := d.current()
	if err != nil {
		return err
	}
	if err := page.Context(ctx).Navigate(url); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return nil
}

// GotoPage moves the embedded viewer to a 1-based page. It reports false when
// the viewer has not exposed a navigation API.
func (d *Driver) GotoPage(ctx context.Context, n int) (bool, error) {
	page, err := d.current()
	if err != nil {
		return false, err
	}
	res, err := page.Context(ctx).Evaluate(rod.Eval(gotoPageJS, n).ByPromise())
	if err != nil {
		return false, fmt.Errorf("goto page %d: %w", n, err)
	}
	var ok bool
	if raw, err := res.Value.MarshalJSON(); err == nil {
		_ = json.Unmarshal(raw, &ok)
	}
	return ok, nil
}

func (d *Driver) evalString(ctx context.Context, js string) (string, error) {
	page, err := d.current()
	if err != nil {
		return "", err
	}
	res, err := page.Context(ctx).Evaluate(&rod.EvalOptions{
		JS:           js,
		ByValue:      true,
		AwaitPromise: true,
	})
	if err != nil {
		return "", err
	}
	if res == nil || res.Value.Nil() {
		return "", nil
	}
	raw, err := res.Value.MarshalJSON()
	if err != nil {
		return "", err
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", fmt.Errorf("page returned non-string: %w", err)
	}
	return s, nil
}

func (d *Driver) current() (*rod.Page, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.page == nil {
		return nil, ErrNotStarted
	}
	return d.page, nil
}

// Close stops draining, closes the page and, when the driver launched it, the
// browser.
func (d *Driver) Close() error {
	d.mu.Lock()
	cancel := d.cancel
	d.cancel = nil
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	d.wg.Wait()

	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cleanupLocked()
}

func (d *Driver) cleanupLocked() error {
	var err error
	if d.page != nil {
		_ = d.page.Close()
		d.page = nil
	}
	// An attached browser belongs to someone else; only drop the connection.
	if d.browser != nil && d.launch != nil {
		err = d.browser.Close()
	}
	d.browser = nil
	if d.launch != nil {
		d.launch.Kill()
		d.launch.Cleanup()
		d.launch = nil
	}
	return err
}
