package lifecycle

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// FromOS maps process signals onto workspace signals: SIGINT and SIGTERM mean
// the session is being closed, SIGHUP that its terminal went away. The returned
// channel is closed when ctx is done.
func FromOS(ctx context.Context) <-chan Signal {
	raw := make(chan os.Signal, 1)
	signal.Notify(raw, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	out := make(chan Signal, 1)
	go func() {
		defer close(out)
		defer signal.Stop(raw)
		for {
			select {
			case <-ctx.Done():
				return
			case s := <-raw:
				sig := SignalBeforeUnload
				if s == syscall.SIGHUP {
					sig = SignalPageHide
				}
				select {
				case out <- sig:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

// Watch forwards every signal from sources to g until ctx is done or all
// sources are closed. onSignal, when set, runs after each Handle.
func Watch(ctx context.Context, g *Guard, onSignal func(Outcome), sources ...<-chan Signal) {
	merged := make(chan Signal)
	done := make(chan struct{})
	for _, src := range sources {
		go func(src <-chan Signal) {
			defer func() { done <- struct{}{} }()
			for {
				select {
				case <-ctx.Done():
					return
				case sig, ok := <-src:
					if !ok {
						return
					}
					select {
					case merged <- sig:
					case <-ctx.Done():
						return
					}
				}
			}
		}(src)
	}
	open := len(sources)
	for open > 0 {
		select {
		case <-ctx.Done():
			for ; open > 0; open-- {
				<-done
			}
			return
		case <-done:
			open--
		case sig := <-merged:
			out := g.Handle(sig)
			if onSignal != nil {
				onSignal(out)
			}
		}
	}
}
