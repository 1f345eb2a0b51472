package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"docworkspace/internal/browser"
	"docworkspace/internal/lifecycle"
	"docworkspace/internal/search"
)

var viewPage int

var viewCmd = &cobra.Command{
	Use:   "view [name-or-id]",
	Short: "Host the document viewer in Chrome and search what gets selected",
	Long: `view opens the viewer page (DOCWS_VIEWER_URL) in Chrome, launched or attached
through DOCWS_BROWSER_DEBUGGER_URL, and optionally shows a session document.

Text selected in the viewer is searched across the session. Closing the page,
or interrupting the command, releases the session: its documents are removed
locally and a deletion is sent to the document service.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runView,
}

func runView(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	d := browser.New(browser.Config{
		DebuggerURL: cfg.BrowserDebuggerURL,
		Bin:         cfg.BrowserBin,
		Headless:    cfg.BrowserHeadless,
		ViewerURL:   cfg.ViewerURL,
		Drain:       cfg.BrowserDrain(),
	}, logger, nil)
	if err := d.Start(ctx); err != nil {
		return fmt.Errorf("start viewer: %w", err)
	}
	defer func() {
		if err := d.Close(); err != nil {
			logger.Warn("close viewer", zap.Error(err))
		}
	}()

	ws.SetNavigator(d)
	ws.AttachViewer(ctx, d)
	defer ws.DetachViewer()

	if len(args) == 1 {
		v, err := ws.OpenDocument(ctx, args[0], viewPage)
		if err != nil {
			return err
		}
		logger.Info("document opened", zap.String("doc_id", v.DocID), zap.Int("page", v.Page))
	}

	unsubscribe := ws.SubscribeSearch(func(s search.Snapshot) {
		switch s.Status {
		case search.StatusFound:
			fmt.Printf("%q: %d match(es)\n", s.Selection.Normalized, len(s.Matches))
			for _, m := range s.Matches {
				fmt.Printf("  %.2f  %s p.%d  %s\n", m.Score, m.Filename, m.Page, m.Title)
			}
		case search.StatusNoResults:
			fmt.Printf("%q: no results\n", s.Selection.Normalized)
		}
	})
	defer unsubscribe()

	logger.Info("viewer ready", zap.String("url", cfg.ViewerURL))
	lifecycle.Watch(ctx, ws.Guard(), func(out lifecycle.Outcome) {
		logger.Info("session released",
			zap.String("signal", out.Signal.String()),
			zap.Strings("dispatched", out.Dispatched),
		)
		if out.Signal != lifecycle.SignalHidden {
			cancel()
		}
	}, lifecycle.FromOS(ctx), d.Signals())
	return nil
}

func init() {
	viewCmd.Flags().IntVar(&viewPage, "page", 1, "Page to open the document at")
}
