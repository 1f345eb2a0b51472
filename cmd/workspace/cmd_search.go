package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"docworkspace/internal/search"
	"docworkspace/internal/util"
)

var (
	withInsights bool
	audioOut     string
	audioVoice   string
	personaName  string
	personaJob   string
)

var searchCmd = &cobra.Command{
	Use:   "search <text>...",
	Short: "Run the selection search for a piece of text",
	Long: `search feeds the text through the same debounced pipeline a viewer
selection goes through and prints the matches once they arrive.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		done := make(chan search.Snapshot, 1)
		unsubscribe := ws.SubscribeSearch(func(s search.Snapshot) {
			if s.Status == search.StatusFound || s.Status == search.StatusNoResults {
				select {
				case done <- s:
				default:
				}
			}
		})
		defer unsubscribe()

		ws.Select(strings.Join(args, " "))
		if ws.Search().Status == search.StatusIdle {
			return fmt.Errorf("selection is shorter than %d characters", cfg.SelectionMinLength)
		}

		var snap search.Snapshot
		select {
		case snap = <-done:
		case <-time.After(timeout):
			return fmt.Errorf("search timed out after %s", timeout)
		}
		if snap.LastError != "" {
			return fmt.Errorf("search failed: %s", snap.LastError)
		}
		if !withInsights && audioOut == "" {
			return printJSON(snap)
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()
		insights, err := ws.Insights(ctx)
		if err != nil {
			return err
		}
		out := map[string]any{"search": snap, "insights": insights}
		if audioOut != "" {
			audio, err := ws.Audio(ctx, insights, audioVoice)
			if err != nil {
				return err
			}
			if audio.Error != "" {
				return fmt.Errorf("audio generation failed: %s", audio.Error)
			}
			if err := util.WriteTextAtomic(audioOut, audio.Script); err != nil {
				return fmt.Errorf("write audio script: %w", err)
			}
			out["audio"] = audio
		}
		return printJSON(out)
	},
}

var personaCmd = &cobra.Command{
	Use:   "persona",
	Short: "Analyze every session document for a persona and job",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()
		res, err := ws.Analyze(ctx, personaName, personaJob)
		if err != nil {
			return err
		}
		return printJSON(res)
	},
}

func init() {
	searchCmd.Flags().BoolVar(&withInsights, "insights", false, "Also generate insights for the matches")
	searchCmd.Flags().StringVar(&audioOut, "audio-out", "", "Generate the audio overview and write its script to this file")
	searchCmd.Flags().StringVar(&audioVoice, "voice", "", "Voice for the audio overview")

	personaCmd.Flags().StringVar(&personaName, "persona", "", "Who is reading (required)")
	personaCmd.Flags().StringVar(&personaJob, "job", "", "What they need to get done (required)")
	_ = personaCmd.MarkFlagRequired("persona")
	_ = personaCmd.MarkFlagRequired("job")
}
