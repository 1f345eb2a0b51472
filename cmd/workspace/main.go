// Command workspace drives a document workspace session from the terminal:
// uploading, resolving and removing documents, running selection searches and
// persona analyses, and hosting the embedded viewer in Chrome.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"docworkspace/internal/config"
	"docworkspace/internal/logging"
	"docworkspace/internal/session"
	"docworkspace/internal/workspace"
)

var (
	verbose bool
	timeout time.Duration

	cfg     config.Config
	logger  *zap.Logger
	ws      *workspace.Workspace
	closeWS = func() {}
	opened  session.RevalidateReport
	openErr error
)

var rootCmd = &cobra.Command{
	Use:   "workspace",
	Short: "Work with the documents of one workspace session",
	Long: `workspace manages a session of uploaded documents backed by the document
analysis service.

The session document list is persisted (DOCWS_STORE) and revalidated against
the service whenever a command starts, so commands can be chained.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_ = godotenv.Load(".env")
		cfg = config.Load()
		if verbose {
			cfg.LogLevel = "debug"
		}
		logger = logging.New(cfg)

		var err error
		ws, closeWS, err = workspace.Build(cmd.Context(), cfg, logger)
		if err != nil {
			return fmt.Errorf("build workspace: %w", err)
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()
		opened, openErr = ws.Open(ctx)
		if openErr != nil && !errors.Is(openErr, session.ErrAllDropped) {
			return fmt.Errorf("revalidate session: %w", openErr)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 2*time.Minute, "Operation timeout")

	rootCmd.AddCommand(openCmd)
	rootCmd.AddCommand(docsCmd)
	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(removeCmd)
	rootCmd.AddCommand(resetCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(personaCmd)
	rootCmd.AddCommand(viewCmd)
}

func main() {
	err := rootCmd.Execute()
	closeWS()
	if logger != nil {
		_ = logger.Sync()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
