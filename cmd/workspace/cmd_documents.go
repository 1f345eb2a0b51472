package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"docworkspace/internal/models"
	"docworkspace/internal/session"
)

var uploadClass string

var openCmd = &cobra.Command{
	Use:   "open",
	Short: "Show how the persisted session revalidated against the document service",
	RunE: func(cmd *cobra.Command, args []string) error {
		if errors.Is(openErr, session.ErrAllDropped) {
			fmt.Println("Previously uploaded documents are no longer available. Please upload them again.")
		}
		return printJSON(map[string]any{
			"kept":      opened.Kept,
			"dropped":   opened.Dropped,
			"documents": ws.Documents(),
		})
	},
}

var docsCmd = &cobra.Command{
	Use:   "docs",
	Short: "List the documents of the session",
	RunE: func(cmd *cobra.Command, args []string) error {
		return printJSON(ws.Documents())
	},
}

var uploadCmd = &cobra.Command{
	Use:   "upload <file.pdf>...",
	Short: "Upload, ingest and register one batch of documents",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		class, err := models.ParseStorageClass(uploadClass)
		if err != nil {
			return err
		}
		files := make([]models.LocalFile, 0, len(args))
		for _, path := range args {
			lf, err := models.LocalFileFromPath(path)
			if err != nil {
				return err
			}
			files = append(files, lf)
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()
		st, err := ws.Upload(ctx, class, files)
		if err != nil {
			return err
		}
		logger.Info("upload finished",
			zap.String("batch_id", st.BatchID),
			zap.String("status", string(st.Status)),
			zap.Int("succeeded", st.Succeeded),
			zap.Int("failed", st.Failed),
		)
		return printJSON(st)
	},
}

var resolveCmd = &cobra.Command{
	Use:   "resolve <name-or-id>",
	Short: "Find a session document by file name, display name or id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		doc, ok := ws.Resolve(args[0])
		if !ok {
			return fmt.Errorf("no session document matches %q", args[0])
		}
		return printJSON(doc)
	},
}

var removeCmd = &cobra.Command{
	Use:   "remove <name-or-id>",
	Short: "Remove a document from the session and the document service",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()
		doc, err := ws.Remove(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("removed %s (%s)\n", doc.DisplayName, doc.DocID)
		return nil
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear the document service storage and the whole session",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()
		res, err := ws.Reset(ctx)
		if err != nil {
			return err
		}
		return printJSON(res)
	},
}

func init() {
	uploadCmd.Flags().StringVar(&uploadClass, "class", string(models.StorageBulk), "Storage class: bulk, fresh or viewer")
}
