package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/leonardotrapani/voskbind/internal/models"
	"github.com/spf13/cobra"
)

func modelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "model",
		Short: "Manage Vosk models",
	}

	cmd.AddCommand(modelListCmd())
	cmd.AddCommand(modelDownloadCmd())
	cmd.AddCommand(modelRemoveCmd())

	return cmd
}

func modelListCmd() *cobra.Command {
	var lang string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List downloadable models",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runModelList(os.Stdout, lang)
		},
	}

	cmd.Flags().StringVar(&lang, "lang", "", "filter by language tag (e.g. en-us)")
	return cmd
}

func runModelList(w io.Writer, lang string) error {
	list := models.ListModels()
	if lang != "" {
		list = models.ListByLanguage(strings.ToLower(lang))
		if len(list) == 0 {
			return fmt.Errorf("no models for language: %s", lang)
		}
	}

	for _, m := range list {
		prefix := "  [ ]"
		if models.IsInstalled(m.ID) {
			prefix = "  [x]"
		}
		fmt.Fprintf(w, "%s %s - %s [%s, %s]\n", prefix, m.ID, m.Name, m.Language, m.Size)
	}
	return nil
}

func modelDownloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "download <model-id>",
		Short: "Download and install a model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd)
			defer cancel()
			return runModelDownload(ctx, os.Stdout, args[0])
		},
	}
}

func runModelDownload(ctx context.Context, w io.Writer, modelID string) error {
	model := models.GetModel(modelID)
	if model == nil {
		return fmt.Errorf("unknown model: %s (see voskbind model list)", modelID)
	}

	if models.IsInstalled(modelID) {
		fmt.Fprintf(w, "model '%s' is already installed at %s\n", modelID, models.GetModelPath(modelID))
		return nil
	}

	fmt.Fprintf(w, "downloading %s (%s)...\n", modelID, model.Size)

	lastPercent := -10
	err := models.Download(ctx, modelID, func(downloaded, total int64) {
		if total > 0 {
			percent := int(downloaded * 100 / total)
			if percent >= lastPercent+10 {
				fmt.Fprintf(w, "%d%% ", percent)
				lastPercent = percent
			}
		}
	})
	if err != nil {
		return fmt.Errorf("download failed: %w", err)
	}

	fmt.Fprintf(w, "\ndownload complete: %s\n", models.GetModelPath(modelID))
	return nil
}

func modelRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <model-id>",
		Short: "Remove an installed model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runModelRemove(os.Stdout, args[0])
		},
	}
}

func runModelRemove(w io.Writer, modelID string) error {
	if models.GetModel(modelID) == nil {
		return fmt.Errorf("unknown model: %s", modelID)
	}
	if !models.IsInstalled(modelID) {
		return fmt.Errorf("model '%s' is not installed", modelID)
	}
	if err := models.Remove(modelID); err != nil {
		return fmt.Errorf("failed to remove model: %w", err)
	}

	fmt.Fprintf(w, "model '%s' removed successfully\n", modelID)
	return nil
}
