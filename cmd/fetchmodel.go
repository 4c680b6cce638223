package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"audio-transcriber/internal/config"
	"audio-transcriber/internal/models"
)

var fetchModelCmd = &cobra.Command{
	Use:   "fetch-model [model-id]",
	Short: "Download a whisper.cpp model into the model directory",
	Long: `fetch-model downloads one of the built-in whisper.cpp model presets.
Run without arguments to list available models.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.FromEnv()
		if err != nil {
			return err
		}
		dir := modelDir(cfg)

		if len(args) == 0 {
			for _, model := range models.List(dir) {
				status := ""
				if model.Downloaded {
					status = " (downloaded)"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-16s %-10s %s%s\n",
					model.ID, model.SizeLabel, model.Description, status)
			}
			return nil
		}

		fmt.Fprintf(cmd.OutOrStdout(), "downloading %s to %s\n", args[0], dir)
		path, err := models.NewDownloader().Fetch(cmd.Context(), args[0], dir)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "saved %s\n", path)
		fmt.Fprintf(cmd.OutOrStdout(), "set TRANSCRIBER_MODEL_PATH=%s to use it\n", path)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(fetchModelCmd)
}

// modelDir derives the download directory from the configured model path.
func modelDir(cfg config.Config) string {
	ext := filepath.Ext(cfg.ModelPath)
	if ext == ".bin" || ext == ".gguf" {
		return filepath.Dir(cfg.ModelPath)
	}
	return cfg.ModelPath
}
