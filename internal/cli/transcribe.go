package cli

import (
	"errors"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/sjawhar/meetscribe/internal/config"
	"github.com/sjawhar/meetscribe/internal/failure"
	"github.com/sjawhar/meetscribe/internal/segment"
	"github.com/sjawhar/meetscribe/internal/transcribe"
)

func newTranscribeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "transcribe FILE",
		Short: "Transcribe a recorded audio file with Deepgram",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			cfg, _, err := config.Load(path)
			if err != nil {
				return err
			}
			if cfg.DeepgramAPIKey == "" {
				return errors.New("no Deepgram API key configured; set MEETSCRIBE_DEEPGRAM_API_KEY")
			}

			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			mimeType, _ := cmd.Flags().GetString("mime-type")
			if mimeType == "" {
				mimeType = mime.TypeByExtension(filepath.Ext(args[0]))
			}

			client := transcribe.NewClient(cfg.DeepgramBaseURL, &http.Client{Timeout: cfg.ParsedHTTPTimeout()})
			text, err := client.Transcribe(cmd.Context(), segment.Segment{Data: data, MimeType: mimeType}, cfg.DeepgramAPIKey)
			if err != nil {
				return errors.New(failure.Message(err))
			}
			if text == "" {
				fmt.Fprintln(cmd.ErrOrStderr(), "(no speech detected)")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), text)
			return nil
		},
	}
	cmd.Flags().String("mime-type", "", "content type of FILE (guessed from the extension when empty)")
	return cmd
}
