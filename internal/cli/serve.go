package cli

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sjawhar/meetscribe/internal/audio"
	"github.com/sjawhar/meetscribe/internal/config"
	"github.com/sjawhar/meetscribe/internal/gdrive"
	"github.com/sjawhar/meetscribe/internal/live"
	"github.com/sjawhar/meetscribe/internal/llm"
	"github.com/sjawhar/meetscribe/internal/mail"
	"github.com/sjawhar/meetscribe/internal/media"
	"github.com/sjawhar/meetscribe/internal/notify"
	"github.com/sjawhar/meetscribe/internal/pdf"
	"github.com/sjawhar/meetscribe/internal/segment"
	"github.com/sjawhar/meetscribe/internal/server"
	"github.com/sjawhar/meetscribe/internal/session"
	"github.com/sjawhar/meetscribe/internal/storage"
	"github.com/sjawhar/meetscribe/internal/summary"
	"github.com/sjawhar/meetscribe/internal/transcribe"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the recorder and its HTTP/WebSocket API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			cfg, warnings, err := config.Load(path)
			if err != nil {
				return err
			}
			for _, w := range warnings {
				log.Printf("warning: %s", w)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, warnings)
		},
	}
}

func serve(ctx context.Context, cfg config.Config, warnings []string) error {
	log.Println("meetscribe: starting")

	store, err := storage.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("storage init failed: %w", err)
	}
	defer func() { _ = store.Close() }()

	if err := audio.Initialize(); err != nil {
		return fmt.Errorf("audio init failed: %w", err)
	}
	defer func() { _ = audio.Terminate() }()

	platform := audio.NewPlatform(audio.PlatformConfig{
		SampleRate:      cfg.SampleRate,
		FramesPerBuffer: cfg.FramesPerBuffer,
		SystemDevice:    cfg.SystemAudioDevice,
	})

	hub := server.NewHub()
	notifier := notify.NewChannel(notify.DefaultTimeout, hub)

	// The recognizer reads the key lazily, after the orchestrator exists.
	var orch *session.Orchestrator
	apiKey := func() string {
		if orch == nil {
			return cfg.DeepgramAPIKey
		}
		return orch.APIKey()
	}

	orch, err = session.New(session.Deps{
		Store:          store,
		Acquirer:       media.NewAcquirer(platform, cfg.SampleRate),
		Live:           live.New(live.NewDeepgram(apiKey, cfg.DeepgramLanguage), live.DefaultRestartDelay),
		Recorder:       segment.NewRecorder(audio.NewFFmpegEncoder()),
		Remote:         transcribe.NewClient(cfg.DeepgramBaseURL, &http.Client{Timeout: cfg.ParsedHTTPTimeout()}),
		Notifier:       notifier,
		Events:         hub,
		FallbackAPIKey: cfg.DeepgramAPIKey,
	})
	if err != nil {
		return fmt.Errorf("session init failed: %w", err)
	}

	summarizer := summary.New(cfg, func(model string) (llm.Client, error) {
		return llm.NewFromModel(model, cfg.ProviderKey)
	})
	deps := server.Deps{
		Controller: orch,
		History:    store,
		Summarizer: summarizer,
		Renderer:   pdf.NewRenderer("Meeting Summary", "meetscribe"),
		Notifier:   notifier,
		Warnings:   func() []string { return warnings },
	}

	if cfg.MailEnabled() {
		dispatcher, err := mail.NewDispatcher(mail.Config{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
		})
		if err != nil {
			log.Printf("warning: mail dispatch disabled: %v", err)
		} else {
			deps.Mailer = dispatcher
		}
	}

	if cfg.GDriveFolderID != "" {
		archiver, err := gdrive.NewArchiver(ctx, cfg.GoogleCredentialsFile, cfg.GDriveFolderID)
		if err != nil {
			log.Printf("warning: gdrive archive disabled: %v", err)
		} else {
			deps.Archiver = archiver
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		orch.Run(ctx)
	}()

	err = server.Serve(ctx, cfg.ListenAddr, server.Handler(hub, deps))
	log.Println("meetscribe: shutting down")
	cancel()
	<-done
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
