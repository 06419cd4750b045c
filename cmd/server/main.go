package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/menalkhan12/ist-voice-agent/internal/audio"
	"github.com/menalkhan12/ist-voice-agent/internal/config"
	"github.com/menalkhan12/ist-voice-agent/internal/dialog"
	"github.com/menalkhan12/ist-voice-agent/internal/gateway"
	"github.com/menalkhan12/ist-voice-agent/internal/httpserver"
	"github.com/menalkhan12/ist-voice-agent/internal/knowledge"
	"github.com/menalkhan12/ist-voice-agent/internal/logging"
	"github.com/menalkhan12/ist-voice-agent/internal/metrics"
	"github.com/menalkhan12/ist-voice-agent/internal/session"
	"github.com/menalkhan12/ist-voice-agent/internal/store"
	"github.com/menalkhan12/ist-voice-agent/internal/telephony"
)

func main() {
	cfg := config.Load()
	logging.Init(cfg.LogLevel, cfg.LogFormat)

	// Knowledge corpus. The server still starts when nothing loads; the
	// store then serves its embedded fallback document only.
	embedder := gateway.NewOpenAIEmbedder(cfg.EmbeddingsKey, cfg.EmbeddingsURL, cfg.EmbeddingsModel, cfg.GatewayTimeout)
	var kstore *knowledge.Store
	if embedder != nil {
		kstore = knowledge.NewStore(embedder)
	} else {
		kstore = knowledge.NewStore(nil)
	}
	loadCtx, cancelLoad := context.WithTimeout(context.Background(), 30*time.Second)
	if err := kstore.Load(loadCtx, cfg.KnowledgeDir); err != nil {
		var le *knowledge.LoadError
		if errors.As(err, &le) {
			log.Error().Err(err).Str("dir", cfg.KnowledgeDir).
				Msg("knowledge corpus unavailable - serving embedded fallback document only")
		} else {
			log.Error().Err(err).Msg("knowledge load failed")
		}
	} else {
		log.Info().Int("documents", kstore.Len()).Str("dir", cfg.KnowledgeDir).Msg("knowledge corpus loaded")
	}
	cancelLoad()

	// Provider gateways.
	stt := gateway.NewGroqSTT(cfg.GroqAPIKey, cfg.GroqBaseURL, cfg.WhisperModel,
		cfg.STTMaxRetries, cfg.RetryBackoff, cfg.GatewayTimeout)
	llm := gateway.NewGroqLLM(cfg.GroqAPIKey, cfg.GroqBaseURL, cfg.LLMModel,
		cfg.LLMMaxRetries, cfg.RetryBackoff, cfg.GatewayTimeout, cfg.ContextTokenBudget)
	fallback := gateway.NewElevenLabsTTS(cfg.ElevenLabsKey, cfg.ElevenLabsVoiceID, cfg.SynthesisTimeout)
	tts := gateway.NewSpeechSynthesizer(cfg.DeepgramAPIKey, cfg.VoiceEnglish, cfg.VoiceUrdu,
		cfg.SynthesisTimeout, fallback)

	// Call persistence.
	archiver, err := store.NewSupabaseArchiver(cfg.SupabaseURL, cfg.SupabaseServiceRoleKey, cfg.SupabaseBucket)
	if err != nil {
		log.Error().Err(err).Msg("supabase unavailable - call records will not be persisted")
	}
	if archiver == nil {
		log.Warn().Msg("no archiver configured - call records will not be persisted")
	}

	pipeline := session.NewPipeline(stt, kstore, llm, tts,
		dialog.NewEscalationTracker(cfg.MinRelevance),
		session.PipelineConfig{
			TopK:             cfg.RetrievalTopK,
			HistoryWindow:    cfg.HistoryWindow,
			SynthesisTimeout: cfg.SynthesisTimeout,
		})
	recorder := metrics.NewRecorder()

	var registry *session.Registry
	if archiver != nil {
		registry = session.NewRegistry(pipeline, recorder, archiver, cfg.IdleTimeout, cfg.MaxSessions)
	} else {
		registry = session.NewRegistry(pipeline, recorder, nil, cfg.IdleTimeout, cfg.MaxSessions)
	}

	srv := httpserver.New(cfg.HTTPAddress, httpserver.Deps{
		Registry:  registry,
		Knowledge: kstore,
		AudioConfig: audio.Config{
			SampleRate:       48000,
			SilenceThreshold: cfg.SilenceThreshold,
			MinSpeech:        cfg.MinSpeech,
		},
		Providers: map[string]bool{
			"groq":       cfg.GroqAPIKey != "",
			"deepgram":   cfg.DeepgramAPIKey != "",
			"elevenlabs": cfg.ElevenLabsKey != "",
			"twilio":     cfg.TwilioAuthToken != "",
			"supabase":   archiver != nil,
		},
	})

	if cfg.TwilioAuthToken != "" {
		telephony.New(telephony.Config{
			AccountSID: cfg.TwilioAccountSID,
			AuthToken:  cfg.TwilioAuthToken,
		}, registry).RegisterRoutes(srv.Echo())
	} else {
		log.Warn().Msg("TWILIO_AUTH_TOKEN not set - telephony webhooks disabled")
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.HTTPAddress).Msg("server listening")
		serverErrors <- srv.Start()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil {
			log.Fatal().Err(err).Msg("server error")
		}
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("shutdown signal received")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
	registry.Shutdown(ctx)
}
