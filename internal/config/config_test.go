package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("HTTP_ADDRESS", "")
	t.Setenv("WHISPER_MODEL", "")
	t.Setenv("RETRIEVAL_TOP_K", "")
	cfg := Load()
	require.Equal(t, ":8080", cfg.HTTPAddress)
	require.Equal(t, "whisper-large-v3", cfg.WhisperModel)
	require.Equal(t, 3, cfg.RetrievalTopK)
	require.Equal(t, 700*time.Millisecond, cfg.SilenceThreshold)
	require.Equal(t, 64, cfg.MaxSessions)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("RETRIEVAL_TOP_K", "5")
	t.Setenv("MIN_RELEVANCE", "0.25")
	t.Setenv("IDLE_TIMEOUT", "90s")
	cfg := Load()
	require.Equal(t, 5, cfg.RetrievalTopK)
	require.Equal(t, 0.25, cfg.MinRelevance)
	require.Equal(t, 90*time.Second, cfg.IdleTimeout)
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("RETRIEVAL_TOP_K", "many")
	t.Setenv("IDLE_TIMEOUT", "soon")
	cfg := Load()
	require.Equal(t, 3, cfg.RetrievalTopK)
	require.Equal(t, 60*time.Second, cfg.IdleTimeout)
}
