// Package store persists finished call records to Supabase storage. The
// call path never blocks on it; archive failures are logged and dropped.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/supabase-community/supabase-go"

	"github.com/menalkhan12/ist-voice-agent/internal/metrics"
)

// TurnRecord is one exchange of a finished call, in conversational order.
type TurnRecord struct {
	Index     int                  `json:"index"`
	UserText  string               `json:"user_text"`
	AgentText string               `json:"agent_text"`
	Outcome   string               `json:"outcome"`
	Timings   metrics.StageTimings `json:"timings"`
}

// CallRecord is the durable transcript of one finished call.
type CallRecord struct {
	CallID      string       `json:"call_id"`
	StartedAt   time.Time    `json:"started_at"`
	EndedAt     time.Time    `json:"ended_at"`
	Turns       []TurnRecord `json:"turns"`
	Escalated   bool         `json:"escalated"`
	PhoneNumber string       `json:"phone_number,omitempty"`
	EndReason   string       `json:"end_reason,omitempty"`
}

// Archiver persists call records.
type Archiver interface {
	Archive(ctx context.Context, rec CallRecord) error
}

// SupabaseArchiver writes one JSON object per call into a storage bucket.
type SupabaseArchiver struct {
	client *supabase.Client
	bucket string
}

// NewSupabaseArchiver connects to Supabase, or returns nil when the project
// is not configured so the server runs without persistence.
func NewSupabaseArchiver(url, serviceRoleKey, bucket string) (*SupabaseArchiver, error) {
	if url == "" || serviceRoleKey == "" {
		return nil, nil
	}
	if bucket == "" {
		bucket = "call-records"
	}
	client, err := supabase.NewClient(url, serviceRoleKey, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("create supabase client: %w", err)
	}
	return &SupabaseArchiver{client: client, bucket: bucket}, nil
}

// Archive uploads the record as records/<call_id>.json.
func (a *SupabaseArchiver) Archive(ctx context.Context, rec CallRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal call record: %w", err)
	}
	key := "records/" + rec.CallID + ".json"
	if _, err := a.client.Storage.UploadFile(a.bucket, key, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("upload call record: %w", err)
	}
	log.Debug().Str("call_id", rec.CallID).Str("key", key).Msg("call record archived")
	return nil
}
