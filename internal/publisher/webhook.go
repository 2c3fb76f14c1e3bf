package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"streamcast/internal/models"
)

// idempotencyHeader carries the minted key so the remote side can
// deduplicate redelivered attempts.
const idempotencyHeader = "X-Idempotency-Key"

// WebhookPublisher posts occurrence content to a platform ingest
// endpoint. The concrete wire format of each platform's native API is
// out of scope here; every supported platform is reached through a
// configured endpoint that accepts this JSON shape.
type WebhookPublisher struct {
	name     string
	endpoint string
	token    string
	client   *http.Client
}

type webhookPayload struct {
	Title       string   `json:"title"`
	Body        string   `json:"body"`
	ContentType string   `json:"content_type"`
	Hashtags    string   `json:"hashtags,omitempty"`
	Mentions    string   `json:"mentions,omitempty"`
	MediaFiles  []string `json:"media_files,omitempty"`
	ScheduledAt string   `json:"scheduled_at"`
}

type webhookResponse struct {
	RemoteID  string `json:"remote_id"`
	Duplicate bool   `json:"duplicate"`
	Error     string `json:"error"`
}

func NewWebhookPublisher(name, endpoint, token string, timeout time.Duration) *WebhookPublisher {
	if timeout <= 0 {
		timeout = models.DefaultPublishTimeoutSeconds * time.Second
	}
	return &WebhookPublisher{
		name:     name,
		endpoint: endpoint,
		token:    token,
		client:   &http.Client{Timeout: timeout},
	}
}

func (p *WebhookPublisher) Name() string { return p.name }

func (p *WebhookPublisher) Publish(ctx context.Context, occ *models.Occurrence, idempotencyKey string) (*Result, error) {
	payload := webhookPayload{
		Title:       occ.Title,
		Body:        occ.Body,
		ContentType: occ.ContentType,
		Hashtags:    occ.Hashtags,
		Mentions:    occ.Mentions,
		MediaFiles:  occ.MediaFiles,
		ScheduledAt: occ.ScheduledFor.UTC().Format(time.RFC3339),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, Permanent(p.name, fmt.Errorf("encode payload: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, Permanent(p.name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(idempotencyHeader, idempotencyKey)
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, Transient(p.name, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, Transient(p.name, fmt.Errorf("read response: %w", err))
	}

	var decoded webhookResponse
	if len(raw) > 0 {
		// Tolerate non-JSON bodies on errors; status code decides.
		_ = json.Unmarshal(raw, &decoded)
	}

	// 409 means the platform already consumed this idempotency key.
	if resp.StatusCode == http.StatusConflict {
		return &Result{RemoteID: decoded.RemoteID, Duplicate: true, PublishedAt: time.Now()}, nil
	}

	if resp.StatusCode >= 400 {
		cause := fmt.Errorf("status %d: %s", resp.StatusCode, firstLine(decoded.Error, raw))
		return nil, ClassifyStatus(p.name, resp.StatusCode, cause)
	}

	return &Result{
		RemoteID:    decoded.RemoteID,
		Duplicate:   decoded.Duplicate,
		PublishedAt: time.Now(),
	}, nil
}

func firstLine(msg string, raw []byte) string {
	if msg != "" {
		return msg
	}
	if len(raw) > 200 {
		raw = raw[:200]
	}
	return string(raw)
}
