package publisher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"streamcast/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassification(t *testing.T) {
	base := errors.New("boom")

	assert.True(t, IsTransient(Transient("twitch", base)))
	assert.False(t, IsTransient(Permanent("twitch", base)))
	assert.True(t, IsTransient(context.DeadlineExceeded))
	assert.True(t, IsTransient(base), "unclassified errors default to transient")
	assert.False(t, IsTransient(nil))
}

func TestClassifyStatus(t *testing.T) {
	base := errors.New("remote said no")

	assert.True(t, IsTransient(ClassifyStatus("discord", http.StatusTooManyRequests, base)))
	assert.True(t, IsTransient(ClassifyStatus("discord", http.StatusBadGateway, base)))
	assert.True(t, IsTransient(ClassifyStatus("discord", http.StatusRequestTimeout, base)))
	assert.False(t, IsTransient(ClassifyStatus("discord", http.StatusUnprocessableEntity, base)))
	assert.False(t, IsTransient(ClassifyStatus("discord", http.StatusUnauthorized, base)))
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	reg.Register(NewWebhookPublisher("twitch", "http://localhost/hook", "", 0))
	reg.Register(NewWebhookPublisher("discord", "http://localhost/hook", "", 0))

	p, err := reg.Get("twitch")
	require.NoError(t, err)
	assert.Equal(t, "twitch", p.Name())

	_, err = reg.Get("myspace")
	require.Error(t, err)
	assert.False(t, IsTransient(err), "unknown platform is a permanent failure")

	assert.Equal(t, []string{"discord", "twitch"}, reg.Platforms())
}

func TestWebhookPublish(t *testing.T) {
	var gotKey atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey.Store(r.Header.Get("X-Idempotency-Key"))
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"remote_id":"post-42"}`))
	}))
	defer srv.Close()

	p := NewWebhookPublisher("twitter", srv.URL, "secret", time.Second)
	occ := &models.Occurrence{Title: "go live", Body: "stream at 8", ScheduledFor: time.Now()}

	res, err := p.Publish(context.Background(), occ, "key-1")
	require.NoError(t, err)
	assert.Equal(t, "post-42", res.RemoteID)
	assert.False(t, res.Duplicate)
	assert.Equal(t, "key-1", gotKey.Load())
}

func TestWebhookPublishDuplicateKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"remote_id":"post-42","duplicate":true}`))
	}))
	defer srv.Close()

	p := NewWebhookPublisher("twitter", srv.URL, "", time.Second)
	res, err := p.Publish(context.Background(), &models.Occurrence{}, "key-1")
	require.NoError(t, err, "a consumed key is not a failure")
	assert.True(t, res.Duplicate)
	assert.Equal(t, "post-42", res.RemoteID)
}

func TestWebhookPublishFailureClassification(t *testing.T) {
	status := http.StatusInternalServerError
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"error":"nope"}`))
	}))
	defer srv.Close()

	p := NewWebhookPublisher("instagram", srv.URL, "", time.Second)

	_, err := p.Publish(context.Background(), &models.Occurrence{}, "key-1")
	require.Error(t, err)
	assert.True(t, IsTransient(err))

	status = http.StatusBadRequest
	_, err = p.Publish(context.Background(), &models.Occurrence{}, "key-2")
	require.Error(t, err)
	assert.False(t, IsTransient(err))
}

func TestWebhookPublishTimeoutIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	p := NewWebhookPublisher("twitch", srv.URL, "", time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := p.Publish(ctx, &models.Occurrence{}, "key-1")
	require.Error(t, err)
	assert.True(t, IsTransient(err))
}
