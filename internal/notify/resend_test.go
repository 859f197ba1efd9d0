package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotifyReadySendsEmail(t *testing.T) {
	var got resendRequest
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/emails", r.URL.Path)
		auth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"id":"email-1"}`))
	}))
	defer srv.Close()

	n := NewResend("re_key", "Papá Noel <noreply@example.com>", zerolog.Nop()).WithBaseURL(srv.URL)
	err := n.NotifyReady(context.Background(), "sofia@example.com", "Sofía", "https://cdn.example.com/videos/abc.mp4")
	require.NoError(t, err)

	assert.Equal(t, "Bearer re_key", auth)
	assert.Equal(t, []string{"sofia@example.com"}, got.To)
	assert.Equal(t, Subject, got.Subject)
	assert.Contains(t, got.HTML, "Hola Sofía")
	assert.Contains(t, got.HTML, `href="https://cdn.example.com/videos/abc.mp4"`)
}

func TestNotifyReadyEscapesName(t *testing.T) {
	var got resendRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
	}))
	defer srv.Close()

	n := NewResend("k", "f", zerolog.Nop()).WithBaseURL(srv.URL)
	require.NoError(t, n.NotifyReady(context.Background(), "a@b.co", "<script>", "https://x"))
	assert.NotContains(t, got.HTML, "<script>")
}

func TestNotifyReadyRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"message":"invalid to"}`))
	}))
	defer srv.Close()

	err := NewResend("k", "f", zerolog.Nop()).WithBaseURL(srv.URL).
		NotifyReady(context.Background(), "bad@example.com", "X", "https://x")

	var de *DeliveryError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, http.StatusUnprocessableEntity, de.StatusCode)
	assert.Contains(t, de.Body, "invalid to")
	assert.NotContains(t, de.Error(), "bad@example.com")
}

func TestNotifyReadyNotConfigured(t *testing.T) {
	err := NewResend("", "f", zerolog.Nop()).NotifyReady(context.Background(), "a@b.co", "X", "https://x")
	assert.ErrorIs(t, err, ErrNotConfigured)
}
