// Package notify tells the recipient their greeting is ready.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bobarin/saludo/internal/logging"
	"github.com/rs/zerolog"
)

const (
	DefaultResendURL = "https://api.resend.com"
	Subject          = "¡Tu Saludo Mágico de Papá Noel está listo! 🎄"
)

// ErrNotConfigured is returned when no Resend key was provided.
var ErrNotConfigured = errors.New("email delivery not configured")

// DeliveryError is a rejected or failed send.
type DeliveryError struct {
	To         string
	StatusCode int
	Body       string
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("email to %s failed: %v", logging.Redact(e.To), e.Err)
	}
	return fmt.Sprintf("email to %s rejected with status %d: %s", logging.Redact(e.To), e.StatusCode, e.Body)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Notifier is what the worker calls once a video is published.
type Notifier interface {
	NotifyReady(ctx context.Context, to, nombre, videoURL string) error
}

var readyEmail = template.Must(template.New("ready").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"></head>
<body style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto; padding: 20px;">
  <div style="text-align: center; margin-bottom: 30px;">
    <h1 style="color: #0033A0;">¡Tu Saludo Mágico está listo!</h1>
  </div>
  <p style="font-size: 16px; line-height: 1.6;">Hola {{.Nombre}},</p>
  <p style="font-size: 16px; line-height: 1.6;">
    Tu Saludo Mágico de Papá Noel está listo para compartir. ¡Hacé clic en el botón para verlo!
  </p>
  <div style="text-align: center; margin: 30px 0;">
    <a href="{{.VideoURL}}" style="background-color: #0033A0; color: white; padding: 15px 30px; text-decoration: none; border-radius: 5px; font-size: 18px; display: inline-block;">Ver mi Video Mágico</a>
  </div>
  <p style="font-size: 14px; color: #666; margin-top: 30px;">¡Felices Fiestas Mágicas! 🎄✨</p>
</body>
</html>`))

// Resend sends mail through the Resend HTTP API.
type Resend struct {
	apiKey  string
	from    string
	baseURL string
	client  *http.Client
	log     zerolog.Logger
}

func NewResend(apiKey, from string, log zerolog.Logger) *Resend {
	return &Resend{
		apiKey:  apiKey,
		from:    from,
		baseURL: DefaultResendURL,
		client:  &http.Client{Timeout: 30 * time.Second},
		log:     logging.Component(log, "notify"),
	}
}

// WithBaseURL points the client at another endpoint, used by tests.
func (r *Resend) WithBaseURL(url string) *Resend {
	r.baseURL = strings.TrimRight(url, "/")
	return r
}

func (r *Resend) Configured() bool { return r.apiKey != "" }

type resendRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
}

func (r *Resend) NotifyReady(ctx context.Context, to, nombre, videoURL string) error {
	if !r.Configured() {
		return ErrNotConfigured
	}

	var body bytes.Buffer
	if err := readyEmail.Execute(&body, struct{ Nombre, VideoURL string }{nombre, videoURL}); err != nil {
		return fmt.Errorf("failed to render email: %w", err)
	}

	payload, err := json.Marshal(resendRequest{
		From:    r.from,
		To:      []string{to},
		Subject: Subject,
		HTML:    body.String(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal email: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/emails", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+r.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return &DeliveryError{To: to, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &DeliveryError{To: to, StatusCode: resp.StatusCode, Body: string(b)}
	}

	r.log.Info().Str("to", logging.Redact(to)).Msg("ready email sent")
	return nil
}
