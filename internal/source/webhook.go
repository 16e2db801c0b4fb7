// internal/source/webhook.go
package source

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/colebrumley/tapguard/internal/config"
)

// MaxWebhookBody caps how much of a request body is read into event data.
const MaxWebhookBody = 64 * 1024

const defaultSecretHeader = "X-Webhook-Secret"

var (
	ErrMethodNotAllowed = errors.New("method not allowed")
	ErrUnauthorized     = errors.New("missing or invalid webhook secret")
	ErrQueueFull        = errors.New("event queue full")
	ErrBadBody          = errors.New("unreadable request body")
)

// Webhook turns HTTP requests on a path into events. The daemon's shared
// HTTP server routes requests here.
type Webhook struct {
	ruleName       string
	listenPath     string
	allowedMethods map[string]bool
	requireSecret  bool
	secretHeader   string
	secret         string
}

var _ Source = (*Webhook)(nil)

// NewWebhook creates a new webhook source. The secret is read from the
// configured environment variable once, at creation.
func NewWebhook(ruleName string, cfg config.Source) (*Webhook, error) {
	header := cfg.SecretHeader
	if header == "" {
		header = defaultSecretHeader
	}

	var secret string
	if cfg.RequireSecret && cfg.SecretEnvVar != "" {
		secret = os.Getenv(cfg.SecretEnvVar)
	}

	return &Webhook{
		ruleName:       ruleName,
		listenPath:     cfg.ListenPath,
		allowedMethods: eventSet(cfg.AllowedMethods),
		requireSecret:  cfg.RequireSecret,
		secretHeader:   header,
		secret:         secret,
	}, nil
}

func (w *Webhook) RuleName() string {
	return w.ruleName
}

func (w *Webhook) ListenPath() string {
	return w.listenPath
}

// Start blocks until ctx is cancelled; requests arrive via HandleRequest.
func (w *Webhook) Start(ctx context.Context, events chan<- Event) error {
	<-ctx.Done()
	return ctx.Err()
}

func (w *Webhook) Stop() error {
	return nil
}

// HandleRequest validates r and queues a webhook event. A required secret
// that was never configured rejects every request.
func (w *Webhook) HandleRequest(r *http.Request, events chan<- Event) error {
	if len(w.allowedMethods) > 0 && !w.allowedMethods[r.Method] {
		return ErrMethodNotAllowed
	}

	if w.requireSecret {
		got := r.Header.Get(w.secretHeader)
		if w.secret == "" || subtle.ConstantTimeCompare([]byte(got), []byte(w.secret)) != 1 {
			return ErrUnauthorized
		}
	}

	var body []byte
	if r.Body != nil {
		var err error
		if body, err = io.ReadAll(io.LimitReader(r.Body, MaxWebhookBody)); err != nil {
			return fmt.Errorf("%w: %v", ErrBadBody, err)
		}
	}

	headers := make(map[string]string, len(r.Header))
	for k, v := range r.Header {
		if k == http.CanonicalHeaderKey(w.secretHeader) || len(v) == 0 {
			continue
		}
		headers[k] = v[0]
	}

	ev := NewEvent(w.ruleName, "webhook", map[string]any{
		"http_body":    string(body),
		"http_headers": headers,
		"http_method":  r.Method,
		"http_path":    r.URL.Path,
	})
	if !trySend(events, ev) {
		return ErrQueueFull
	}
	return nil
}
